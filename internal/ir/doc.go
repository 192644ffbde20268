// Package ir defines the operation model of the validation pipeline.
//
// It holds the source chain types (Action, Entry, SignedAction), the
// nine operation variants with their basis derivation and processing
// order, validation status, and receipts. All content hashes are
// BLAKE2b-256 over RFC 8785 canonical JSON with domain separation.
//
// This package imports nothing internal. Every other package builds on it.
//
// Key design constraints:
//   - Basis derivation reads the action only, never the entry
//   - Op identity is (variant, action hash); entry differences do not split it
//   - No floats and no nulls in hashed encodings
//   - All JSON tags use snake_case
package ir
