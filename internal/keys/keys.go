// Package keys provides agent identities and the signature contract used by
// the pipeline: ed25519 over canonical bytes, public keys in hex.
package keys

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/Daironode/aingle-sub000/internal/ir"
)

// Signer signs on behalf of one agent.
type Signer interface {
	AgentKey() ir.AgentKey
	Sign(data []byte) ([]byte, error)
}

// Ed25519Signer holds an agent's private key in memory.
type Ed25519Signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewSigner wraps an existing private key.
func NewSigner(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{pub: priv.Public().(ed25519.PublicKey), priv: priv}
}

// Generate creates a signer with a fresh random key.
func Generate() (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return NewSigner(priv), nil
}

// FromSeed derives a signer from a 32-byte seed. Tests use it for stable keys.
func FromSeed(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed: expected %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return NewSigner(ed25519.NewKeyFromSeed(seed)), nil
}

// LoadOrGenerate loads a private key from path, or generates a new one and
// saves it if the file doesn't exist. The file holds the 64-byte ed25519
// private key.
func LoadOrGenerate(path string) (*Ed25519Signer, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("invalid key file: expected %d bytes, got %d", ed25519.PrivateKeySize, len(data))
		}
		return NewSigner(ed25519.PrivateKey(data)), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	s, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(s.priv), 0600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return s, nil
}

// AgentKey returns the hex public key.
func (s *Ed25519Signer) AgentKey() ir.AgentKey {
	return ir.AgentKey(hex.EncodeToString(s.pub))
}

// Sign signs data with the agent's key.
func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, data), nil
}

// Verify checks sig over data against agent. Malformed keys verify false.
func Verify(agent ir.AgentKey, data, sig []byte) bool {
	pub := agent.Bytes()
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
}

// SignAction signs an action as its author.
func SignAction(s Signer, a ir.Action) (ir.SignedAction, error) {
	if a.Author != s.AgentKey() {
		return ir.SignedAction{}, fmt.Errorf("sign action: signer %s is not author %s", s.AgentKey(), a.Author)
	}
	sig, err := s.Sign(a.SigningBytes())
	if err != nil {
		return ir.SignedAction{}, fmt.Errorf("sign action: %w", err)
	}
	return ir.SignedAction{Action: a, Signature: sig}, nil
}

// VerifyAction checks the signature against the action's stated author.
func VerifyAction(sa ir.SignedAction) bool {
	return Verify(sa.Action.Author, sa.Action.SigningBytes(), sa.Signature)
}

// SignReceipt signs a receipt as its validator.
func SignReceipt(s Signer, r ir.Receipt) (ir.SignedReceipt, error) {
	r.Validator = s.AgentKey()
	sig, err := s.Sign(r.SigningBytes())
	if err != nil {
		return ir.SignedReceipt{}, fmt.Errorf("sign receipt: %w", err)
	}
	return ir.SignedReceipt{Receipt: r, Signature: sig}, nil
}

// VerifyReceipt checks a receipt's signature against its validator.
func VerifyReceipt(r ir.SignedReceipt) bool {
	return Verify(r.Receipt.Validator, r.Receipt.SigningBytes(), r.Signature)
}
