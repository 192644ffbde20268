package ir

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainAction  = "aingle/action/v1"
	DomainEntry   = "aingle/entry/v1"
	DomainOp      = "aingle/op/v1"
	DomainReceipt = "aingle/receipt/v1"
)

// HashSize is the byte length of every content hash.
const HashSize = blake2b.Size256

// Hash is a hex-encoded 32-byte BLAKE2b digest. Agent keys share the same
// textual shape so they can serve as a basis.
type Hash string

// IsZero reports whether the hash is unset.
func (h Hash) IsZero() bool { return h == "" }

// Short returns an abbreviated form for logs.
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// Valid reports whether h decodes to exactly HashSize bytes.
func (h Hash) Valid() bool {
	b, err := hex.DecodeString(string(h))
	return err == nil && len(b) == HashSize
}

// hashWithDomain computes BLAKE2b-256 with domain separation.
// Format: BLAKE2b(domain + 0x00 + data)
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) Hash {
	buf := make([]byte, 0, len(domain)+1+len(data))
	buf = append(buf, domain...)
	buf = append(buf, 0x00)
	buf = append(buf, data...)
	sum := blake2b.Sum256(buf)
	return Hash(hex.EncodeToString(sum[:]))
}

// hashObject hashes an IRObject built by this package. Those objects contain
// only strings, ints, bools and nested objects, so marshaling cannot fail; a
// failure means a builder emitted a forbidden value.
func hashObject(domain string, obj IRObject) Hash {
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		panic(&InvariantError{Message: fmt.Sprintf("%s: canonical encoding failed: %v", domain, err)})
	}
	return hashWithDomain(domain, canonical)
}

// OpHash computes the identity of an operation. Only the variant and the
// action hash participate: two ops that differ only in their optional
// entry are the same op.
func OpHash(t OpType, actionHash Hash) Hash {
	return hashObject(DomainOp, IRObject{
		"type":        IRString(t),
		"action_hash": IRString(actionHash),
	})
}
