package ir

import (
	"errors"
	"fmt"
)

// InvariantError reports a programming error: data that the pipeline's own
// producers should never have created, such as a StoreEntry op without an
// entry. It is never the result of validating untrusted input.
type InvariantError struct {
	Op      Hash
	Message string
}

func (e *InvariantError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("invariant violation (op=%s): %s", e.Op.Short(), e.Message)
	}
	return "invariant violation: " + e.Message
}

// IsInvariant reports whether err is or wraps an InvariantError.
func IsInvariant(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
