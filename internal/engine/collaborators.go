package engine

import (
	"context"
	"fmt"

	"github.com/Daironode/aingle-sub000/internal/ir"
)

// Network is the transport collaborator. Implementations own their own
// timeout and retry policy and report only success or failure.
type Network interface {
	// Publish sends ops to the authorities for basis.
	Publish(ctx context.Context, basis ir.Hash, ops []ir.Op) error

	// Fetch asks peers for the ops of the action (or entry) with hash h.
	Fetch(ctx context.Context, h ir.Hash) ([]ir.Op, error)

	// SendReceipt delivers a validation receipt to an op's author.
	SendReceipt(ctx context.Context, to ir.AgentKey, r ir.SignedReceipt) error
}

// Deps lets app validation read dependencies from the local store.
// *store.Store satisfies it.
type Deps interface {
	GetAction(ctx context.Context, h ir.Hash) (ir.SignedAction, bool, error)
	GetEntry(ctx context.Context, h ir.Hash) (ir.Entry, bool, error)
}

// AppValidation is the application validation collaborator. It is called
// once per non-activity op after system validation passes.
//
// A returned error means no outcome was produced (the op is retried);
// an invalid op is reported as Invalid, not as an error.
type AppValidation interface {
	Validate(ctx context.Context, op ir.Op, deps Deps) (Outcome, error)
}

// AppValidationFunc adapts a function to AppValidation.
type AppValidationFunc func(ctx context.Context, op ir.Op, deps Deps) (Outcome, error)

// Validate calls f.
func (f AppValidationFunc) Validate(ctx context.Context, op ir.Op, deps Deps) (Outcome, error) {
	return f(ctx, op, deps)
}

// AcceptAll is the app validation used when none is configured.
var AcceptAll = AppValidationFunc(func(context.Context, ir.Op, Deps) (Outcome, error) {
	return Valid(), nil
})

// Verdict is the kind of an app validation outcome.
type Verdict int

const (
	VerdictValid Verdict = iota + 1
	VerdictInvalid
	VerdictUnresolved
)

func (v Verdict) String() string {
	switch v {
	case VerdictValid:
		return "valid"
	case VerdictInvalid:
		return "invalid"
	case VerdictUnresolved:
		return "unresolved"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Outcome is the result of app validation.
type Outcome struct {
	Verdict Verdict
	Reason  string
	Missing []ir.Hash
}

// Valid accepts the op.
func Valid() Outcome { return Outcome{Verdict: VerdictValid} }

// Invalid rejects the op with a reason.
func Invalid(reason string) Outcome { return Outcome{Verdict: VerdictInvalid, Reason: reason} }

// Unresolved defers the op until the listed hashes are available.
func Unresolved(missing ...ir.Hash) Outcome {
	return Outcome{Verdict: VerdictUnresolved, Missing: missing}
}
