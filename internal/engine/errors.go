package engine

import (
	"errors"
	"fmt"

	"github.com/Daironode/aingle-sub000/internal/ir"
)

// StageError is a failure of one stage pass that the caller should see.
// The op it names keeps its prior status and is retried on the next trigger.
//
// Validation outcomes are never StageErrors: a rejected op is a result, not
// a failure.
type StageError struct {
	// Code identifies the error category.
	Code StageErrorCode

	// Stage is the stage that failed (ingest, sys, app, integrate, receipt).
	Stage string

	// Op is the op being processed, if any.
	Op ir.Hash

	// Err is the underlying cause.
	Err error
}

// StageErrorCode categorizes stage errors.
type StageErrorCode string

const (
	// ErrCodeStorage indicates a store read or write failed.
	ErrCodeStorage StageErrorCode = "STORAGE"

	// ErrCodeNetwork indicates a network collaborator call failed.
	ErrCodeNetwork StageErrorCode = "NETWORK"

	// ErrCodeAppValidation indicates the app validation collaborator failed
	// to produce an outcome.
	ErrCodeAppValidation StageErrorCode = "APP_VALIDATION"

	// ErrCodeInvariant indicates a programming error. Pipeline.Run stops on it.
	ErrCodeInvariant StageErrorCode = "INVARIANT"
)

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s stage (op=%s): %v", e.Code, e.Stage, e.Op.Short(), e.Err)
	}
	return fmt.Sprintf("%s: %s stage: %v", e.Code, e.Stage, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StageError) Unwrap() error { return e.Err }

// IsInvariant returns true if err is or wraps a programming error.
// Uses errors.As to handle wrapped errors.
func IsInvariant(err error) bool {
	var se *StageError
	if errors.As(err, &se) && se.Code == ErrCodeInvariant {
		return true
	}
	return ir.IsInvariant(err)
}

// IsStorage returns true if err is a storage StageError.
func IsStorage(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Code == ErrCodeStorage
}

// IsNetwork returns true if err is a network StageError.
func IsNetwork(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Code == ErrCodeNetwork
}

// storageError wraps a store failure. Invariant errors surfacing from the
// store keep their own code.
func storageError(stage string, op ir.Hash, err error) error {
	code := ErrCodeStorage
	if ir.IsInvariant(err) {
		code = ErrCodeInvariant
	}
	return &StageError{Code: code, Stage: stage, Op: op, Err: err}
}

func invariantError(stage string, op ir.Hash, msg string) error {
	return &StageError{Code: ErrCodeInvariant, Stage: stage, Op: op, Err: &ir.InvariantError{Op: op, Message: msg}}
}
