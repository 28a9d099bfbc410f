// Package errors provides error handling for tessera.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Markers so callers can classify failures with Is
//
// Usage:
//
//	// Wrap with context
//	if err := os.Remove(path); err != nil {
//	    return errors.WrapIO(err, "delete version data", path)
//	}
//
//	// Classify
//	if errors.Is(err, errors.ErrNotFound) {
//	    // unknown dataset or version
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Error inspection
var (
	Is         = crdb.Is
	IsAny      = crdb.IsAny
	As         = crdb.As
	Unwrap     = crdb.Unwrap
	UnwrapOnce = crdb.UnwrapOnce
	UnwrapAll  = crdb.UnwrapAll
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors making up the tessera failure taxonomy.
// Callers classify with errors.Is; producers attach them with Mark or the
// helpers below so the original cause and its stack survive.
var (
	// ErrNotFound indicates an unknown dataset or version id
	ErrNotFound = New("not found")

	// ErrLockPoisoned indicates a writer panicked while holding the registry lock
	ErrLockPoisoned = New("lock poisoned")

	// ErrIO indicates a filesystem operation failed
	ErrIO = New("io failure")

	// ErrSerialization indicates malformed or unencodable metadata
	ErrSerialization = New("serialization failure")

	// ErrInvalidTransition indicates a tree insert or stage move that would break lineage
	ErrInvalidTransition = New("invalid transition")

	// ErrInvalidRequest indicates malformed caller input (bad parameters, unknown transform)
	ErrInvalidRequest = New("invalid request")
)

// WrapIO marks err as an IO failure and records the operation and path.
func WrapIO(err error, op, path string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrapf(err, "%s %s", op, path)
	return WithDetailf(Mark(wrapped, ErrIO), "operation=%s path=%s", op, path)
}

// WrapSerialization marks err as a serialization failure of the named document.
func WrapSerialization(err error, what string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrapf(err, "serialize %s", what), ErrSerialization)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}

// NewInvalidTransitionError creates an invalid-transition error with a formatted message
func NewInvalidTransitionError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidTransition)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}
