// Package errors is the error vocabulary of proofchain.
//
// It re-exports github.com/cockroachdb/errors so every package wraps, hints
// and inspects errors the same way, and defines the sentinel conditions the
// registration pipeline reports to callers.
//
//	if err := store.Register(ctx, rec); err != nil {
//	    return errors.Wrap(err, "persist registration")
//	}
//
//	if errors.Is(err, errors.ErrConflict) {
//	    // content already owned by another signer
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Creation and wrapping
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

// User-facing hints and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// AssertionFailedf reports a broken internal invariant.
var AssertionFailedf = crdb.AssertionFailedf

// Sentinel conditions shared across packages.
// Wrap them with errors.Wrap or errors.Mark to add context while keeping errors.Is working.
var (
	// ErrNotFound indicates the requested record or box does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates malformed caller input
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates the content is already owned by another signer
	ErrConflict = New("resource conflict")

	// ErrServiceUnavailable indicates an external collaborator could not be reached
	ErrServiceUnavailable = New("service unavailable")

	// ErrTimeout indicates an outbound call exceeded its deadline
	ErrTimeout = New("operation timed out")

	// ErrForbidden indicates a policy rejected the request
	ErrForbidden = New("forbidden")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsConflictError checks if an error is or wraps ErrConflict
func IsConflictError(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// IsServiceUnavailableError checks if an error is or wraps ErrServiceUnavailable
func IsServiceUnavailableError(err error) bool {
	return err != nil && Is(err, ErrServiceUnavailable)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}

// Kind names the sentinel class of err for logs and CLI exit reporting.
// Returns "internal" when err matches none of the shared sentinels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrInvalidRequest):
		return "invalid_request"
	case Is(err, ErrConflict):
		return "conflict"
	case Is(err, ErrNotFound):
		return "not_found"
	case Is(err, ErrTimeout):
		return "timeout"
	case Is(err, ErrServiceUnavailable):
		return "unavailable"
	case Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "internal"
	}
}
