// Package apperr defines the failure kinds returned by the verification components.
// The API layer maps each kind to a response; none of them are retried.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a locally detected failure.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthorization
	KindNotFound
	KindState
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// Error is a typed failure carrying a human-readable reason.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Common failures shared across packages.
var (
	ErrSessionClosed     = &Error{Kind: KindState, Reason: "session closed"}
	ErrSessionNotFound   = &Error{Kind: KindNotFound, Reason: "session not found"}
	ErrRecordNotFound    = &Error{Kind: KindNotFound, Reason: "attendance record not found"}
	ErrRequestNotFound   = &Error{Kind: KindNotFound, Reason: "qr port request not found"}
	ErrNotSessionOwner   = &Error{Kind: KindAuthorization, Reason: "not the owner of this session"}
	ErrPortUnavailable   = &Error{Kind: KindAuthorization, Reason: "qr port not approved or session closed"}
	ErrRequestNotPending = &Error{Kind: KindState, Reason: "request is not pending"}
)

// Forbidden reports a missing role or ownership.
func Forbidden(format string, args ...any) error {
	return &Error{Kind: KindAuthorization, Reason: fmt.Sprintf(format, args...)}
}

// State reports an operation that is invalid in the current state.
func State(format string, args ...any) error {
	return &Error{Kind: KindState, Reason: fmt.Sprintf(format, args...)}
}

// Invalid reports malformed input.
func Invalid(err error, format string, args ...any) error {
	return &Error{Kind: KindValidation, Reason: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
