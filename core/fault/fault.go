// Package fault carries the machine-readable error kinds shared by the
// protocol and record-keeping packages and the HTTP surface.
package fault

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error kind.
type Kind string

const (
	KindForbidden         Kind = "FORBIDDEN"
	KindUnauthenticated   Kind = "UNAUTHENTICATED"
	KindNotFound          Kind = "NOT_FOUND"
	KindInvalidInput      Kind = "INVALID_INPUT"
	KindAlreadyLocked     Kind = "ALREADY_LOCKED"
	KindAlreadyFinalized  Kind = "ALREADY_FINALIZED"
	KindEmptyContent      Kind = "EMPTY_CONTENT"
	KindLedgerUnavailable Kind = "LEDGER_UNAVAILABLE"
	KindIndeterminate     Kind = "INDETERMINATE"
	KindInternal          Kind = "INTERNAL_FAULT"
)

// Error is the domain error type.
type Error struct {
	Kind    Kind   // Machine-readable kind
	Message string // Human-readable message, safe to show callers
	Cause   error  // Wrapped underlying error, never shown to callers
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a domain error with a kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of err, or KindInternal for errors that carry none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage returns the message safe to expose to callers. Internal
// faults never leak their cause.
func PublicMessage(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Kind != KindInternal {
		return fe.Message
	}
	return "internal error"
}
