// Package apperr defines the stable error taxonomy shared by the reservation
// core and the HTTP layer. Every user-visible failure maps to one Kind plus a
// human-readable detail; transports translate kinds to response codes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindConflict         Kind = "conflict"
	KindInvalidState     Kind = "invalid_state"
	KindInvalidInput     Kind = "invalid_input"
	KindStorage          Kind = "storage_error"
)

// Error carries a kind and a message suitable for API clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Storage wraps a persistence failure. Storage errors are always surfaced,
// never silently swallowed for a mutating call.
func Storage(message string, err error) *Error {
	return &Error{Kind: KindStorage, Message: message, Err: err}
}

// NotFound builds a not-found error for an entity id.
func NotFound(entity, id string) *Error {
	return Newf(KindNotFound, "%s %s not found", entity, id)
}

// KindOf extracts the kind of an error; unclassified errors report as
// storage failures so they surface as server-side errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindStorage
}

// MessageOf extracts the client-facing message of an error.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
