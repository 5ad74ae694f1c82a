// Package apperr defines the closed set of domain error kinds surfaced by the
// HTTP services and the helpers to construct and classify them.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed error-kind enum exposed in error response bodies.
type Kind string

// The five error kinds. Anything else leaving a service boundary is a bug.
const (
	KindURLNotFound         Kind = "URL_NOT_FOUND"
	KindURLExpired          Kind = "URL_EXPIRED"
	KindInvalidInput        Kind = "INVALID_INPUT"
	KindURLGenerationFailed Kind = "URL_GENERATION_FAILED"
	KindInternal            Kind = "INTERNAL_SERVER_ERROR"
)

// HTTPStatus maps a kind to its HTTP response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindURLNotFound, KindURLExpired:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a kind, a client-safe message and an optional
// wrapped cause. The cause is logged server-side, never serialized.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf extracts the kind from an error chain. Unknown errors are internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// MessageOf extracts the client-safe message from an error chain. Unknown
// errors collapse to a generic message so internals never leak to clients.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}
