// Package apierrors defines the error-kind taxonomy shared by the API and
// enclave services and maps each kind to an HTTP status code.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable error category. The HTTP status for a Kind is
// fixed by Status below and must not be decided ad hoc at call sites.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindUnauthenticated Kind = "unauthenticated"
	KindNotYetResolved Kind = "not-yet-resolved"
	KindForbidden      Kind = "forbidden"
	KindNotFound       Kind = "not-found"
	KindConflict       Kind = "conflict"
	KindGone           Kind = "gone"
	KindRateLimited    Kind = "rate-limited"
	KindUpstream       Kind = "upstream"
	KindNotImplemented Kind = "not-implemented"
	KindInternal       Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindValidation:      http.StatusBadRequest,
	KindUnauthenticated: http.StatusUnauthorized,
	KindNotYetResolved:  http.StatusAccepted,
	KindForbidden:       http.StatusForbidden,
	KindNotFound:        http.StatusNotFound,
	KindConflict:        http.StatusConflict,
	KindGone:            http.StatusGone,
	KindRateLimited:     http.StatusTooManyRequests,
	KindUpstream:        http.StatusBadGateway,
	KindNotImplemented:  http.StatusNotImplemented,
	KindInternal:        http.StatusInternalServerError,
}

// Error is a service error carrying a Kind, a stable Code (distinct from
// Kind when a single Kind covers several conditions, e.g. "mismatch" under
// KindForbidden), a human Message, and optional Details for logging.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the status code for the error's Kind.
func (e *Error) HTTPStatus() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WithDetails attaches a detail key/value and returns the same error for
// chaining.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New builds a Error of the given kind with code == string(kind).
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message}
}

// Newf is New with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// WithCode builds a Error with an explicit Code distinct from its Kind, for
// conditions the taxonomy groups under one HTTP status but several
// programmatic reasons (e.g. forbidden "mismatch:sub" vs "mismatch:scope").
func WithCode(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches an upstream cause to a new Error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message, cause: cause}
}

// As extracts a *Error from err using errors.As.
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Validation, Unauthenticated, ... are convenience constructors mirroring
// the taxonomy in spec §7.
func Validation(msg string) *Error      { return New(KindValidation, msg) }
func Unauthenticated(msg string) *Error { return New(KindUnauthenticated, msg) }
func NotYetResolved(msg string) *Error  { return New(KindNotYetResolved, msg) }
func Forbidden(code, msg string) *Error { return WithCode(KindForbidden, code, msg) }
func NotFound(msg string) *Error        { return New(KindNotFound, msg) }
func Conflict(code, msg string) *Error  { return WithCode(KindConflict, code, msg) }
func Gone(msg string) *Error            { return New(KindGone, msg) }
func RateLimited(msg string) *Error     { return New(KindRateLimited, msg) }
func Upstream(msg string, cause error) *Error {
	return Wrap(KindUpstream, msg, cause)
}
func NotImplemented(msg string) *Error { return New(KindNotImplemented, msg) }
func Internal(msg string, cause error) *Error {
	return Wrap(KindInternal, msg, cause)
}
