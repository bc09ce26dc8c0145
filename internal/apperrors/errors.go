// Package apperrors defines the shared failure vocabulary for the portal core.
// Backend-specific HTTP statuses are translated into one of these kinds at the
// call site, so callers branch on kind rather than on status codes.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure independently of the backend that produced it.
type Kind int

const (
	// KindUnknown is the zero value and should never be returned deliberately.
	KindUnknown Kind = iota
	// KindAuthenticationExpired means the caller's token is invalid or expired
	// and a fresh login is required.
	KindAuthenticationExpired
	// KindPermissionDenied means the authenticated principal is not allowed to
	// perform the operation.
	KindPermissionDenied
	// KindBadInput means the request itself was malformed or conflicts with
	// existing state in a way the caller can fix.
	KindBadInput
	// KindNotFound means the referenced object does not exist.
	KindNotFound
	// KindInvalidOperation means the operation is valid in general but not in
	// the object's current state (includes conflicts).
	KindInvalidOperation
	// KindUnsupportedOperation means the backend does not implement the
	// requested capability at all.
	KindUnsupportedOperation
	// KindCommunicationError means the backend misbehaved or could not be
	// reached; the request may succeed on retry.
	KindCommunicationError
	// KindOperationTimedOut means a bounded wait on the backend was exhausted.
	KindOperationTimedOut
	// KindImproperlyConfigured means a required backend object is missing.
	// This is a deployment error, not a request error.
	KindImproperlyConfigured
)

func (k Kind) String() string {
	switch k {
	case KindAuthenticationExpired:
		return "authentication expired"
	case KindPermissionDenied:
		return "permission denied"
	case KindBadInput:
		return "bad input"
	case KindNotFound:
		return "not found"
	case KindInvalidOperation:
		return "invalid operation"
	case KindUnsupportedOperation:
		return "unsupported operation"
	case KindCommunicationError:
		return "communication error"
	case KindOperationTimedOut:
		return "operation timed out"
	case KindImproperlyConfigured:
		return "improperly configured"
	default:
		return "unknown error"
	}
}

// Error is the typed error carried across the portal core. It wraps an
// optional cause so errors.Is/As keep working through it.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same kind, so callers can use
// errors.Is(err, apperrors.NotFound("")) style sentinels or IsKind below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New returns a typed error with the given kind and message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Convenience constructors, one per kind.

func AuthenticationExpired(format string, args ...any) *Error {
	return New(KindAuthenticationExpired, format, args...)
}

func PermissionDenied(format string, args ...any) *Error {
	return New(KindPermissionDenied, format, args...)
}

func BadInput(format string, args ...any) *Error {
	return New(KindBadInput, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func InvalidOperation(format string, args ...any) *Error {
	return New(KindInvalidOperation, format, args...)
}

func UnsupportedOperation(format string, args ...any) *Error {
	return New(KindUnsupportedOperation, format, args...)
}

func CommunicationError(format string, args ...any) *Error {
	return New(KindCommunicationError, format, args...)
}

func OperationTimedOut(format string, args ...any) *Error {
	return New(KindOperationTimedOut, format, args...)
}

func ImproperlyConfigured(format string, args ...any) *Error {
	return New(KindImproperlyConfigured, format, args...)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// KindOf returns the kind carried by err, or KindUnknown for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// FromStatus maps a backend HTTP status code onto an error kind. Every
// backend call site applies this same mapping.
func FromStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest:
		return KindBadInput
	case http.StatusUnauthorized:
		return KindAuthenticationExpired
	case http.StatusForbidden:
		return KindPermissionDenied
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindInvalidOperation
	default:
		return KindCommunicationError
	}
}

// FromStatusError builds a typed error for an unexpected backend response.
func FromStatusError(status int, operation string) *Error {
	return New(FromStatus(status), "%s: backend returned status %d", operation, status)
}

// HTTPStatus maps an error kind back onto the status the portal's own API
// surface should report.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthenticationExpired:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindBadInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidOperation:
		return http.StatusConflict
	case KindUnsupportedOperation:
		return http.StatusNotImplemented
	case KindOperationTimedOut:
		return http.StatusGatewayTimeout
	case KindCommunicationError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
