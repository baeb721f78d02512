// Package apperr is the exchange's error taxonomy. Every error that can
// cross a package boundary and reach an HTTP response is a *Error with a
// Kind drawn from a closed set; callers switch on Kind, never on message
// text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	Unauthenticated    Kind = "UNAUTHENTICATED"
	Forbidden          Kind = "FORBIDDEN"
	NotFound           Kind = "NOT_FOUND"
	Conflict           Kind = "CONFLICT"
	Validation         Kind = "VALIDATION"
	InsufficientFunds  Kind = "INSUFFICIENT_FUNDS"
	StorageUnavailable Kind = "STORAGE_UNAVAILABLE"
	TransientUpstream  Kind = "TRANSIENT_UPSTREAM"
	Invariant          Kind = "INVARIANT"
)

// Error is the exchange's sole error type for anything that should carry a
// stable machine-readable code to the API boundary.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error. details, if given, is merged verbatim into the
// response envelope; pass nil when there is nothing structured to attach.
func New(kind Kind, msg string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: msg, Details: details}
}

// Wrap attaches kind/msg to an underlying error, preserving it for
// errors.Is/As and logging while keeping the outward Kind stable.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// Of extracts the apperr.Error from err, if any.
func Of(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or Invariant if err is not an *Error —
// an unclassified error reaching the boundary is itself a bug.
func KindOf(err error) Kind {
	if e, ok := Of(err); ok {
		return e.Kind
	}
	return Invariant
}

// HTTPStatus maps a Kind to the status code the API layer should answer
// with.
func HTTPStatus(k Kind) int {
	switch k {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Validation:
		return http.StatusBadRequest
	case InsufficientFunds:
		return http.StatusUnprocessableEntity
	case StorageUnavailable, TransientUpstream:
		return http.StatusServiceUnavailable
	case Invariant:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
