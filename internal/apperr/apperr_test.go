package apperr

import (
	"errors"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		Unauthenticated:    http.StatusUnauthorized,
		Forbidden:          http.StatusForbidden,
		NotFound:           http.StatusNotFound,
		Conflict:           http.StatusConflict,
		Validation:         http.StatusBadRequest,
		InsufficientFunds:  http.StatusUnprocessableEntity,
		StorageUnavailable: http.StatusServiceUnavailable,
		TransientUpstream:  http.StatusServiceUnavailable,
		Invariant:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(StorageUnavailable, "open database", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestOfExtractsAppError(t *testing.T) {
	err := New(Conflict, "already resolved", nil)
	e, ok := Of(err)
	if !ok || e.Kind != Conflict {
		t.Fatalf("expected Of to extract Conflict, got %+v ok=%v", e, ok)
	}
}

func TestKindOfDefaultsToInvariant(t *testing.T) {
	if KindOf(errors.New("unclassified")) != Invariant {
		t.Fatal("expected an unclassified error to default to Invariant")
	}
}

func TestOfFalseForPlainError(t *testing.T) {
	if _, ok := Of(errors.New("plain")); ok {
		t.Fatal("expected Of to return false for a non-apperr error")
	}
}
