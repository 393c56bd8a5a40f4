package services_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"rollcall/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrConflict, "lifecycle", "start", "session already open", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"lifecycle", "start", "session already open"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestForbiddenIsPermissionDenied(t *testing.T) {
	err := services.Wrap(services.ErrForbidden, "lifecycle", "end", "not the owner", nil)
	if !errors.Is(err, services.ErrPermissionDenied) {
		t.Fatal("expected forbidden to match permission denied")
	}
	if errors.Is(err, services.ErrNotFound) {
		t.Fatal("forbidden must stay distinct from not found")
	}
	if kind := services.Kind(err); kind != services.KindForbidden {
		t.Fatalf("expected forbidden kind, got %q", kind)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{services.ErrUnauthenticated, http.StatusUnauthorized},
		{services.ErrForbidden, http.StatusForbidden},
		{services.Wrap(services.ErrPermissionDenied, "camera", "open", "", nil), http.StatusForbidden},
		{services.Wrap(services.ErrNotFound, "store", "get", "", nil), http.StatusNotFound},
		{services.Wrap(services.ErrConflict, "store", "start", "", nil), http.StatusConflict},
		{services.Wrap(services.ErrValidation, "api", "decode", "", nil), http.StatusUnprocessableEntity},
		{services.Wrap(services.ErrTransient, "recognition", "submit", "", nil), http.StatusServiceUnavailable},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := services.HTTPStatus(tt.err); got != tt.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestFromKindRoundTrip(t *testing.T) {
	for _, marker := range []error{
		services.ErrUnauthenticated,
		services.ErrForbidden,
		services.ErrPermissionDenied,
		services.ErrNotFound,
		services.ErrConflict,
		services.ErrValidation,
		services.ErrTransient,
	} {
		got := services.FromKind(services.Kind(marker))
		if !errors.Is(got, marker) {
			t.Fatalf("FromKind(Kind(%v)) = %v", marker, got)
		}
	}
	if services.FromKind("bogus") != nil {
		t.Fatal("expected nil for unknown kind")
	}
}
