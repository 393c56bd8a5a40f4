package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnauthenticated  = fmt.Errorf("unauthenticated: %w", ErrPermissionDenied)
	ErrForbidden        = fmt.Errorf("forbidden: %w", ErrPermissionDenied)
	ErrConflict         = errors.New("conflict")
	ErrNotFound         = errors.New("not found")
	ErrTransient        = errors.New("transient failure")
	ErrValidation       = errors.New("validation error")
	ErrConfiguration    = errors.New("configuration error")
)

// Error kinds carried across the HTTP boundary.
const (
	KindPermissionDenied = "permission_denied"
	KindUnauthenticated  = "unauthenticated"
	KindForbidden        = "forbidden"
	KindConflict         = "conflict"
	KindNotFound         = "not_found"
	KindTransient        = "transient"
	KindValidation       = "validation"
	KindConfiguration    = "configuration"
	KindInternal         = "internal"
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind classifies err by its most specific marker.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindInternal
	}
}

// FromKind returns the marker for a kind reported by a remote peer, or nil for
// unknown kinds.
func FromKind(kind string) error {
	switch strings.TrimSpace(kind) {
	case KindUnauthenticated:
		return ErrUnauthenticated
	case KindForbidden:
		return ErrForbidden
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindValidation:
		return ErrValidation
	case KindConfiguration:
		return ErrConfiguration
	case KindTransient:
		return ErrTransient
	default:
		return nil
	}
}

// HTTPStatus maps an error to the status code the API reports for it.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case "":
		return http.StatusOK
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden, KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the operation unchanged.
func Retryable(err error) bool {
	return Kind(err) == KindTransient
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
