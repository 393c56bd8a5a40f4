package services

import "context"

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	courseIDKey  contextKey = "course_id"
	requestIDKey contextKey = "request_id"
)

// WithSessionID annotates context with the attendance session identifier.
func WithSessionID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the attendance session identifier if present.
func SessionIDFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(sessionIDKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithCourseID annotates context with the course identifier.
func WithCourseID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, courseIDKey, id)
}

// CourseIDFromContext extracts the course identifier if present.
func CourseIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(courseIDKey).(int64)
	return id, ok
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
