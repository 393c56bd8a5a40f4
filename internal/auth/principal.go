package auth

import (
	"context"
	"fmt"
	"strings"
)

// Role is the coarse capability class of a user.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

// ParseRole accepts the canonical role names plus the "teacher" alias.
func ParseRole(value string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(RoleAdmin):
		return RoleAdmin, nil
	case string(RoleInstructor), "teacher":
		return RoleInstructor, nil
	case string(RoleStudent):
		return RoleStudent, nil
	default:
		return "", fmt.Errorf("unknown role %q", value)
	}
}

// Principal is the authenticated caller.
type Principal struct {
	UserID int64
	Name   string
	Role   Role
}

// IsAdmin reports whether the principal bypasses ownership checks.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanManage reports whether the principal may run attendance for a course
// owned by instructorID.
func (p Principal) CanManage(instructorID int64) bool {
	if p.IsAdmin() {
		return true
	}
	return p.Role == RoleInstructor && p.UserID == instructorID
}

// CanViewStudent reports whether the principal may read a student's history.
func (p Principal) CanViewStudent(studentID int64) bool {
	switch p.Role {
	case RoleAdmin, RoleInstructor:
		return true
	case RoleStudent:
		return p.UserID == studentID
	default:
		return false
	}
}

func (p Principal) String() string {
	if p.Name != "" {
		return fmt.Sprintf("%s#%d(%s)", p.Role, p.UserID, p.Name)
	}
	return fmt.Sprintf("%s#%d", p.Role, p.UserID)
}

type contextKey struct{}

// WithPrincipal annotates context with the authenticated principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal if one was attached.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
