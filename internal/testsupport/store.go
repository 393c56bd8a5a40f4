package testsupport

import (
	"context"
	"fmt"
	"testing"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
)

// MustOpenStore opens an attendance.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *attendance.Store {
	t.Helper()

	store, err := attendance.Open(cfg)
	if err != nil {
		t.Fatalf("attendance.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Course is a seeded course with its instructor and enrolled students.
type Course struct {
	Instructor attendance.User
	Course     attendance.Course
	Students   []attendance.User
}

// InstructorPrincipal returns the principal of the owning instructor.
func (c Course) InstructorPrincipal() auth.Principal {
	return c.Instructor.Principal()
}

// StudentIDs returns the enrolled student identifiers in roster order.
func (c Course) StudentIDs() []int64 {
	ids := make([]int64, 0, len(c.Students))
	for _, s := range c.Students {
		ids = append(ids, s.ID)
	}
	return ids
}

// SeedCourse creates an instructor, a course, and n enrolled students.
func SeedCourse(t testing.TB, store *attendance.Store, name string, students int) Course {
	t.Helper()
	ctx := context.Background()

	instructor, err := store.CreateUser(ctx, "Instructor "+name, fmt.Sprintf("instructor-%s@example.edu", name), auth.RoleInstructor)
	if err != nil {
		t.Fatalf("create instructor: %v", err)
	}
	course, err := store.CreateCourse(ctx, name, instructor.ID)
	if err != nil {
		t.Fatalf("create course: %v", err)
	}
	seeded := Course{Instructor: *instructor, Course: *course}
	for i := 0; i < students; i++ {
		student, err := store.CreateUser(ctx,
			fmt.Sprintf("Student %s %02d", name, i+1),
			fmt.Sprintf("student-%s-%02d@example.edu", name, i+1),
			auth.RoleStudent,
		)
		if err != nil {
			t.Fatalf("create student: %v", err)
		}
		if err := store.Enroll(ctx, course.ID, student.ID); err != nil {
			t.Fatalf("enroll student: %v", err)
		}
		seeded.Students = append(seeded.Students, *student)
	}
	return seeded
}

// MustCreateUser inserts a user or fails the test.
func MustCreateUser(t testing.TB, store *attendance.Store, name string, role auth.Role) attendance.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), name, fmt.Sprintf("%s-%s@example.edu", role, sanitize(name)), role)
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return *user
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}
