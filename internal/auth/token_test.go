package auth_test

import (
	"errors"
	"testing"
	"time"

	"rollcall/internal/auth"
	"rollcall/internal/services"
)

const secret = "test-secret-0123456789"

func TestIssueVerifyRoundTrip(t *testing.T) {
	tokens := auth.NewTokens(secret, "rollcall", time.Hour)
	want := auth.Principal{UserID: 9, Name: "Ada", Role: auth.RoleInstructor}

	raw, err := tokens.Issue(want)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := tokens.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != want {
		t.Fatalf("principal mismatch: got %+v want %+v", got, want)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	tokens := auth.NewTokens(secret, "rollcall", time.Minute).WithClock(func() time.Time { return issuedAt })
	raw, err := tokens.Issue(auth.Principal{UserID: 1, Role: auth.RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	tokens.WithClock(func() time.Time { return issuedAt.Add(2 * time.Minute) })
	if _, err := tokens.Verify(raw); !errors.Is(err, services.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestVerifyRejectsForeignSecretAndIssuer(t *testing.T) {
	raw, err := auth.NewTokens("another-secret-000000", "rollcall", time.Hour).Issue(auth.Principal{UserID: 1, Role: auth.RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := auth.NewTokens(secret, "rollcall", time.Hour).Verify(raw); !errors.Is(err, services.ErrUnauthenticated) {
		t.Fatalf("expected signature failure, got %v", err)
	}

	raw, err = auth.NewTokens(secret, "elsewhere", time.Hour).Issue(auth.Principal{UserID: 1, Role: auth.RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := auth.NewTokens(secret, "rollcall", time.Hour).Verify(raw); !errors.Is(err, services.ErrUnauthenticated) {
		t.Fatalf("expected issuer failure, got %v", err)
	}
}

func TestVerifyEmptyToken(t *testing.T) {
	_, err := auth.NewTokens(secret, "rollcall", time.Hour).Verify("  ")
	if services.Kind(err) != services.KindUnauthenticated {
		t.Fatalf("expected unauthenticated kind, got %q", services.Kind(err))
	}
}

func TestPrincipalCapabilities(t *testing.T) {
	admin := auth.Principal{UserID: 1, Role: auth.RoleAdmin}
	owner := auth.Principal{UserID: 2, Role: auth.RoleInstructor}
	other := auth.Principal{UserID: 3, Role: auth.RoleInstructor}
	student := auth.Principal{UserID: 4, Role: auth.RoleStudent}

	if !admin.CanManage(2) || !owner.CanManage(2) {
		t.Fatal("admin and owner must manage the course")
	}
	if other.CanManage(2) || student.CanManage(4) {
		t.Fatal("non-owners must not manage the course")
	}
	if !student.CanViewStudent(4) || student.CanViewStudent(5) {
		t.Fatal("students may only view themselves")
	}
}

func TestParseRoleAcceptsTeacherAlias(t *testing.T) {
	role, err := auth.ParseRole("Teacher")
	if err != nil || role != auth.RoleInstructor {
		t.Fatalf("unexpected role %q err %v", role, err)
	}
	if _, err := auth.ParseRole("janitor"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
