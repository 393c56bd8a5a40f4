package attendance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/services"
	"rollcall/internal/testsupport"
)

func TestOpenCreatesSchemaAndReopens(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := attendance.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.CreateUser(context.Background(), "Ada", "ada@example.edu", auth.RoleInstructor); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	users, err := reopened.ListUsers(context.Background(), auth.RoleInstructor)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 || users[0].Name != "Ada" {
		t.Fatalf("expected persisted user, got %+v", users)
	}
}

func TestCreateSessionSingleFlightPerCourse(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	course := testsupport.SeedCourse(t, store, "C", 2)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, course.Course.ID, course.Instructor.ID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.Status != attendance.SessionOpen {
		t.Fatalf("expected open session, got %s", session.Status)
	}
	if _, err := store.CreateSession(ctx, course.Course.ID, course.Instructor.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for second open session, got %v", err)
	}

	other := testsupport.SeedCourse(t, store, "D", 1)
	if _, err := store.CreateSession(ctx, other.Course.ID, other.Instructor.ID); err != nil {
		t.Fatalf("other course should start independently: %v", err)
	}

	if _, err := store.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, err := store.CreateSession(ctx, course.Course.ID, course.Instructor.ID); err != nil {
		t.Fatalf("expected new session after end, got %v", err)
	}
	if _, err := store.ReopenSession(ctx, session.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("continue must not create a second open session, got %v", err)
	}
}

func TestUpsertRecordKeepsOneRowPerPair(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	course := testsupport.SeedCourse(t, store, "C", 1)
	ctx := context.Background()
	session, err := store.CreateSession(ctx, course.Course.ID, course.Instructor.ID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	student := course.Students[0].ID

	first := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	second := first.Add(time.Second)
	for _, at := range []time.Time{first, second} {
		if _, _, err := store.UpsertRecord(ctx, attendance.RecordWrite{
			SessionID: session.ID, StudentID: student,
			Status: attendance.StatusPresent, Origin: attendance.OriginRecognized, At: at,
		}); err != nil {
			t.Fatalf("UpsertRecord: %v", err)
		}
	}

	records, err := store.ListRecordsForSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListRecordsForSession: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(records))
	}
	if !records[0].UpdatedAt.Equal(second) {
		t.Fatalf("expected timestamp of later event %v, got %v", second, records[0].UpdatedAt)
	}
	if records[0].Status != attendance.StatusPresent {
		t.Fatalf("unexpected status %s", records[0].Status)
	}
}

func TestUpsertRecordRejectStale(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	course := testsupport.SeedCourse(t, store, "C", 1)
	ctx := context.Background()
	session, _ := store.CreateSession(ctx, course.Course.ID, course.Instructor.ID)
	student := course.Students[0].ID

	manualAt := time.Date(2026, 3, 2, 9, 0, 10, 0, time.UTC)
	if _, _, err := store.UpsertRecord(ctx, attendance.RecordWrite{
		SessionID: session.ID, StudentID: student,
		Status: attendance.StatusAbsent, Origin: attendance.OriginManual, At: manualAt,
	}); err != nil {
		t.Fatalf("manual upsert: %v", err)
	}

	captured := manualAt.Add(-5 * time.Second)
	record, applied, err := store.UpsertRecord(ctx, attendance.RecordWrite{
		SessionID: session.ID, StudentID: student,
		Status: attendance.StatusPresent, Origin: attendance.OriginRecognized,
		At: captured, CapturedAt: &captured, RejectStale: true,
	})
	if err != nil {
		t.Fatalf("stale upsert: %v", err)
	}
	if applied {
		t.Fatal("expected stale recognition write to be rejected")
	}
	if record.Status != attendance.StatusAbsent || record.Origin != attendance.OriginManual {
		t.Fatalf("manual edit should survive, got %+v", record)
	}
}

func TestSubmitMaterializesAbsentees(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	course := testsupport.SeedCourse(t, store, "C", 30)
	ctx := context.Background()
	session, _ := store.CreateSession(ctx, course.Course.ID, course.Instructor.ID)

	for _, student := range course.Students[:5] {
		if _, _, err := store.UpsertRecord(ctx, attendance.RecordWrite{
			SessionID: session.ID, StudentID: student.ID,
			Status: attendance.StatusPresent, Origin: attendance.OriginRecognized,
		}); err != nil {
			t.Fatalf("UpsertRecord: %v", err)
		}
	}
	if _, _, err := store.SubmitSession(ctx, session.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("submit from open must be rejected by the store, got %v", err)
	}
	if _, err := store.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	submitted, materialized, err := store.SubmitSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("SubmitSession: %v", err)
	}
	if submitted.Status != attendance.SessionSubmitted || submitted.EndedAt == nil {
		t.Fatalf("unexpected submitted session: %+v", submitted)
	}
	if materialized != 25 {
		t.Fatalf("expected 25 materialized records, got %d", materialized)
	}

	records, err := store.ListRecordsForSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListRecordsForSession: %v", err)
	}
	present, absent := 0, 0
	for _, r := range records {
		switch r.Status {
		case attendance.StatusPresent:
			present++
		case attendance.StatusAbsent:
			absent++
			if r.Origin != attendance.OriginManual {
				t.Fatalf("materialized record %d has origin %q, want manual", r.ID, r.Origin)
			}
		}
	}
	if len(records) != 30 || present != 5 || absent != 25 {
		t.Fatalf("expected 30 records (5 present/25 absent), got %d (%d/%d)", len(records), present, absent)
	}
}

func TestSubmittedSessionRejectsMutation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	course := testsupport.SeedCourse(t, store, "C", 1)
	ctx := context.Background()
	session, _ := store.CreateSession(ctx, course.Course.ID, course.Instructor.ID)
	if _, err := store.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, _, err := store.SubmitSession(ctx, session.ID); err != nil {
		t.Fatalf("SubmitSession: %v", err)
	}

	if _, _, err := store.RetakeSession(ctx, session.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("retake: expected conflict, got %v", err)
	}
	if err := store.DeleteSession(ctx, session.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("delete: expected conflict, got %v", err)
	}
	if _, err := store.ReopenSession(ctx, session.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("continue: expected conflict, got %v", err)
	}
	if _, _, err := store.UpsertRecord(ctx, attendance.RecordWrite{
		SessionID: session.ID, StudentID: course.Students[0].ID,
		Status: attendance.StatusPresent, Origin: attendance.OriginManual,
	}); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("upsert: expected conflict, got %v", err)
	}
	records, _ := store.ListRecordsForSession(ctx, session.ID)
	if _, err := store.UpdateRecordStatus(ctx, records[0].ID, attendance.StatusPresent, attendance.OriginManual, time.Time{}); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("update: expected conflict, got %v", err)
	}
}

func TestRetakeClearsLedgerAndReopens(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	course := testsupport.SeedCourse(t, store, "C", 3)
	ctx := context.Background()
	session, _ := store.CreateSession(ctx, course.Course.ID, course.Instructor.ID)
	for _, student := range course.Students {
		if _, _, err := store.UpsertRecord(ctx, attendance.RecordWrite{
			SessionID: session.ID, StudentID: student.ID,
			Status: attendance.StatusPresent, Origin: attendance.OriginRecognized,
		}); err != nil {
			t.Fatalf("UpsertRecord: %v", err)
		}
	}
	if _, err := store.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	reopened, cleared, err := store.RetakeSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("RetakeSession: %v", err)
	}
	if cleared != 3 {
		t.Fatalf("expected 3 cleared records, got %d", cleared)
	}
	if reopened.Status != attendance.SessionOpen || reopened.EndedAt != nil || reopened.LedgerResetAt == nil {
		t.Fatalf("expected reopened session, got %+v", reopened)
	}
	records, _ := store.ListRecordsForSession(ctx, session.ID)
	if len(records) != 0 {
		t.Fatalf("expected empty ledger, got %d records", len(records))
	}
}

func TestTransitionsReportNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.GetSession(ctx, 404); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("get: expected not found, got %v", err)
	}
	if _, err := store.EndSession(ctx, 404); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("end: expected not found, got %v", err)
	}
	if err := store.DeleteSession(ctx, 404); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("delete: expected not found, got %v", err)
	}
	if _, err := store.GetRecord(ctx, 404); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("record: expected not found, got %v", err)
	}
}

func TestDeleteSessionRemovesLedger(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	course := testsupport.SeedCourse(t, store, "C", 1)
	ctx := context.Background()
	session, _ := store.CreateSession(ctx, course.Course.ID, course.Instructor.ID)
	if _, _, err := store.UpsertRecord(ctx, attendance.RecordWrite{
		SessionID: session.ID, StudentID: course.Students[0].ID,
		Status: attendance.StatusPresent, Origin: attendance.OriginManual,
	}); err != nil {
		t.Fatalf("UpsertRecord: %v", err)
	}
	if err := store.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := store.GetSession(ctx, session.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected deleted session, got %v", err)
	}
	history, err := store.ListHistoryForStudent(ctx, course.Students[0].ID)
	if err != nil {
		t.Fatalf("ListHistoryForStudent: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no history after delete, got %d", len(history))
	}
}

func TestDirectoryValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	student := testsupport.MustCreateUser(t, store, "Sam", auth.RoleStudent)
	if _, err := store.CreateCourse(ctx, "Biology", student.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("students must not own courses, got %v", err)
	}
	if _, err := store.CreateUser(ctx, "Sam Again", "STUDENT-sam@example.edu", auth.RoleStudent); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected duplicate email conflict, got %v", err)
	}

	course := testsupport.SeedCourse(t, store, "Chem", 0)
	if err := store.Enroll(ctx, course.Course.ID, course.Instructor.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("instructors cannot be enrolled, got %v", err)
	}
	if err := store.Enroll(ctx, course.Course.ID, student.ID); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if err := store.Enroll(ctx, course.Course.ID, student.ID); err != nil {
		t.Fatalf("second Enroll should be a no-op: %v", err)
	}
	enrolled, err := store.EnrolledStudentIDs(ctx, course.Course.ID, []int64{student.ID, 999})
	if err != nil {
		t.Fatalf("EnrolledStudentIDs: %v", err)
	}
	if !enrolled[student.ID] || enrolled[999] {
		t.Fatalf("unexpected enrollment map %v", enrolled)
	}
	if err := store.Unenroll(ctx, course.Course.ID, student.ID); err != nil {
		t.Fatalf("Unenroll: %v", err)
	}
	if err := store.Unenroll(ctx, course.Course.ID, student.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on second unenroll, got %v", err)
	}
}

func TestHistoryAndSessionCounts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	course := testsupport.SeedCourse(t, store, "C", 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		session, err := store.CreateSession(ctx, course.Course.ID, course.Instructor.ID)
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if i == 0 {
			if _, _, err := store.UpsertRecord(ctx, attendance.RecordWrite{
				SessionID: session.ID, StudentID: course.Students[0].ID,
				Status: attendance.StatusPresent, Origin: attendance.OriginRecognized,
			}); err != nil {
				t.Fatalf("UpsertRecord: %v", err)
			}
		}
		if _, err := store.EndSession(ctx, session.ID); err != nil {
			t.Fatalf("EndSession: %v", err)
		}
		if _, _, err := store.SubmitSession(ctx, session.ID); err != nil {
			t.Fatalf("SubmitSession: %v", err)
		}
	}

	history, err := store.ListHistoryForStudent(ctx, course.Students[0].ID)
	if err != nil {
		t.Fatalf("ListHistoryForStudent: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].CourseName != "C" || history[0].Session != attendance.SessionSubmitted {
		t.Fatalf("unexpected history entry %+v", history[0])
	}
	counts, err := store.CountSessionsByCourse(ctx, []int64{course.Course.ID, 999})
	if err != nil {
		t.Fatalf("CountSessionsByCourse: %v", err)
	}
	if counts[course.Course.ID] != 2 || counts[999] != 0 {
		t.Fatalf("unexpected counts %v", counts)
	}
}
