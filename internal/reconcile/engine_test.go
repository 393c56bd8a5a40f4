package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/logging"
	"rollcall/internal/reconcile"
	"rollcall/internal/services"
	"rollcall/internal/testsupport"
)

type fixture struct {
	store   *attendance.Store
	engine  *reconcile.Engine
	course  testsupport.Course
	session *attendance.Session
	base    time.Time
}

func newFixture(t *testing.T, policy reconcile.Policy, students int) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	course := testsupport.SeedCourse(t, store, "R", students)
	session, err := store.CreateSession(context.Background(), course.Course.ID, course.Instructor.ID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	engine := reconcile.NewEngine(store, policy, logging.NewNop())
	base := time.Now().UTC().Add(time.Minute)
	step := 0
	engine.SetClock(func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	})
	return fixture{store: store, engine: engine, course: course, session: session, base: base}
}

func (f fixture) detection(at time.Time, ids ...int64) reconcile.DetectionEvent {
	matches := make([]reconcile.Match, 0, len(ids))
	for _, id := range ids {
		matches = append(matches, reconcile.Match{StudentID: id, Confidence: 0.9})
	}
	return reconcile.DetectionEvent{
		SessionID:   f.session.ID,
		FrameID:     "frame",
		CapturedAt:  at,
		SubmittedAt: at,
		Matches:     matches,
	}
}

func TestApplyDetectionMarksPresentAndDropsUnenrolled(t *testing.T) {
	f := newFixture(t, reconcile.PolicyReceiptOrder, 3)
	ctx := context.Background()
	s := f.course.StudentIDs()

	outcome, err := f.engine.ApplyDetection(ctx, f.detection(f.base, s[0], s[1], s[0], 99999))
	if err != nil {
		t.Fatalf("ApplyDetection: %v", err)
	}
	if len(outcome.Applied) != 2 {
		t.Fatalf("expected duplicates to collapse into 2 writes, got %v", outcome.Applied)
	}
	if len(outcome.Dropped) != 1 || outcome.Dropped[0] != 99999 {
		t.Fatalf("expected unknown student dropped, got %v", outcome.Dropped)
	}
	records, err := f.store.ListRecordsForSession(ctx, f.session.ID)
	if err != nil {
		t.Fatalf("ListRecordsForSession: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, r := range records {
		if r.Status != attendance.StatusPresent || r.Origin != attendance.OriginRecognized {
			t.Fatalf("unexpected record %+v", r)
		}
	}
}

func TestApplyDetectionIgnoresOtherCourseStudents(t *testing.T) {
	f := newFixture(t, reconcile.PolicyReceiptOrder, 1)
	other := testsupport.SeedCourse(t, f.store, "Other", 1)

	outcome, err := f.engine.ApplyDetection(context.Background(), f.detection(f.base, other.Students[0].ID))
	if err != nil {
		t.Fatalf("ApplyDetection: %v", err)
	}
	if len(outcome.Applied) != 0 || len(outcome.Dropped) != 1 {
		t.Fatalf("expected other-course student dropped, got %+v", outcome)
	}
}

func TestReceiptOrderLateResultOverwritesManualEdit(t *testing.T) {
	f := newFixture(t, reconcile.PolicyReceiptOrder, 1)
	ctx := context.Background()
	student := f.course.StudentIDs()[0]
	owner := f.course.InstructorPrincipal()

	if _, err := f.engine.Create(ctx, owner, f.session.ID, student, attendance.StatusAbsent); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// A response for a frame captured before the edit arrives afterwards.
	outcome, err := f.engine.ApplyDetection(ctx, f.detection(f.base.Add(-time.Minute), student))
	if err != nil {
		t.Fatalf("ApplyDetection: %v", err)
	}
	if len(outcome.Applied) != 1 {
		t.Fatalf("expected write applied under receipt order, got %+v", outcome)
	}
	record, err := f.store.RecordForStudent(ctx, f.session.ID, student)
	if err != nil {
		t.Fatalf("RecordForStudent: %v", err)
	}
	if record.Status != attendance.StatusPresent {
		t.Fatalf("expected last arrival to win, got %s", record.Status)
	}
}

func TestCaptureTimeRejectsOlderFrames(t *testing.T) {
	f := newFixture(t, reconcile.PolicyCaptureTime, 1)
	ctx := context.Background()
	student := f.course.StudentIDs()[0]
	owner := f.course.InstructorPrincipal()

	if _, err := f.engine.Create(ctx, owner, f.session.ID, student, attendance.StatusAbsent); err != nil {
		t.Fatalf("Create: %v", err)
	}
	outcome, err := f.engine.ApplyDetection(ctx, f.detection(f.base.Add(-time.Minute), student))
	if err != nil {
		t.Fatalf("ApplyDetection: %v", err)
	}
	if len(outcome.Stale) != 1 || len(outcome.Applied) != 0 {
		t.Fatalf("expected stale write, got %+v", outcome)
	}
	record, err := f.store.RecordForStudent(ctx, f.session.ID, student)
	if err != nil {
		t.Fatalf("RecordForStudent: %v", err)
	}
	if record.Status != attendance.StatusAbsent {
		t.Fatalf("expected manual edit to survive, got %s", record.Status)
	}

	if _, err := f.engine.ApplyDetection(ctx, f.detection(f.base.Add(time.Hour), student)); err != nil {
		t.Fatalf("ApplyDetection newer: %v", err)
	}
	record, _ = f.store.RecordForStudent(ctx, f.session.ID, student)
	if record.Status != attendance.StatusPresent {
		t.Fatalf("expected newer frame to win, got %s", record.Status)
	}
}

func TestClosedSessionAcceptsLateResults(t *testing.T) {
	f := newFixture(t, reconcile.PolicyReceiptOrder, 1)
	ctx := context.Background()
	if _, err := f.store.EndSession(ctx, f.session.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	outcome, err := f.engine.ApplyDetection(ctx, f.detection(f.base, f.course.StudentIDs()[0]))
	if err != nil {
		t.Fatalf("ApplyDetection: %v", err)
	}
	if len(outcome.Applied) != 1 {
		t.Fatalf("expected closed session to accept result, got %+v", outcome)
	}
}

func TestSubmittedSessionRejectsEverything(t *testing.T) {
	f := newFixture(t, reconcile.PolicyReceiptOrder, 2)
	ctx := context.Background()
	owner := f.course.InstructorPrincipal()
	s := f.course.StudentIDs()

	if _, err := f.engine.Create(ctx, owner, f.session.ID, s[0], attendance.StatusPresent); err != nil {
		t.Fatalf("Create: %v", err)
	}
	record, _ := f.store.RecordForStudent(ctx, f.session.ID, s[0])
	if _, err := f.store.EndSession(ctx, f.session.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, _, err := f.store.SubmitSession(ctx, f.session.ID); err != nil {
		t.Fatalf("SubmitSession: %v", err)
	}

	if _, err := f.engine.ApplyDetection(ctx, f.detection(f.base, s[1])); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("detection: expected conflict, got %v", err)
	}
	if _, err := f.engine.Mark(ctx, owner, record.ID, attendance.StatusAbsent); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("mark: expected conflict, got %v", err)
	}
	if _, err := f.engine.Toggle(ctx, owner, f.session.ID, s[1]); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("toggle: expected conflict, got %v", err)
	}
}

func TestRetakeDropsEarlierFrames(t *testing.T) {
	f := newFixture(t, reconcile.PolicyReceiptOrder, 1)
	ctx := context.Background()
	student := f.course.StudentIDs()[0]

	before := time.Now().UTC().Add(-time.Second)
	if _, _, err := f.store.RetakeSession(ctx, f.session.ID); err != nil {
		t.Fatalf("RetakeSession: %v", err)
	}
	outcome, err := f.engine.ApplyDetection(ctx, f.detection(before, student))
	if err != nil {
		t.Fatalf("ApplyDetection: %v", err)
	}
	if len(outcome.Stale) != 1 || len(outcome.Applied) != 0 {
		t.Fatalf("expected pre-retake frame dropped, got %+v", outcome)
	}
	record, err := f.store.RecordForStudent(ctx, f.session.ID, student)
	if err != nil {
		t.Fatalf("RecordForStudent: %v", err)
	}
	if record != nil {
		t.Fatalf("expected empty ledger after retake, got %+v", record)
	}
}

func TestToggleFlipsStatus(t *testing.T) {
	f := newFixture(t, reconcile.PolicyReceiptOrder, 1)
	ctx := context.Background()
	owner := f.course.InstructorPrincipal()
	student := f.course.StudentIDs()[0]

	first, err := f.engine.Toggle(ctx, owner, f.session.ID, student)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if first.Status != attendance.StatusPresent || first.Origin != attendance.OriginManual {
		t.Fatalf("expected first toggle present/manual, got %+v", first)
	}
	second, err := f.engine.Toggle(ctx, owner, f.session.ID, student)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if second.Status != attendance.StatusAbsent || second.ID != first.ID {
		t.Fatalf("expected same record flipped to absent, got %+v", second)
	}
}

func TestManualEditsRequireOwnershipAndEnrollment(t *testing.T) {
	f := newFixture(t, reconcile.PolicyReceiptOrder, 1)
	ctx := context.Background()
	student := f.course.Students[0]
	stranger := testsupport.MustCreateUser(t, f.store, "Stranger", auth.RoleInstructor)
	outsider := testsupport.MustCreateUser(t, f.store, "Outsider", auth.RoleStudent)

	if _, err := f.engine.Create(ctx, stranger.Principal(), f.session.ID, student.ID, attendance.StatusPresent); !errors.Is(err, services.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.engine.Toggle(ctx, student.Principal(), f.session.ID, student.ID); !errors.Is(err, services.ErrForbidden) {
		t.Fatalf("expected student forbidden, got %v", err)
	}
	if _, err := f.engine.Create(ctx, f.course.InstructorPrincipal(), f.session.ID, outsider.ID, attendance.StatusPresent); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation for unenrolled student, got %v", err)
	}
	if _, err := f.engine.Mark(ctx, f.course.InstructorPrincipal(), 424242, attendance.StatusPresent); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := reconcile.ParsePolicy(""); err != nil || p != reconcile.PolicyReceiptOrder {
		t.Fatalf("expected default receipt order, got %q %v", p, err)
	}
	if _, err := reconcile.ParsePolicy("newest"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
