package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/lifecycle"
	"rollcall/internal/logging"
	"rollcall/internal/services"
)

// Policy selects how conflicting ledger writes are ordered.
type Policy string

const (
	PolicyReceiptOrder Policy = config.PolicyReceiptOrder
	PolicyCaptureTime  Policy = config.PolicyCaptureTime
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(value string) (Policy, error) {
	switch Policy(value) {
	case PolicyReceiptOrder, "":
		return PolicyReceiptOrder, nil
	case PolicyCaptureTime:
		return PolicyCaptureTime, nil
	default:
		return "", fmt.Errorf("unknown reconcile policy %q", value)
	}
}

// Match is one recognized student in a frame.
type Match struct {
	StudentID  int64
	Confidence float64
	// Timestamp is the recognizer's time for the match, zero when unreported.
	Timestamp time.Time
}

// DetectionEvent is the transient result of submitting one frame.
type DetectionEvent struct {
	SessionID   int64
	FrameID     string
	CapturedAt  time.Time
	SubmittedAt time.Time
	Matches     []Match
}

// Outcome summarizes what a detection did to the ledger.
type Outcome struct {
	Applied []int64
	// Stale holds students whose write lost to a newer record or predates a retake.
	Stale []int64
	// Dropped holds ids that are unknown or not enrolled in the course.
	Dropped []int64
}

// Store is the persistence the engine needs.
type Store interface {
	GetSession(ctx context.Context, id int64) (*attendance.Session, error)
	GetRecord(ctx context.Context, id int64) (*attendance.Record, error)
	RecordForStudent(ctx context.Context, sessionID, studentID int64) (*attendance.Record, error)
	EnrolledStudentIDs(ctx context.Context, courseID int64, ids []int64) (map[int64]bool, error)
	UpsertRecord(ctx context.Context, w attendance.RecordWrite) (*attendance.Record, bool, error)
	UpdateRecordStatus(ctx context.Context, id int64, status attendance.RecordStatus, origin attendance.Origin, at time.Time) (*attendance.Record, error)
}

// Engine applies ledger writes.
type Engine struct {
	store  Store
	policy Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine constructs an engine with the given ordering policy.
func NewEngine(store Store, policy Policy, logger *slog.Logger) *Engine {
	if policy == "" {
		policy = PolicyReceiptOrder
	}
	return &Engine{
		store:  store,
		policy: policy,
		logger: logging.NewComponentLogger(logger, "reconcile"),
		now:    time.Now,
	}
}

// SetClock overrides the time source for manual edits.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Policy reports the active ordering policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// ApplyDetection upserts a present/recognized record for every enrolled
// student in event. Open and closed sessions accept results, so responses
// that land after capture stopped are still recorded. Submitted sessions
// reject with services.ErrConflict.
func (e *Engine) ApplyDetection(ctx context.Context, event DetectionEvent) (Outcome, error) {
	session, err := e.store.GetSession(ctx, event.SessionID)
	if err != nil {
		return Outcome{}, err
	}
	if session.Status.IsTerminal() {
		return Outcome{}, services.Wrap(services.ErrConflict, "reconcile", "apply detection",
			fmt.Sprintf("session %d is submitted", session.ID), nil)
	}
	ctx = services.WithCourseID(services.WithSessionID(ctx, session.ID), session.CourseID)
	logger := logging.WithContext(ctx, e.logger)

	ids := uniqueStudents(event.Matches)
	var outcome Outcome
	if len(ids) == 0 {
		return outcome, nil
	}

	captured := event.CapturedAt
	if captured.IsZero() {
		captured = event.SubmittedAt
	}
	if session.LedgerResetAt != nil && !captured.IsZero() && captured.Before(*session.LedgerResetAt) {
		outcome.Stale = ids
		logger.Info("detection predates retake",
			logging.String(logging.FieldEventType, "detection_stale"),
			logging.String(logging.FieldFrameID, event.FrameID),
			logging.Int("students", len(ids)),
		)
		return outcome, nil
	}

	enrolled, err := e.store.EnrolledStudentIDs(ctx, session.CourseID, ids)
	if err != nil {
		return Outcome{}, err
	}

	at := event.SubmittedAt
	if e.policy == PolicyCaptureTime {
		at = captured
	}
	if at.IsZero() {
		at = e.now()
	}
	for _, id := range ids {
		if !enrolled[id] {
			outcome.Dropped = append(outcome.Dropped, id)
			continue
		}
		write := attendance.RecordWrite{
			SessionID:   session.ID,
			StudentID:   id,
			Status:      attendance.StatusPresent,
			Origin:      attendance.OriginRecognized,
			At:          at,
			RejectStale: e.policy == PolicyCaptureTime,
		}
		if !captured.IsZero() {
			c := captured
			write.CapturedAt = &c
		}
		_, applied, err := e.store.UpsertRecord(ctx, write)
		if err != nil {
			return outcome, err
		}
		if applied {
			outcome.Applied = append(outcome.Applied, id)
		} else {
			outcome.Stale = append(outcome.Stale, id)
		}
	}

	if len(outcome.Dropped) > 0 {
		logging.WarnWithContext(logger, "detection matched students outside the roster", "detection_unenrolled",
			logging.String(logging.FieldFrameID, event.FrameID),
			logging.Any("student_ids", outcome.Dropped),
			logging.String(logging.FieldImpact, "matches ignored"),
			logging.String(logging.FieldErrorHint, "check recognition gallery against course enrollment"),
		)
	}
	logger.Debug("detection applied",
		logging.String(logging.FieldFrameID, event.FrameID),
		logging.Int("applied", len(outcome.Applied)),
		logging.Int("stale", len(outcome.Stale)),
	)
	return outcome, nil
}

// Mark overwrites the status of an existing record.
func (e *Engine) Mark(ctx context.Context, principal auth.Principal, recordID int64, status attendance.RecordStatus) (*attendance.Record, error) {
	record, err := e.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if _, err := e.authorizeEdit(ctx, principal, record.SessionID); err != nil {
		return nil, err
	}
	updated, err := e.store.UpdateRecordStatus(ctx, recordID, status, attendance.OriginManual, e.now())
	if err != nil {
		return nil, err
	}
	e.logManual(ctx, updated, principal)
	return updated, nil
}

// Create records a manual status for a pair. An existing record for the pair
// is updated rather than duplicated.
func (e *Engine) Create(ctx context.Context, principal auth.Principal, sessionID, studentID int64, status attendance.RecordStatus) (*attendance.Record, error) {
	session, err := e.authorizeEdit(ctx, principal, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.requireEnrolled(ctx, session, studentID); err != nil {
		return nil, err
	}
	record, _, err := e.store.UpsertRecord(ctx, attendance.RecordWrite{
		SessionID: sessionID,
		StudentID: studentID,
		Status:    status,
		Origin:    attendance.OriginManual,
		At:        e.now(),
	})
	if err != nil {
		return nil, err
	}
	e.logManual(ctx, record, principal)
	return record, nil
}

// Toggle flips a roster row between present and absent. A student with no
// record becomes present.
func (e *Engine) Toggle(ctx context.Context, principal auth.Principal, sessionID, studentID int64) (*attendance.Record, error) {
	session, err := e.authorizeEdit(ctx, principal, sessionID)
	if err != nil {
		return nil, err
	}
	if err := e.requireEnrolled(ctx, session, studentID); err != nil {
		return nil, err
	}
	existing, err := e.store.RecordForStudent(ctx, sessionID, studentID)
	if err != nil {
		return nil, err
	}
	next := attendance.StatusPresent
	if existing != nil {
		next = existing.Status.Flip()
	}
	record, _, err := e.store.UpsertRecord(ctx, attendance.RecordWrite{
		SessionID: sessionID,
		StudentID: studentID,
		Status:    next,
		Origin:    attendance.OriginManual,
		At:        e.now(),
	})
	if err != nil {
		return nil, err
	}
	e.logManual(ctx, record, principal)
	return record, nil
}

func (e *Engine) authorizeEdit(ctx context.Context, principal auth.Principal, sessionID int64) (*attendance.Session, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CanTransition(*session, lifecycle.ActionEdit, principal); err != nil {
		return nil, err
	}
	return session, nil
}

func (e *Engine) requireEnrolled(ctx context.Context, session *attendance.Session, studentID int64) error {
	enrolled, err := e.store.EnrolledStudentIDs(ctx, session.CourseID, []int64{studentID})
	if err != nil {
		return err
	}
	if !enrolled[studentID] {
		return services.Wrap(services.ErrValidation, "reconcile", "manual edit",
			fmt.Sprintf("student %d is not enrolled in course %d", studentID, session.CourseID), nil)
	}
	return nil
}

func (e *Engine) logManual(ctx context.Context, record *attendance.Record, principal auth.Principal) {
	logging.WithContext(services.WithSessionID(ctx, record.SessionID), e.logger).Info("manual attendance edit",
		logging.String(logging.FieldEventType, "attendance_manual_edit"),
		logging.Int64(logging.FieldStudentID, record.StudentID),
		logging.String("status", string(record.Status)),
		logging.Int64(logging.FieldPrincipal, principal.UserID),
	)
}

func uniqueStudents(matches []Match) []int64 {
	seen := make(map[int64]struct{}, len(matches))
	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		if m.StudentID <= 0 {
			continue
		}
		if _, ok := seen[m.StudentID]; ok {
			continue
		}
		seen[m.StudentID] = struct{}{}
		ids = append(ids, m.StudentID)
	}
	return ids
}
