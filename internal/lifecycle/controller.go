package lifecycle

import (
	"context"
	"log/slog"
	"sync"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/logging"
	"rollcall/internal/services"
)

// Store is the persistence the controller drives.
type Store interface {
	GetCourse(ctx context.Context, id int64) (*attendance.Course, error)
	GetSession(ctx context.Context, id int64) (*attendance.Session, error)
	ListSessionsForCourse(ctx context.Context, courseID int64) ([]attendance.Session, error)
	CreateSession(ctx context.Context, courseID, instructorID int64) (*attendance.Session, error)
	EndSession(ctx context.Context, id int64) (*attendance.Session, error)
	ReopenSession(ctx context.Context, id int64) (*attendance.Session, error)
	RetakeSession(ctx context.Context, id int64) (*attendance.Session, int64, error)
	SubmitSession(ctx context.Context, id int64) (*attendance.Session, int64, error)
	DeleteSession(ctx context.Context, id int64) error
}

// CaptureStopper is told when a session may no longer capture.
type CaptureStopper interface {
	StopSession(sessionID int64)
}

// Result describes the outcome of a transition.
type Result struct {
	Session attendance.Session
	// Cleared is the number of records a retake removed.
	Cleared int64
	// Materialized is the number of absent records a submit created.
	Materialized int64
}

// Controller applies lifecycle transitions for principals.
type Controller struct {
	store  Store
	logger *slog.Logger

	mu      sync.RWMutex
	stopper CaptureStopper
}

// NewController constructs a controller backed by store.
func NewController(store Store, logger *slog.Logger) *Controller {
	return &Controller{store: store, logger: logging.NewComponentLogger(logger, "lifecycle")}
}

// SetCaptureStopper wires the capture manager after construction.
func (c *Controller) SetCaptureStopper(stopper CaptureStopper) {
	c.mu.Lock()
	c.stopper = stopper
	c.mu.Unlock()
}

func (c *Controller) stopCapture(sessionID int64) {
	c.mu.RLock()
	stopper := c.stopper
	c.mu.RUnlock()
	if stopper != nil {
		stopper.StopSession(sessionID)
	}
}

// Start opens a session for courseID. A second start while one is open fails
// with services.ErrConflict.
func (c *Controller) Start(ctx context.Context, principal auth.Principal, courseID int64) (*attendance.Session, error) {
	course, err := c.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := CanStart(*course, principal); err != nil {
		return nil, err
	}
	session, err := c.store.CreateSession(ctx, course.ID, course.InstructorID)
	if err != nil {
		return nil, err
	}
	c.log(ctx, session).Info("session started",
		logging.String(logging.FieldEventType, "session_started"),
		logging.Int64(logging.FieldPrincipal, principal.UserID),
	)
	return session, nil
}

// Get returns a session the principal may view.
func (c *Controller) Get(ctx context.Context, principal auth.Principal, sessionID int64) (*attendance.Session, error) {
	return c.authorize(ctx, principal, sessionID, ActionView)
}

// ListForCourse returns a course's sessions for its instructor or an admin.
func (c *Controller) ListForCourse(ctx context.Context, principal auth.Principal, courseID int64) ([]attendance.Session, error) {
	course, err := c.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !principal.CanManage(course.InstructorID) {
		return nil, services.Wrap(services.ErrForbidden, "lifecycle", "list", "not the course instructor", nil)
	}
	return c.store.ListSessionsForCourse(ctx, courseID)
}

// End closes an open session and stops its capture.
func (c *Controller) End(ctx context.Context, principal auth.Principal, sessionID int64) (*attendance.Session, error) {
	if _, err := c.authorize(ctx, principal, sessionID, ActionEnd); err != nil {
		return nil, err
	}
	session, err := c.store.EndSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	c.stopCapture(sessionID)
	c.log(ctx, session).Info("session ended", logging.String(logging.FieldEventType, "session_ended"))
	return session, nil
}

// Continue reopens a closed session so capture may resume.
func (c *Controller) Continue(ctx context.Context, principal auth.Principal, sessionID int64) (*attendance.Session, error) {
	if _, err := c.authorize(ctx, principal, sessionID, ActionContinue); err != nil {
		return nil, err
	}
	session, err := c.store.ReopenSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	c.log(ctx, session).Info("session continued", logging.String(logging.FieldEventType, "session_continued"))
	return session, nil
}

// Retake discards the ledger and reopens the session. Capture is stopped so
// the instructor re-arms it explicitly.
func (c *Controller) Retake(ctx context.Context, principal auth.Principal, sessionID int64) (Result, error) {
	if _, err := c.authorize(ctx, principal, sessionID, ActionRetake); err != nil {
		return Result{}, err
	}
	c.stopCapture(sessionID)
	session, cleared, err := c.store.RetakeSession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	c.log(ctx, session).Info("session retaken",
		logging.String(logging.FieldEventType, "session_retaken"),
		logging.Int64("cleared_records", cleared),
	)
	return Result{Session: *session, Cleared: cleared}, nil
}

// Submit finalizes the session, ending it first when still open. Enrolled
// students without a record are materialized as absent.
func (c *Controller) Submit(ctx context.Context, principal auth.Principal, sessionID int64) (Result, error) {
	session, err := c.authorize(ctx, principal, sessionID, ActionSubmit)
	if err != nil {
		return Result{}, err
	}
	if session.Status == attendance.SessionOpen {
		if _, err := c.store.EndSession(ctx, sessionID); err != nil {
			return Result{}, err
		}
		c.stopCapture(sessionID)
	}
	submitted, materialized, err := c.store.SubmitSession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	c.stopCapture(sessionID)
	c.log(ctx, submitted).Info("session submitted",
		logging.String(logging.FieldEventType, "session_submitted"),
		logging.Int64("materialized_absent", materialized),
	)
	return Result{Session: *submitted, Materialized: materialized}, nil
}

// Delete removes a session that was never submitted.
func (c *Controller) Delete(ctx context.Context, principal auth.Principal, sessionID int64) error {
	session, err := c.authorize(ctx, principal, sessionID, ActionDelete)
	if err != nil {
		return err
	}
	c.stopCapture(sessionID)
	if err := c.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	c.log(ctx, session).Info("session deleted", logging.String(logging.FieldEventType, "session_deleted"))
	return nil
}

// Authorize loads a session and checks action against it.
func (c *Controller) Authorize(ctx context.Context, principal auth.Principal, sessionID int64, action Action) (*attendance.Session, error) {
	return c.authorize(ctx, principal, sessionID, action)
}

// CaptureAllowed reports whether the session still permits capture. It is
// called before every frame, so it ignores the principal.
func (c *Controller) CaptureAllowed(ctx context.Context, sessionID int64) error {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != attendance.SessionOpen {
		return services.Wrap(services.ErrConflict, "lifecycle", "capture", "session is "+string(session.Status), nil)
	}
	return nil
}

func (c *Controller) authorize(ctx context.Context, principal auth.Principal, sessionID int64, action Action) (*attendance.Session, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := CanTransition(*session, action, principal); err != nil {
		return nil, err
	}
	return session, nil
}

func (c *Controller) log(ctx context.Context, session *attendance.Session) *slog.Logger {
	ctx = services.WithCourseID(services.WithSessionID(ctx, session.ID), session.CourseID)
	return logging.WithContext(ctx, c.logger)
}
