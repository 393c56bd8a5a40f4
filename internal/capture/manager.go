package capture

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/lifecycle"
	"rollcall/internal/logging"
	"rollcall/internal/services"
)

// Opener acquires a camera. It must fail rather than retry.
type Opener func(ctx context.Context, device string) (Source, error)

// Sessions authorizes capture requests and answers the per-tick gate.
type Sessions interface {
	Authorize(ctx context.Context, principal auth.Principal, sessionID int64, action lifecycle.Action) (*attendance.Session, error)
	CaptureAllowed(ctx context.Context, sessionID int64) error
}

// Dependencies are the collaborators a Manager drives.
type Dependencies struct {
	Sessions      Sessions
	Opener        Opener
	Recognizer    Recognizer
	Applier       Applier
	DefaultDevice string
}

// Status describes the capture state of one session.
type Status struct {
	SessionID   int64
	Active      bool
	Device      string
	StartedAt   time.Time
	Captured    int
	Submitted   int
	Skipped     int
	Failures    int
	InFlight    int
	LastError   string
	LastFrameAt *time.Time
	StopReason  StopReason
}

// Manager tracks active capture loops. One loop per session and one session
// per device.
type Manager struct {
	deps     Dependencies
	settings Settings
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	loops   map[int64]*loop
	opening map[int64]string
	devices map[string]int64
	last    map[int64]Status
	closed  bool

	submissions sync.WaitGroup
}

// NewManager constructs a manager. Loops run until stopped or until Close.
func NewManager(deps Dependencies, settings Settings, logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:     deps,
		settings: settings.withDefaults(),
		logger:   logging.NewComponentLogger(logger, "capture"),
		ctx:      ctx,
		cancel:   cancel,
		loops:    make(map[int64]*loop),
		opening:  make(map[int64]string),
		devices:  make(map[string]int64),
		last:     make(map[int64]Status),
	}
}

// Activate opens device for an open session the principal owns and starts
// the loop. An empty device selects the default. Acquisition failures are
// returned as-is and leave capture inactive.
func (m *Manager) Activate(ctx context.Context, principal auth.Principal, sessionID int64, device string) (Status, error) {
	if _, err := m.deps.Sessions.Authorize(ctx, principal, sessionID, lifecycle.ActionCapture); err != nil {
		return Status{}, err
	}
	if device == "" {
		device = m.deps.DefaultDevice
	}
	logger := logging.WithContext(services.WithSessionID(ctx, sessionID), m.logger).
		With(logging.String(logging.FieldDevice, device))

	if err := m.reserve(sessionID, device); err != nil {
		return Status{}, err
	}

	source, err := m.deps.Opener(ctx, device)
	if err != nil {
		m.unreserve(sessionID, device)
		logging.WarnWithContext(logger, "camera acquisition failed", "camera_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the device and retry capture"),
			logging.String(logging.FieldImpact, "capture inactive"),
		)
		return Status{}, err
	}

	l := &loop{
		sessionID:  sessionID,
		source:     source,
		recognizer: m.deps.Recognizer,
		applier:    m.deps.Applier,
		gate:       m.deps.Sessions.CaptureAllowed,
		settings:   m.settings,
		logger:     logger,
		startedAt:  time.Now().UTC(),
		onExit:     m.forget,

		submissions: &m.submissions,
	}

	m.mu.Lock()
	if m.closed || m.opening[sessionID] != device {
		m.mu.Unlock()
		_ = source.Close()
		return Status{}, services.Wrap(services.ErrConflict, "capture", "activate",
			fmt.Sprintf("capture for session %d was cancelled while opening", sessionID), nil)
	}
	delete(m.opening, sessionID)
	delete(m.last, sessionID)
	m.loops[sessionID] = l
	l.start(m.ctx)
	m.mu.Unlock()

	logger.Info("capture started",
		logging.String(logging.FieldEventType, "capture_started"),
		logging.Duration("interval", m.settings.Interval),
		logging.Int("max_in_flight", m.settings.MaxInFlight),
	)
	return l.status(), nil
}

func (m *Manager) reserve(sessionID int64, device string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return services.Wrap(services.ErrConflict, "capture", "activate", "capture manager is shutting down", nil)
	}
	if _, ok := m.loops[sessionID]; ok {
		return services.Wrap(services.ErrConflict, "capture", "activate",
			fmt.Sprintf("capture already active for session %d", sessionID), nil)
	}
	if _, ok := m.opening[sessionID]; ok {
		return services.Wrap(services.ErrConflict, "capture", "activate",
			fmt.Sprintf("capture already starting for session %d", sessionID), nil)
	}
	if owner, ok := m.devices[device]; ok {
		return services.Wrap(services.ErrConflict, "capture", "activate",
			fmt.Sprintf("camera %s is held by session %d", device, owner), nil)
	}
	m.opening[sessionID] = device
	m.devices[device] = sessionID
	return nil
}

func (m *Manager) unreserve(sessionID int64, device string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opening[sessionID] == device {
		delete(m.opening, sessionID)
	}
	if m.devices[device] == sessionID {
		delete(m.devices, device)
	}
}

// forget runs on the loop goroutine after the device is closed.
func (m *Manager) forget(l *loop) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loops[l.sessionID] == l {
		delete(m.loops, l.sessionID)
	}
	if m.devices[l.source.Path()] == l.sessionID {
		delete(m.devices, l.source.Path())
	}
	final := l.status()
	final.Active = false
	m.last[l.sessionID] = final
}

// Deactivate stops capture for a session the principal owns. Stopping an
// idle session is not an error.
func (m *Manager) Deactivate(ctx context.Context, principal auth.Principal, sessionID int64) (Status, error) {
	if _, err := m.deps.Sessions.Authorize(ctx, principal, sessionID, lifecycle.ActionView); err != nil {
		return Status{}, err
	}
	m.stop(sessionID, StopRequested)
	return m.lookup(sessionID), nil
}

// StopSession stops capture after a lifecycle transition. It returns once the
// device is released.
func (m *Manager) StopSession(sessionID int64) {
	m.stop(sessionID, StopSessionClosed)
}

// ReleaseDevice stops whichever session holds device.
func (m *Manager) ReleaseDevice(device string) {
	m.mu.Lock()
	sessionID, ok := m.devices[device]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.logger.Info("camera removed; stopping capture",
		logging.String(logging.FieldEventType, "capture_device_removed"),
		logging.String(logging.FieldDevice, device),
		logging.Int64(logging.FieldSessionID, sessionID),
	)
	m.stop(sessionID, StopDeviceRemoved)
}

func (m *Manager) stop(sessionID int64, reason StopReason) {
	m.mu.Lock()
	l, ok := m.loops[sessionID]
	if ok {
		delete(m.loops, sessionID)
	}
	if device, pending := m.opening[sessionID]; pending {
		delete(m.opening, sessionID)
		if m.devices[device] == sessionID {
			delete(m.devices, device)
		}
	}
	m.mu.Unlock()
	if ok {
		l.stop(reason)
	}
}

// Status reports capture state for a session the principal may view.
func (m *Manager) Status(ctx context.Context, principal auth.Principal, sessionID int64) (Status, error) {
	if _, err := m.deps.Sessions.Authorize(ctx, principal, sessionID, lifecycle.ActionView); err != nil {
		return Status{}, err
	}
	return m.lookup(sessionID), nil
}

func (m *Manager) lookup(sessionID int64) Status {
	m.mu.Lock()
	l, ok := m.loops[sessionID]
	last, hasLast := m.last[sessionID]
	m.mu.Unlock()
	if ok {
		return l.status()
	}
	if hasLast {
		return last
	}
	return Status{SessionID: sessionID}
}

// Active lists running loops ordered by session.
func (m *Manager) Active() []Status {
	m.mu.Lock()
	loops := make([]*loop, 0, len(m.loops))
	for _, l := range m.loops {
		loops = append(loops, l)
	}
	m.mu.Unlock()
	out := make([]Status, 0, len(loops))
	for _, l := range loops {
		out = append(out, l.status())
	}
	slices.SortFunc(out, func(a, b Status) int {
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	return out
}

// Close stops every loop, then waits for in-flight submissions. Each
// submission is bounded by the submit timeout.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	loops := make([]*loop, 0, len(m.loops))
	for id, l := range m.loops {
		loops = append(loops, l)
		delete(m.loops, id)
	}
	clear(m.opening)
	m.mu.Unlock()

	for _, l := range loops {
		l.stop(StopShutdown)
	}
	m.submissions.Wait()
	m.cancel()
}
