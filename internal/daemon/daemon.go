package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/camera"
	"rollcall/internal/capture"
	"rollcall/internal/config"
	"rollcall/internal/deps"
	"rollcall/internal/lifecycle"
	"rollcall/internal/logging"
	"rollcall/internal/preflight"
	"rollcall/internal/recognition"
	"rollcall/internal/reconcile"
)

// Daemon owns the attendance services and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *attendance.Store

	opener     capture.Opener
	sessions   *lifecycle.Controller
	engine     *reconcile.Engine
	captures   *capture.Manager
	recognizer *recognition.Client
	tokens     *auth.Tokens
	monitor    *camera.Monitor
	api        *apiServer

	hotplug  bool
	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Option customizes daemon construction.
type Option func(*Daemon)

// WithHotplug toggles the udev camera monitor. It is on by default.
func WithHotplug(enabled bool) Option {
	return func(d *Daemon) { d.hotplug = enabled }
}

// WithOpener replaces the camera opener, mainly for tests.
func WithOpener(opener capture.Opener) Option {
	return func(d *Daemon) {
		if opener != nil {
			d.opener = opener
		}
	}
}

// Status represents daemon runtime information.
type Status struct {
	Running         bool
	PID             int
	DatabasePath    string
	LockFilePath    string
	APIBind         string
	ReconcilePolicy string
	Hotplug         bool
	Captures        []capture.Status
	Dependencies    []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *attendance.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	policy, err := reconcile.ParsePolicy(cfg.Reconcile.Policy)
	if err != nil {
		return nil, fmt.Errorf("reconcile policy: %w", err)
	}

	lockPath := filepath.Join(cfg.LockDir(), "rollcall.lock")
	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		sessions:   lifecycle.NewController(store, logger),
		engine:     reconcile.NewEngine(store, policy, logger),
		recognizer: recognition.New(cfg.Recognition),
		tokens:     auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute),
		hotplug:    true,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	d.opener = func(ctx context.Context, device string) (capture.Source, error) {
		return camera.Open(ctx, camera.OptionsFromConfig(cfg, device), logger)
	}
	for _, opt := range opts {
		opt(d)
	}
	d.captures = d.newCaptureManager()
	d.sessions.SetCaptureStopper(d.captures)
	d.monitor = camera.NewMonitor(logger, d.handleHotplug)
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

func (d *Daemon) newCaptureManager() *capture.Manager {
	return capture.NewManager(capture.Dependencies{
		Sessions:      d.sessions,
		Opener:        d.opener,
		Recognizer:    d.recognizer,
		Applier:       d.engine,
		DefaultDevice: d.cfg.Camera.Device,
	}, capture.Settings{
		Interval:      time.Duration(d.cfg.Capture.IntervalSeconds) * time.Second,
		MaxInFlight:   d.cfg.Capture.MaxInFlight,
		SubmitTimeout: time.Duration(d.cfg.Capture.SubmitTimeoutSeconds) * time.Second,
	}, d.logger)
}

// Start acquires the daemon lock, starts the hotplug monitor, and serves the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("ensure lock directory: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another rollcall daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if d.hotplug {
		if err := d.monitor.Start(d.ctx); err != nil {
			logging.WarnWithContext(d.logger, "camera hotplug unavailable", "hotplug_unavailable",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run with access to the udev netlink socket"),
				logging.String(logging.FieldImpact, "unplugged cameras are released only when capture fails"),
			)
		}
	}
	if err := d.api.start(d.ctx); err != nil {
		d.monitor.Stop()
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start api: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("rollcall daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
	)
	return nil
}

// Stop stops capture, the API, and the monitor, then releases the lock. A
// stopped daemon cannot be started again.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	d.monitor.Stop()
	d.captures.Close()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if the next start fails"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("rollcall daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.captures.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddress reports the bound API address once started.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(context.Context) Status {
	return Status{
		Running:         d.running.Load(),
		PID:             os.Getpid(),
		DatabasePath:    d.store.Path(),
		LockFilePath:    d.lockPath,
		APIBind:         d.api.address(),
		ReconcilePolicy: string(d.engine.Policy()),
		Hotplug:         d.monitor.Running(),
		Captures:        d.captures.Active(),
		Dependencies:    preflight.CheckSystemDeps(d.cfg),
	}
}

func (d *Daemon) handleHotplug(_ context.Context, event camera.HotplugEvent) {
	switch event.Action {
	case camera.HotplugRemove:
		d.captures.ReleaseDevice(event.Device)
	case camera.HotplugAdd:
		d.logger.Info("camera attached",
			logging.String(logging.FieldEventType, "camera_attached"),
			logging.String(logging.FieldDevice, event.Device),
		)
	}
}
