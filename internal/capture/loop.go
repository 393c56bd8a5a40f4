package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"rollcall/internal/camera"
	"rollcall/internal/logging"
	"rollcall/internal/recognition"
	"rollcall/internal/reconcile"
	"rollcall/internal/services"
)

// maxSnapshotFailures stops a loop whose camera keeps failing.
const maxSnapshotFailures = 3

// Source is an exclusively held camera.
type Source interface {
	Path() string
	Snapshot(ctx context.Context) (camera.Frame, error)
	Close() error
}

// Recognizer submits a frame and reports the students found.
type Recognizer interface {
	Recognize(ctx context.Context, req recognition.Request) ([]recognition.Match, error)
}

// Applier reconciles a detection into the ledger.
type Applier interface {
	ApplyDetection(ctx context.Context, event reconcile.DetectionEvent) (reconcile.Outcome, error)
}

// Gate reports whether the session may still capture.
type Gate func(ctx context.Context, sessionID int64) error

// Settings tune every loop a manager starts. MaxInFlight is backpressure
// against a stalled recognizer; zero sizes it to cover one SubmitTimeout.
type Settings struct {
	Interval      time.Duration
	MaxInFlight   int
	SubmitTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Interval <= 0 {
		s.Interval = 5 * time.Second
	}
	if s.SubmitTimeout <= 0 {
		s.SubmitTimeout = 20 * time.Second
	}
	if s.MaxInFlight <= 0 {
		s.MaxInFlight = int((s.SubmitTimeout+s.Interval-1)/s.Interval) + 1
	}
	return s
}

// StopReason records why a loop ended.
type StopReason string

const (
	StopRequested     StopReason = "requested"
	StopSessionClosed StopReason = "session_not_open"
	StopCameraFailed  StopReason = "camera_failed"
	StopDeviceRemoved StopReason = "device_removed"
	StopShutdown      StopReason = "shutdown"
)

type loop struct {
	sessionID  int64
	source     Source
	recognizer Recognizer
	applier    Applier
	gate       Gate
	settings   Settings
	logger     *slog.Logger
	startedAt  time.Time
	onExit     func(*loop)

	cancel      context.CancelFunc
	done        chan struct{}
	submissions *sync.WaitGroup
	inFlight    atomic.Int32

	mu          sync.Mutex
	stopReason  StopReason
	captured    int
	submitted   int
	skipped     int
	failures    int
	lastError   string
	lastFrameAt time.Time
}

func (l *loop) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	if l.submissions == nil {
		l.submissions = &sync.WaitGroup{}
	}
	l.done = make(chan struct{})
	go l.run(ctx)
}

func (l *loop) run(ctx context.Context) {
	defer close(l.done)
	defer func() {
		if l.onExit != nil {
			l.onExit(l)
		}
	}()
	defer l.release()

	ticker := time.NewTicker(l.settings.Interval)
	defer ticker.Stop()

	snapshotFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := l.gate(ctx, l.sessionID); err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, services.ErrConflict) || errors.Is(err, services.ErrNotFound) {
				l.setStopReason(StopSessionClosed)
				l.logger.Info("session no longer open; stopping capture",
					logging.String(logging.FieldEventType, "capture_gate_closed"),
					logging.Error(err),
				)
				return
			}
			logging.WarnWithContext(l.logger, "capture gate check failed", "capture_gate_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the ledger database"),
				logging.String(logging.FieldImpact, "frame skipped"),
			)
			continue
		}

		if int(l.inFlight.Load()) >= l.settings.MaxInFlight {
			l.mu.Lock()
			l.skipped++
			l.mu.Unlock()
			l.logger.Debug("submission limit reached; skipping tick",
				logging.Int("in_flight", int(l.inFlight.Load())),
			)
			continue
		}

		frame, err := l.source.Snapshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			snapshotFailures++
			l.recordFailure(err)
			logging.WarnWithContext(l.logger, "camera snapshot failed", "capture_snapshot_failed",
				logging.Error(err),
				logging.Int("consecutive_failures", snapshotFailures),
				logging.String(logging.FieldErrorHint, "check the camera connection"),
				logging.String(logging.FieldImpact, "frame skipped"),
			)
			if snapshotFailures >= maxSnapshotFailures {
				l.setStopReason(StopCameraFailed)
				return
			}
			continue
		}
		snapshotFailures = 0
		l.mu.Lock()
		l.captured++
		l.lastFrameAt = frame.CapturedAt
		l.mu.Unlock()

		l.inFlight.Add(1)
		l.submissions.Add(1)
		go l.submit(context.WithoutCancel(ctx), frame)
	}
}

// submit runs detached from loop cancellation so results that arrive after
// stop still reach the ledger.
func (l *loop) submit(ctx context.Context, frame camera.Frame) {
	defer l.submissions.Done()
	defer l.inFlight.Add(-1)

	ctx, cancel := context.WithTimeout(ctx, l.settings.SubmitTimeout)
	defer cancel()

	logger := l.logger.With(logging.String(logging.FieldFrameID, frame.ID))
	submittedAt := time.Now().UTC()
	matches, err := l.recognizer.Recognize(ctx, recognition.Request{
		SessionID:  l.sessionID,
		FrameID:    frame.ID,
		Image:      frame.Data,
		CapturedAt: frame.CapturedAt,
	})
	if err != nil {
		l.recordFailure(err)
		logging.WarnWithContext(logger, "frame submission failed", "capture_submit_failed",
			logging.Error(err),
			logging.Bool("retryable", services.Retryable(err)),
			logging.String(logging.FieldErrorHint, "check the recognition service"),
			logging.String(logging.FieldImpact, "next frame supersedes this one"),
		)
		return
	}

	outcome, err := l.applier.ApplyDetection(ctx, Detection(l.sessionID, frame, submittedAt, matches))
	if err != nil {
		l.recordFailure(err)
		logging.WarnWithContext(logger, "detection not applied", "capture_apply_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "session may have been submitted"),
			logging.String(logging.FieldImpact, "recognized students not recorded"),
		)
		return
	}
	l.mu.Lock()
	l.submitted++
	l.mu.Unlock()
	logger.Debug("frame reconciled",
		logging.Int("matches", len(matches)),
		logging.Int("applied", len(outcome.Applied)),
	)
}

// Detection builds the reconciler event for a recognized frame.
func Detection(sessionID int64, frame camera.Frame, submittedAt time.Time, matches []recognition.Match) reconcile.DetectionEvent {
	event := reconcile.DetectionEvent{
		SessionID:   sessionID,
		FrameID:     frame.ID,
		CapturedAt:  frame.CapturedAt,
		SubmittedAt: submittedAt,
		Matches:     make([]reconcile.Match, 0, len(matches)),
	}
	for _, m := range matches {
		event.Matches = append(event.Matches, reconcile.Match{
			StudentID:  m.StudentID,
			Confidence: m.Confidence,
			Timestamp:  m.Timestamp,
		})
	}
	return event
}

func (l *loop) release() {
	if err := l.source.Close(); err != nil {
		logging.WarnWithContext(l.logger, "camera close failed", "camera_close_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for a stuck ffmpeg process"),
			logging.String(logging.FieldImpact, "device may stay busy"),
		)
	}
	l.mu.Lock()
	reason := l.stopReason
	l.mu.Unlock()
	l.logger.Info("capture stopped",
		logging.String(logging.FieldEventType, "capture_stopped"),
		logging.String("reason", string(reason)),
	)
}

// stop cancels the loop and waits until the device is closed. It does not
// wait for submissions.
func (l *loop) stop(reason StopReason) {
	l.setStopReason(reason)
	l.cancel()
	<-l.done
}

func (l *loop) setStopReason(reason StopReason) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopReason == "" {
		l.stopReason = reason
	}
}

func (l *loop) recordFailure(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures++
	l.lastError = err.Error()
}

func (l *loop) status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	status := Status{
		SessionID:  l.sessionID,
		Device:     l.source.Path(),
		StartedAt:  l.startedAt,
		Captured:   l.captured,
		Submitted:  l.submitted,
		Skipped:    l.skipped,
		Failures:   l.failures,
		InFlight:   int(l.inFlight.Load()),
		LastError:  l.lastError,
		StopReason: l.stopReason,
	}
	if !l.lastFrameAt.IsZero() {
		at := l.lastFrameAt
		status.LastFrameAt = &at
	}
	select {
	case <-l.done:
	default:
		status.Active = true
	}
	return status
}
