package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"rollcall/internal/config"
	"rollcall/internal/logging"
	"rollcall/internal/services"
)

const maxFrameBytes = 16 << 20

// Options configure how a device is opened and how frames are recompressed.
type Options struct {
	Device       string
	FFmpegBinary string
	Width        int
	Height       int
	Framerate    int
	MaxWidth     int
	Quality      int
	LockDir      string
	OpenTimeout  time.Duration
}

// OptionsFromConfig builds Options for device using the camera settings.
// An empty device selects the configured default.
func OptionsFromConfig(cfg *config.Config, device string) Options {
	if device == "" {
		device = cfg.Camera.Device
	}
	return Options{
		Device:       device,
		FFmpegBinary: cfg.Camera.FFmpegBinary,
		Width:        cfg.Camera.Width,
		Height:       cfg.Camera.Height,
		Framerate:    cfg.Camera.Framerate,
		MaxWidth:     cfg.Camera.MaxFrameWidth,
		Quality:      cfg.Camera.JPEGQuality,
		LockDir:      cfg.LockDir(),
		OpenTimeout:  time.Duration(cfg.Camera.OpenTimeout) * time.Second,
	}
}

// Stream is an exclusively held camera producing frames until Close.
type Stream struct {
	opts   Options
	logger *slog.Logger
	lock   *deviceLock
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *tailBuffer

	mu        sync.Mutex
	latest    []byte
	latestAt  time.Time
	servedAt  time.Time
	readErr   error
	firstSeen chan struct{}
	firstOnce sync.Once
	done      chan struct{}

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// Open checks the device node, locks it, and starts streaming. It returns
// once the first frame arrives, so acquisition failures surface here and not
// on the first tick. Errors carry services markers: ErrNotFound for a missing
// node, ErrPermissionDenied when the node is not readable and writable,
// ErrConflict when another capture holds the device.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Stream, error) {
	if err := checkDevice(opts.Device); err != nil {
		return nil, err
	}
	lock, err := acquireDeviceLock(opts.LockDir, opts.Device)
	if err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, opts.FFmpegBinary, ffmpegArgs(opts)...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		_ = lock.release()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		cancel()
		_ = lock.release()
		if errors.Is(err, exec.ErrNotFound) {
			return nil, services.Wrap(services.ErrConfiguration, "camera", "open",
				fmt.Sprintf("ffmpeg binary %q not found", opts.FFmpegBinary), err)
		}
		return nil, services.Wrap(services.ErrTransient, "camera", "open", "start ffmpeg", err)
	}

	s := &Stream{
		opts:      opts,
		logger:    logging.NewComponentLogger(logger, "camera").With(logging.String(logging.FieldDevice, opts.Device)),
		lock:      lock,
		cmd:       cmd,
		cancel:    cancel,
		stderr:    stderr,
		firstSeen: make(chan struct{}),
		done:      make(chan struct{}),
		closed:    make(chan struct{}),
	}
	go s.read(stdout)

	timeout := opts.OpenTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.firstSeen:
		s.logger.Info("camera opened",
			logging.String(logging.FieldEventType, "camera_opened"),
			logging.Int("width", opts.Width),
			logging.Int("height", opts.Height),
		)
		return s, nil
	case <-s.done:
		err := s.failure()
		_ = s.Close()
		return nil, err
	case <-timer.C:
		_ = s.Close()
		return nil, services.Wrap(services.ErrTransient, "camera", "open",
			fmt.Sprintf("no frame from %s within %s", opts.Device, timeout), nil)
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	}
}

func checkDevice(device string) error {
	info, err := os.Stat(device)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrNotFound, "camera", "open", fmt.Sprintf("camera %s not found", device), nil)
		}
		return fmt.Errorf("stat camera %s: %w", device, err)
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return services.Wrap(services.ErrValidation, "camera", "open", fmt.Sprintf("%s is not a character device", device), nil)
	}
	if err := unix.Access(device, unix.R_OK|unix.W_OK); err != nil {
		if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
			return services.Wrap(services.ErrPermissionDenied, "camera", "open",
				fmt.Sprintf("no read/write access to %s (add the daemon user to the video group)", device), err)
		}
		return fmt.Errorf("access camera %s: %w", device, err)
	}
	return nil
}

func ffmpegArgs(opts Options) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-framerate", strconv.Itoa(opts.Framerate),
		"-video_size", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-i", opts.Device,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	}
}

func (s *Stream) read(r io.Reader) {
	defer close(s.done)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256<<10), maxFrameBytes)
	scanner.Split(splitJPEG)
	for scanner.Scan() {
		frame := bytes.Clone(scanner.Bytes())
		s.mu.Lock()
		s.latest = frame
		s.latestAt = time.Now()
		s.mu.Unlock()
		s.firstOnce.Do(func() { close(s.firstSeen) })
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

func (s *Stream) failure() error {
	s.mu.Lock()
	readErr := s.readErr
	s.mu.Unlock()
	message := "ffmpeg stopped streaming"
	if tail := s.stderr.String(); tail != "" {
		message += ": " + tail
	}
	return services.Wrap(services.ErrTransient, "camera", "stream", message, readErr)
}

// Path reports the device node.
func (s *Stream) Path() string {
	return s.opts.Device
}

// Snapshot returns the newest frame, recompressed for submission. A frame is
// served once; a stream that has not advanced since the last call fails.
func (s *Stream) Snapshot(ctx context.Context) (Frame, error) {
	select {
	case <-s.closed:
		return Frame{}, services.Wrap(services.ErrConflict, "camera", "snapshot", "camera closed", nil)
	default:
	}
	select {
	case <-s.firstSeen:
	case <-s.done:
		return Frame{}, s.failure()
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}

	s.mu.Lock()
	raw := s.latest
	capturedAt := s.latestAt
	readErr := s.readErr
	stale := !capturedAt.After(s.servedAt)
	if readErr == nil && !stale {
		s.servedAt = capturedAt
	}
	s.mu.Unlock()
	if readErr != nil {
		return Frame{}, s.failure()
	}
	if stale {
		return Frame{}, services.Wrap(services.ErrTransient, "camera", "snapshot",
			"no new frame since the last snapshot", nil)
	}

	data, width, height, err := Recompress(raw, s.opts.MaxWidth, s.opts.Quality)
	if err != nil {
		return Frame{}, services.Wrap(services.ErrTransient, "camera", "snapshot", "recompress frame", err)
	}
	return Frame{
		ID:         uuid.NewString(),
		Device:     s.opts.Device,
		Data:       data,
		Width:      width,
		Height:     height,
		CapturedAt: capturedAt.UTC(),
	}, nil
}

// Close stops ffmpeg and releases the device lock. Later calls return the
// first result.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		<-s.done
		waitErr := s.cmd.Wait()
		var exitErr *exec.ExitError
		if waitErr != nil && !errors.As(waitErr, &exitErr) {
			s.closeErr = fmt.Errorf("wait ffmpeg: %w", waitErr)
		}
		if err := s.lock.release(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("release camera lock: %w", err)
		}
		s.logger.Info("camera released",
			logging.String(logging.FieldEventType, "camera_released"),
		)
	})
	return s.closeErr
}

type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf))
}
