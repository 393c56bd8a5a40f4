package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"rollcall/internal/config"
	"rollcall/internal/deps"
	"rollcall/internal/recognition"
	"rollcall/internal/services"
)

// CheckRecognition verifies that the recognition service answers and accepts
// the configured key. It uses a 5-second timeout and a single attempt.
func CheckRecognition(ctx context.Context, cfg config.Recognition) Result {
	const name = "Recognition service"

	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	probe := cfg
	probe.TimeoutSeconds = 5
	if err := recognition.New(probe).Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeRecognitionError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", base)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCameraDevice verifies that a video node exists and this process may
// open it for reading and writing.
func CheckCameraDevice(device string) Result {
	const name = "Camera"

	var st unix.Stat_t
	if err := unix.Stat(device, &st); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", device)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", device, err)}
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not a character device)", device)}
	}
	if err := unix.Access(device, unix.R_OK|unix.W_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v; add the user to the video group)", device, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", device)}
}

// CheckSystemDeps evaluates the external binaries rollcall needs. Both the
// daemon status endpoint and the CLI status command use it.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	binary := ""
	if cfg != nil {
		binary = cfg.Camera.FFmpegBinary
	}
	return []deps.Status{deps.CheckFFmpeg(binary)}
}

func summarizeRecognitionError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (recognition service unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (recognition service unreachable)"
	}
	if errors.Is(err, services.ErrConfiguration) {
		return "auth failed (invalid api key)"
	}
	return err.Error()
}
