package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"rollcall/internal/services"
)

// deviceLock is an advisory lock shared by every rollcall process on the
// host, so two daemons cannot stream from one node.
type deviceLock struct {
	path string
	lock *flock.Flock
}

func lockPathFor(lockDir, device string) string {
	name := strings.Trim(strings.TrimPrefix(filepath.Clean(device), "/dev/"), "/")
	name = strings.ReplaceAll(name, "/", "_")
	return filepath.Join(lockDir, "camera-"+name+".lock")
}

func acquireDeviceLock(lockDir, device string) (*deviceLock, error) {
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := lockPathFor(lockDir, device)
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock camera %s: %w", device, err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrConflict, "camera", "open",
			fmt.Sprintf("camera %s is in use by another capture", device), nil)
	}
	return &deviceLock{path: path, lock: lock}, nil
}

func (l *deviceLock) release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
