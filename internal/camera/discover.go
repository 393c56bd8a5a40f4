package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	defaultDevDir   = "/dev"
	defaultSysfsDir = "/sys/class/video4linux"
)

// Info describes a video input node.
type Info struct {
	Path string
	Name string
}

// Discover lists the V4L2 character devices on the host.
func Discover() ([]Info, error) {
	return discoverIn(defaultDevDir, defaultSysfsDir)
}

var isCharDevice = func(path string) bool {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFCHR
}

func discoverIn(devDir, sysfsDir string) ([]Info, error) {
	matches, err := filepath.Glob(filepath.Join(devDir, "video*"))
	if err != nil {
		return nil, fmt.Errorf("list video devices: %w", err)
	}
	slices.Sort(matches)
	devices := make([]Info, 0, len(matches))
	for _, path := range matches {
		if !isCharDevice(path) {
			continue
		}
		devices = append(devices, Info{
			Path: path,
			Name: readDeviceName(sysfsDir, filepath.Base(path)),
		})
	}
	return devices, nil
}

func readDeviceName(sysfsDir, node string) string {
	data, err := os.ReadFile(filepath.Join(sysfsDir, node, "name"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
