package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CheckFFmpeg reports whether the configured ffmpeg binary can be executed.
// A bare name is resolved from PATH; a path must point at an executable file.
func CheckFFmpeg(binary string) Status {
	result := Status{
		Name:        "FFmpeg",
		Description: "Streams MJPEG frames from v4l2 cameras",
	}
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	result.Command = binary

	if !strings.ContainsRune(binary, filepath.Separator) {
		resolved, err := exec.LookPath(binary)
		if err != nil {
			result.Detail = fmt.Sprintf("binary %q not found", binary)
			return result
		}
		result.Command = resolved
		result.Available = true
		return result
	}

	info, err := os.Stat(binary)
	if err != nil {
		result.Detail = fmt.Sprintf("binary %q not found", binary)
		return result
	}
	if !isExecutable(info) {
		result.Detail = fmt.Sprintf("%q is not executable", binary)
		return result
	}
	result.Available = true
	return result
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
