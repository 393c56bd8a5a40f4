package preflight

import (
	"fmt"
	"strings"

	"rollcall/internal/camera"
)

// CameraProbe reports what is known about the configured camera.
type CameraProbe struct {
	Detected bool
	Device   string
	Name     string
	Others   int
}

// ProbeCamera looks the configured device up among discovered video nodes.
func ProbeCamera(device string) CameraProbe {
	device = strings.TrimSpace(device)
	if device == "" {
		device = "/dev/video0"
	}
	infos, err := camera.Discover()
	if err != nil {
		return CameraProbe{Device: device}
	}
	return probeFrom(device, infos)
}

func probeFrom(device string, infos []camera.Info) CameraProbe {
	probe := CameraProbe{Device: device}
	for _, info := range infos {
		if info.Path == device {
			probe.Detected = true
			probe.Name = info.Name
			continue
		}
		probe.Others++
	}
	return probe
}

// CameraDetail renders a display-friendly summary for status output.
func (p CameraProbe) CameraDetail() string {
	if !p.Detected {
		if p.Others > 0 {
			return fmt.Sprintf("%s not found (%d other video devices present)", p.Device, p.Others)
		}
		return fmt.Sprintf("%s not found", p.Device)
	}
	name := p.Name
	if name == "" {
		name = "Unnamed camera"
	}
	return fmt.Sprintf("%s on %s", name, p.Device)
}
