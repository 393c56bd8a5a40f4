package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rollcall/internal/camera"
	"rollcall/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckCameraDevice_RegularFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "video0")
	if err := os.WriteFile(f, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckCameraDevice(f)
	if result.Passed || !strings.Contains(result.Detail, "not a character device") {
		t.Fatalf("expected character device failure, got %+v", result)
	}
	missing := CheckCameraDevice(filepath.Join(t.TempDir(), "video9"))
	if missing.Passed || !strings.Contains(missing.Detail, "does not exist") {
		t.Fatalf("expected missing device failure, got %+v", missing)
	}
}

func TestCheckRecognition_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := CheckRecognition(context.Background(), config.Recognition{BaseURL: srv.URL, APIKey: "good-key"})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckRecognition_BadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	result := CheckRecognition(context.Background(), config.Recognition{BaseURL: srv.URL, APIKey: "bad-key"})
	if result.Passed {
		t.Fatal("expected failure for bad key")
	}
	if !strings.Contains(result.Detail, "auth failed") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckRecognition_MissingURL(t *testing.T) {
	result := CheckRecognition(context.Background(), config.Recognition{})
	if result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_ReportsEachCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Camera.Device = filepath.Join(t.TempDir(), "video0")
	cfg.Recognition.BaseURL = srv.URL

	results := RunAll(context.Background(), &cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Camera" {
		t.Fatalf("expected only the camera check to fail, got %+v", failed)
	}
}

func TestProbeFrom(t *testing.T) {
	infos := []camera.Info{{Path: "/dev/video0", Name: "Front"}, {Path: "/dev/video2"}}
	probe := probeFrom("/dev/video0", infos)
	if !probe.Detected || probe.Name != "Front" || probe.Others != 1 {
		t.Fatalf("unexpected probe %+v", probe)
	}
	if detail := probe.CameraDetail(); detail != "Front on /dev/video0" {
		t.Fatalf("unexpected detail %q", detail)
	}
	missing := probeFrom("/dev/video4", infos)
	if missing.Detected || !strings.Contains(missing.CameraDetail(), "2 other video devices") {
		t.Fatalf("unexpected missing probe %+v %q", missing, missing.CameraDetail())
	}
}
