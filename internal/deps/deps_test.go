package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func writeStub(t *testing.T, path string, mode os.FileMode) {
	t.Helper()
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), mode); err != nil {
		t.Fatalf("write stub: %v", err)
	}
}

func TestCheckBinaries(t *testing.T) {
	present := filepath.Join(t.TempDir(), "present")
	writeStub(t, present, 0o755)
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  ", Optional: true},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}

	missing := Missing(results)
	if len(missing) != 1 || missing[0].Name != "Missing" {
		t.Fatalf("expected only the required missing binary, got %#v", missing)
	}
}

func TestCheckFFmpegPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "ffmpeg")
	writeStub(t, bin, 0o755)

	status := CheckFFmpeg(bin)
	if !status.Available || status.Command != bin {
		t.Fatalf("expected explicit ffmpeg path to be available, got %#v", status)
	}

	plain := filepath.Join(dir, "ffmpeg-noexec")
	writeStub(t, plain, 0o644)
	if status := CheckFFmpeg(plain); status.Available {
		t.Fatalf("expected non-executable file to be unavailable")
	}
	if status := CheckFFmpeg(filepath.Join(dir, "absent")); status.Available {
		t.Fatalf("expected missing path to be unavailable")
	}
}

func TestCheckFFmpegResolvesFromPath(t *testing.T) {
	dir := t.TempDir()
	writeStub(t, filepath.Join(dir, "ffmpeg"), 0o755)
	t.Setenv("PATH", dir)

	status := CheckFFmpeg("")
	if !status.Available {
		t.Fatalf("expected ffmpeg on PATH, got %#v", status)
	}
	if status.Command != filepath.Join(dir, "ffmpeg") {
		t.Fatalf("unexpected resolved command %q", status.Command)
	}
}
