package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/daemon"
	"rollcall/internal/logging"
	"rollcall/internal/testsupport"
)

const cliAdminToken = "cli-admin-token"

type cliTestEnv struct {
	cfg        *config.Config
	store      *attendance.Store
	daemon     *daemon.Daemon
	course     testsupport.Course
	configPath string
	apiURL     string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	t.Setenv(envToken, "")

	recognizer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"matches":[]}`))
	}))
	t.Cleanup(recognizer.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithRecognitionURL(recognizer.URL))
	cfg.Paths.APIToken = cliAdminToken
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	configPath := filepath.Join(testsupport.BaseDir(cfg), "rollcall.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	course := testsupport.SeedCourse(t, store, "Physics", 3)

	d, err := daemon.New(cfg, store, logging.NewNop(), daemon.WithHotplug(false))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		course:     course,
		configPath: configPath,
		apiURL:     "http://" + d.APIAddress(),
	}
}

// run executes the CLI against the test daemon with the admin token.
func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runAs(t, cliAdminToken, args...)
}

func (e *cliTestEnv) runAs(t *testing.T, token string, args ...string) (string, error) {
	t.Helper()
	flags := []string{"--config", e.configPath, "--api", e.apiURL, "--token", token}
	stdout, _, err := runCLI(t, append(flags, args...))
	return stdout, err
}

func runCLI(t *testing.T, args []string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	onDisk := *cfg
	// Loaded configs must name a /dev camera; the daemon under test keeps its temp path.
	onDisk.Camera.Device = "/dev/video0"
	data, err := toml.Marshal(onDisk)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func decodeJSON[T any](t *testing.T, output string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(output), &v); err != nil {
		t.Fatalf("decode %q: %v", output, err)
	}
	return v
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
