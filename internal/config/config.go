package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Auth contains principal token settings.
type Auth struct {
	JWTSecret       string `toml:"jwt_secret"`
	Issuer          string `toml:"issuer"`
	TokenTTLMinutes int    `toml:"token_ttl_minutes"`
}

// Camera contains video input and frame encoding settings.
type Camera struct {
	Device        string `toml:"device"`
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	Width         int    `toml:"width"`
	Height        int    `toml:"height"`
	Framerate     int    `toml:"framerate"`
	MaxFrameWidth int    `toml:"max_frame_width"`
	JPEGQuality   int    `toml:"jpeg_quality"`
	OpenTimeout   int    `toml:"open_timeout"`
}

// Capture contains sampling loop timing.
type Capture struct {
	IntervalSeconds      int `toml:"interval_seconds"`
	MaxInFlight          int `toml:"max_in_flight"`
	SubmitTimeoutSeconds int `toml:"submit_timeout_seconds"`
}

// Recognition contains settings for the external recognition service.
type Recognition struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Reconcile selects how conflicting ledger writes are ordered.
type Reconcile struct {
	// Policy is "receipt_order" (last arrival wins) or "capture_time"
	// (recognized writes older than the stored record are rejected).
	Policy string `toml:"policy"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for rollcall.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories, API bind address
//   - Auth: JWT signing secret and token lifetime
//   - Camera: video device, ffmpeg binary and frame encoding
//   - Capture: sampling interval and in-flight submission bound
//   - Recognition: external recognition endpoint
//   - Reconcile: ledger write ordering policy
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths"`
	Auth        Auth        `toml:"auth"`
	Camera      Camera      `toml:"camera"`
	Capture     Capture     `toml:"capture"`
	Recognition Recognition `toml:"recognition"`
	Reconcile   Reconcile   `toml:"reconcile"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and environment overrides applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("rollcall.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.LockDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite ledger location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "rollcall.db")
}

// LockDir holds per-device and daemon lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.DataDir, "locks")
}

// APIBaseURL returns the HTTP base the CLI uses to reach the daemon.
func (c *Config) APIBaseURL() string {
	bind := c.Paths.APIBind
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	return "http://" + bind
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the resolved configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	redacted := *c
	if redacted.Auth.JWTSecret != "" {
		redacted.Auth.JWTSecret = "<redacted>"
	}
	if redacted.Recognition.APIKey != "" {
		redacted.Recognition.APIKey = "<redacted>"
	}
	if redacted.Paths.APIToken != "" {
		redacted.Paths.APIToken = "<redacted>"
	}
	return toml.Marshal(redacted)
}
