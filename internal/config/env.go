package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// envOverrides holds raw environment values that take precedence over the file.
type envOverrides struct {
	JWTSecret         string `env:"ROLLCALL_JWT_SECRET"`
	APIBind           string `env:"ROLLCALL_API_BIND"`
	APIToken          string `env:"ROLLCALL_API_TOKEN"`
	RecognitionURL    string `env:"ROLLCALL_RECOGNITION_URL"`
	RecognitionAPIKey string `env:"ROLLCALL_RECOGNITION_API_KEY"`
	CameraDevice      string `env:"ROLLCALL_CAMERA_DEVICE"`
	LogLevel          string `env:"ROLLCALL_LOG_LEVEL"`
}

// applyEnv loads an optional .env file from the config directory and then
// overlays ROLLCALL_* variables. Variables already present in the process
// environment are never replaced by the .env file.
func (c *Config) applyEnv(configDir string) error {
	if configDir != "" {
		dotenv := filepath.Join(configDir, ".env")
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	var raw envOverrides
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	overlay := func(dst *string, value string) {
		if value = strings.TrimSpace(value); value != "" {
			*dst = value
		}
	}
	overlay(&c.Auth.JWTSecret, raw.JWTSecret)
	overlay(&c.Paths.APIBind, raw.APIBind)
	overlay(&c.Paths.APIToken, raw.APIToken)
	overlay(&c.Recognition.BaseURL, raw.RecognitionURL)
	overlay(&c.Recognition.APIKey, raw.RecognitionAPIKey)
	overlay(&c.Camera.Device, raw.CameraDevice)
	overlay(&c.Logging.Level, raw.LogLevel)
	return nil
}
