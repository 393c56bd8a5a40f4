package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateCamera(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateRecognition(); err != nil {
		return err
	}
	if err := c.validateReconcile(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAuth() error {
	if c.Auth.JWTSecret == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("auth.jwt_secret is required. Set ROLLCALL_JWT_SECRET or edit %s (create with 'rollcall config init')", defaultPath)
	}
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("auth.jwt_secret must be at least 16 characters")
	}
	return nil
}

func (c *Config) validateCamera() error {
	if !strings.HasPrefix(c.Camera.Device, "/dev/") {
		return fmt.Errorf("camera.device must be a /dev path, got %q", c.Camera.Device)
	}
	if c.Camera.JPEGQuality < 1 || c.Camera.JPEGQuality > 100 {
		return errors.New("camera.jpeg_quality must be between 1 and 100")
	}
	if c.Camera.MaxFrameWidth < 64 {
		return errors.New("camera.max_frame_width must be at least 64")
	}
	return nil
}

func (c *Config) validateCapture() error {
	if c.Capture.IntervalSeconds < minCaptureIntervalSeconds || c.Capture.IntervalSeconds > maxCaptureIntervalSeconds {
		return fmt.Errorf("capture.interval_seconds must be between %d and %d", minCaptureIntervalSeconds, maxCaptureIntervalSeconds)
	}
	if c.Capture.MaxInFlight < 1 || c.Capture.MaxInFlight > maxCaptureInFlightSubmission {
		return fmt.Errorf("capture.max_in_flight must be between 1 and %d", maxCaptureInFlightSubmission)
	}
	return nil
}

func (c *Config) validateRecognition() error {
	parsed, err := url.Parse(c.Recognition.BaseURL)
	if err != nil {
		return fmt.Errorf("recognition.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("recognition.base_url must use http or https")
	}
	if parsed.Host == "" {
		return errors.New("recognition.base_url must include a host")
	}
	return nil
}

func (c *Config) validateReconcile() error {
	switch c.Reconcile.Policy {
	case PolicyReceiptOrder, PolicyCaptureTime:
		return nil
	default:
		return fmt.Errorf("reconcile.policy must be %q or %q, got %q", PolicyReceiptOrder, PolicyCaptureTime, c.Reconcile.Policy)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	return nil
}
