package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAuth()
	c.normalizeCamera()
	c.normalizeCapture()
	c.normalizeRecognition()
	c.normalizeReconcile()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeAuth() {
	c.Auth.JWTSecret = strings.TrimSpace(c.Auth.JWTSecret)
	c.Auth.Issuer = strings.TrimSpace(c.Auth.Issuer)
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = defaultIssuer
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		c.Auth.TokenTTLMinutes = defaultTokenTTLMinutes
	}
}

func (c *Config) normalizeCamera() {
	c.Camera.Device = strings.TrimSpace(c.Camera.Device)
	if c.Camera.Device == "" {
		c.Camera.Device = defaultCameraDevice
	}
	c.Camera.FFmpegBinary = strings.TrimSpace(c.Camera.FFmpegBinary)
	if c.Camera.FFmpegBinary == "" {
		c.Camera.FFmpegBinary = defaultFFmpegBinary
	}
	if c.Camera.Width <= 0 {
		c.Camera.Width = defaultCameraWidth
	}
	if c.Camera.Height <= 0 {
		c.Camera.Height = defaultCameraHeight
	}
	if c.Camera.Framerate <= 0 {
		c.Camera.Framerate = defaultCameraFramerate
	}
	if c.Camera.MaxFrameWidth <= 0 {
		c.Camera.MaxFrameWidth = defaultMaxFrameWidth
	}
	if c.Camera.JPEGQuality == 0 {
		c.Camera.JPEGQuality = defaultJPEGQuality
	}
	if c.Camera.OpenTimeout <= 0 {
		c.Camera.OpenTimeout = defaultCameraOpenTimeout
	}
}

func (c *Config) normalizeCapture() {
	if c.Capture.IntervalSeconds == 0 {
		c.Capture.IntervalSeconds = defaultCaptureInterval
	}
	if c.Capture.SubmitTimeoutSeconds <= 0 {
		c.Capture.SubmitTimeoutSeconds = defaultCaptureSubmitTimeout
	}
	if c.Capture.MaxInFlight == 0 {
		c.Capture.MaxInFlight = InFlightFor(c.Capture.IntervalSeconds, c.Capture.SubmitTimeoutSeconds)
	}
}

func (c *Config) normalizeRecognition() {
	c.Recognition.BaseURL = strings.TrimRight(strings.TrimSpace(c.Recognition.BaseURL), "/")
	if c.Recognition.BaseURL == "" {
		c.Recognition.BaseURL = defaultRecognitionBaseURL
	}
	c.Recognition.APIKey = strings.TrimSpace(c.Recognition.APIKey)
	if c.Recognition.TimeoutSeconds <= 0 {
		c.Recognition.TimeoutSeconds = defaultRecognitionTimeout
	}
}

func (c *Config) normalizeReconcile() {
	c.Reconcile.Policy = strings.ToLower(strings.TrimSpace(c.Reconcile.Policy))
	if c.Reconcile.Policy == "" {
		c.Reconcile.Policy = defaultReconcilePolicy
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
