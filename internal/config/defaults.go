package config

const (
	defaultConfigPath            = "~/.config/rollcall/config.toml"
	defaultDataDir               = "~/.local/share/rollcall"
	defaultLogDir                = "~/.local/share/rollcall/logs"
	defaultAPIBind               = "127.0.0.1:7591"
	defaultIssuer                = "rollcall"
	defaultTokenTTLMinutes       = 12 * 60
	defaultCameraDevice          = "/dev/video0"
	defaultFFmpegBinary          = "ffmpeg"
	defaultCameraWidth           = 1280
	defaultCameraHeight          = 720
	defaultCameraFramerate       = 2
	defaultMaxFrameWidth         = 960
	defaultJPEGQuality           = 80
	defaultCameraOpenTimeout     = 10
	defaultCaptureInterval       = 5
	defaultCaptureSubmitTimeout  = 20
	defaultRecognitionBaseURL    = "http://127.0.0.1:8000"
	defaultRecognitionTimeout    = 15
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	PolicyReceiptOrder           = "receipt_order"
	PolicyCaptureTime            = "capture_time"
	defaultReconcilePolicy       = PolicyReceiptOrder
	minCaptureIntervalSeconds    = 1
	maxCaptureIntervalSeconds    = 300
	maxCaptureInFlightSubmission = 16
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Auth: Auth{
			Issuer:          defaultIssuer,
			TokenTTLMinutes: defaultTokenTTLMinutes,
		},
		Camera: Camera{
			Device:        defaultCameraDevice,
			FFmpegBinary:  defaultFFmpegBinary,
			Width:         defaultCameraWidth,
			Height:        defaultCameraHeight,
			Framerate:     defaultCameraFramerate,
			MaxFrameWidth: defaultMaxFrameWidth,
			JPEGQuality:   defaultJPEGQuality,
			OpenTimeout:   defaultCameraOpenTimeout,
		},
		Capture: Capture{
			IntervalSeconds:      defaultCaptureInterval,
			MaxInFlight:          InFlightFor(defaultCaptureInterval, defaultCaptureSubmitTimeout),
			SubmitTimeoutSeconds: defaultCaptureSubmitTimeout,
		},
		Recognition: Recognition{
			BaseURL:        defaultRecognitionBaseURL,
			TimeoutSeconds: defaultRecognitionTimeout,
		},
		Reconcile: Reconcile{
			Policy: defaultReconcilePolicy,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

// InFlightFor sizes the submission window so every tick inside one submit
// timeout can have a request outstanding. Ticks are only skipped once that
// many requests are stalled at once.
func InFlightFor(intervalSeconds, submitTimeoutSeconds int) int {
	if intervalSeconds <= 0 || submitTimeoutSeconds <= 0 {
		return 1
	}
	slots := (submitTimeoutSeconds+intervalSeconds-1)/intervalSeconds + 1
	return min(slots, maxCaptureInFlightSubmission)
}
