package testsupport

import (
	"path/filepath"
	"testing"

	"rollcall/internal/config"
)

// TestJWTSecret signs tokens in tests.
const TestJWTSecret = "rollcall-test-secret-0123456789"

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Auth.JWTSecret = TestJWTSecret
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Camera.Device = filepath.Join(base, "dev", "video0")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithReconcilePolicy overrides the ledger ordering policy.
func WithReconcilePolicy(policy string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Reconcile.Policy = policy
	}
}

// WithRecognitionURL points the recognition client at a test server.
func WithRecognitionURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Recognition.BaseURL = url
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
