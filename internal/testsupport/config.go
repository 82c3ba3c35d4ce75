package testsupport

import (
	"path/filepath"
	"testing"

	"tunnelctl/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retry budgets are shortened so failing connections do not slow tests down.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Service.HandshakeFile = filepath.Join(base, "run", "port.txt")
	cfgVal.Service.ConnectAttempts = 2
	cfgVal.Service.ConnectBackoffMS = 10
	cfgVal.Service.CallTimeoutSeconds = 5
	cfgVal.Logging.Dir = filepath.Join(base, "logs")

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

// WithService points the config at a running fake service's handshake file.
func WithService(svc *Service) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Service.HandshakeFile = svc.HandshakePath
	}
}

// WithVPNMode overrides the active VPN mode.
func WithVPNMode(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Servers.VPNMode = mode
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Logging.Dir)
}
