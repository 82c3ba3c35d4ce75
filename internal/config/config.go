package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Service describes how to reach the privileged control service.
type Service struct {
	HandshakeFile      string `toml:"handshake_file"`
	Port               int    `toml:"port"`
	Secret             string `toml:"secret"`
	ConnectAttempts    int    `toml:"connect_attempts"`
	ConnectBackoffMS   int    `toml:"connect_backoff_ms"`
	DialTimeoutMS      int    `toml:"dial_timeout_ms"`
	CallTimeoutSeconds int    `toml:"call_timeout_seconds"`
	// AuthToken is a stored session credential replayed in the hello request.
	AuthToken string `toml:"auth_token"`
}

// Servers contains server catalog and ping measurement settings.
type Servers struct {
	VPNMode                string   `toml:"vpn_mode"`
	MinPingIntervalSeconds int      `toml:"min_ping_interval_seconds"`
	PingTimeoutMS          int      `toml:"ping_timeout_ms"`
	PingRetries            int      `toml:"ping_retries"`
	ExcludedGateways       []string `toml:"excluded_gateways"`
}

// Logging contains configuration for log output.
type Logging struct {
	Dir    string `toml:"dir"`
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics contains configuration for the Prometheus endpoint.
type Metrics struct {
	Addr string `toml:"addr"`
}

// Config encapsulates all configuration values for tunnelctl.
//
// Configuration sections by subsystem:
//   - Service: handshake file or explicit port/secret, retry and timeout budgets
//   - Servers: active VPN mode, ping throttling and measurement parameters
//   - Logging: log directory, format, and level
//   - Metrics: optional Prometheus listen address
type Config struct {
	Service Service `toml:"service"`
	Servers Servers `toml:"servers"`
	Logging Logging `toml:"logging"`
	Metrics Metrics `toml:"metrics"`
}

const (
	// ConfigEnvVar names a config file consulted before the default locations.
	ConfigEnvVar = "TUNNELCTL_CONFIG"
	// ProjectConfigName is the working-directory fallback.
	ProjectConfigName = "tunnelctl.toml"
)

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tunnelctl/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
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

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// resolveConfigPath picks the explicit path if given, else the first
// existing candidate: $TUNNELCTL_CONFIG, the per-user file, then
// ./tunnelctl.toml. With no candidate on disk the per-user path is returned.
func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		return statConfig(path)
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	candidates := []string{defaultPath, ProjectConfigName}
	if env := strings.TrimSpace(os.Getenv(ConfigEnvVar)); env != "" {
		candidates = append([]string{env}, candidates...)
	}
	for _, candidate := range candidates {
		resolved, exists, err := statConfig(candidate)
		if err != nil {
			return "", false, err
		}
		if exists {
			return resolved, true, nil
		}
	}
	return defaultPath, false, nil
}

func statConfig(path string) (string, bool, error) {
	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return expanded, false, nil
	case err != nil:
		return "", false, fmt.Errorf("stat config: %w", err)
	case info.IsDir():
		return "", false, fmt.Errorf("config path %s is a directory", expanded)
	}
	return expanded, true, nil
}

// EnsureDirectories creates the log directory when file logging is configured.
func (c *Config) EnsureDirectories() error {
	if strings.TrimSpace(c.Logging.Dir) == "" {
		return nil
	}
	if err := os.MkdirAll(c.Logging.Dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Logging.Dir, err)
	}
	return nil
}

// UsesHandshakeFile reports whether connection parameters come from the
// handshake file rather than explicit port/secret values.
func (c *Config) UsesHandshakeFile() bool {
	return c.Service.Port == 0 || strings.TrimSpace(c.Service.Secret) == ""
}

// ConnectBackoff returns the fixed delay between handshake attempts.
func (c *Config) ConnectBackoff() time.Duration {
	return time.Duration(c.Service.ConnectBackoffMS) * time.Millisecond
}

// DialTimeout returns the TCP dial timeout.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Service.DialTimeoutMS) * time.Millisecond
}

// CallTimeout returns the default upper bound for synchronous calls.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Service.CallTimeoutSeconds) * time.Second
}

// MinPingInterval returns the manual ping throttle window.
func (c *Config) MinPingInterval() time.Duration {
	return time.Duration(c.Servers.MinPingIntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return "", nil
	}
	if pathValue == "~" || strings.HasPrefix(pathValue, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		pathValue = filepath.Join(home, strings.TrimPrefix(pathValue, "~"))
	}
	absolute, err := filepath.Abs(pathValue)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
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
