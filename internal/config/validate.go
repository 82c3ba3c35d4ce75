package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateService(); err != nil {
		return err
	}
	if err := c.validateServers(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateService() error {
	if c.Service.Port < 0 || c.Service.Port > 65535 {
		return fmt.Errorf("service.port must be between 1 and 65535, got %d", c.Service.Port)
	}
	if c.Service.Secret != "" {
		if _, err := strconv.ParseUint(c.Service.Secret, 16, 64); err != nil {
			return errors.New("service.secret must be a hexadecimal value")
		}
	}
	if c.UsesHandshakeFile() && c.Service.HandshakeFile == "" {
		return errors.New("service.handshake_file must be set unless service.port and service.secret are provided")
	}
	return ensurePositiveMap(map[string]int{
		"service.connect_attempts":     c.Service.ConnectAttempts,
		"service.connect_backoff_ms":   c.Service.ConnectBackoffMS,
		"service.dial_timeout_ms":      c.Service.DialTimeoutMS,
		"service.call_timeout_seconds": c.Service.CallTimeoutSeconds,
	})
}

func (c *Config) validateServers() error {
	switch c.Servers.VPNMode {
	case "wireguard", "openvpn":
	default:
		return fmt.Errorf("servers.vpn_mode: unsupported value %q (want wireguard or openvpn)", c.Servers.VPNMode)
	}
	return ensurePositiveMap(map[string]int{
		"servers.min_ping_interval_seconds": c.Servers.MinPingIntervalSeconds,
		"servers.ping_timeout_ms":           c.Servers.PingTimeoutMS,
		"servers.ping_retries":              c.Servers.PingRetries,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
