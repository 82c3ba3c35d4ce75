package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeService(); err != nil {
		return err
	}
	c.normalizeServers()
	if err := c.normalizeLogging(); err != nil {
		return err
	}
	c.Metrics.Addr = strings.TrimSpace(c.Metrics.Addr)
	return nil
}

func (c *Config) normalizeService() error {
	if value, ok := os.LookupEnv("TUNNELCTL_HANDSHAKE_FILE"); ok && strings.TrimSpace(value) != "" {
		c.Service.HandshakeFile = strings.TrimSpace(value)
	}
	if c.Service.Port == 0 {
		if value, ok := os.LookupEnv("TUNNELCTL_PORT"); ok && strings.TrimSpace(value) != "" {
			port, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return fmt.Errorf("TUNNELCTL_PORT: %w", err)
			}
			c.Service.Port = port
		}
	}
	if strings.TrimSpace(c.Service.Secret) == "" {
		if value, ok := os.LookupEnv("TUNNELCTL_SECRET"); ok {
			c.Service.Secret = value
		}
	}
	c.Service.Secret = strings.ToLower(strings.TrimSpace(c.Service.Secret))
	c.Service.AuthToken = strings.TrimSpace(c.Service.AuthToken)

	var err error
	if c.Service.HandshakeFile, err = expandPath(strings.TrimSpace(c.Service.HandshakeFile)); err != nil {
		return fmt.Errorf("service.handshake_file: %w", err)
	}
	if c.Service.ConnectAttempts <= 0 {
		c.Service.ConnectAttempts = defaultConnectAttempts
	}
	if c.Service.ConnectBackoffMS <= 0 {
		c.Service.ConnectBackoffMS = defaultConnectBackoffMillis
	}
	if c.Service.DialTimeoutMS <= 0 {
		c.Service.DialTimeoutMS = defaultDialTimeoutMillis
	}
	if c.Service.CallTimeoutSeconds <= 0 {
		c.Service.CallTimeoutSeconds = defaultCallTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizeServers() {
	c.Servers.VPNMode = strings.ToLower(strings.TrimSpace(c.Servers.VPNMode))
	if c.Servers.VPNMode == "" {
		c.Servers.VPNMode = defaultVPNMode
	}
	if c.Servers.MinPingIntervalSeconds <= 0 {
		c.Servers.MinPingIntervalSeconds = defaultMinPingIntervalSeconds
	}
	if c.Servers.PingTimeoutMS <= 0 {
		c.Servers.PingTimeoutMS = defaultPingTimeoutMillis
	}
	if c.Servers.PingRetries <= 0 {
		c.Servers.PingRetries = defaultPingRetries
	}
	if len(c.Servers.ExcludedGateways) > 0 {
		gateways := make([]string, 0, len(c.Servers.ExcludedGateways))
		seen := make(map[string]struct{}, len(c.Servers.ExcludedGateways))
		for _, gw := range c.Servers.ExcludedGateways {
			normalized := strings.ToLower(strings.TrimSpace(gw))
			if normalized == "" {
				continue
			}
			if _, exists := seen[normalized]; exists {
				continue
			}
			seen[normalized] = struct{}{}
			gateways = append(gateways, normalized)
		}
		c.Servers.ExcludedGateways = gateways
	}
}

func (c *Config) normalizeLogging() error {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level

	var err error
	if c.Logging.Dir, err = expandPath(strings.TrimSpace(c.Logging.Dir)); err != nil {
		return fmt.Errorf("logging.dir: %w", err)
	}
	return nil
}
