package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"tunnelctl/internal/bootstrap"
	"tunnelctl/internal/config"
	"tunnelctl/internal/ipc"
	"tunnelctl/internal/logging"
	"tunnelctl/internal/metrics"
	"tunnelctl/internal/servers"
)

type commandContext struct {
	configFlag    *string
	handshakeFlag *string
	logLevelFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error

	// metrics is set by commands that expose a Prometheus endpoint.
	metrics *metrics.Metrics
}

func newCommandContext(configFlag, handshakeFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:    configFlag,
		handshakeFlag: handshakeFlag,
		logLevelFlag:  logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := c.applyOverrides(cfg); err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) applyOverrides(cfg *config.Config) error {
	if c.handshakeFlag != nil && strings.TrimSpace(*c.handshakeFlag) != "" {
		path, err := config.ExpandPath(strings.TrimSpace(*c.handshakeFlag))
		if err != nil {
			return fmt.Errorf("resolve handshake file: %w", err)
		}
		cfg.Service.HandshakeFile = path
		cfg.Service.Port = 0
		cfg.Service.Secret = ""
	}
	if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(*c.logLevelFlag))
	}
	return cfg.Validate()
}

func (c *commandContext) log() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

// withClient connects, runs setup before the hello exchange so subscribers
// see the initial events, then runs fn. The connection is closed and
// drained before returning.
func (c *commandContext) withClient(ctx context.Context, setup func(*ipc.Client) error, fn func(*ipc.Client) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.log()
	if err != nil {
		return err
	}
	opts, err := bootstrapOptions(cfg, logger)
	if err != nil {
		return err
	}

	conn, err := bootstrap.Open(ctx, opts)
	if err != nil {
		return wrapDialError(err, cfg)
	}

	client := ipc.New(conn, ipc.Options{
		Secret:      conn.Params.Secret,
		AuthToken:   cfg.Service.AuthToken,
		CallTimeout: cfg.CallTimeout(),
		Logger:      logger,
		Metrics:     c.metrics,
	})
	defer func() {
		_ = client.Close()
		<-client.Done()
	}()

	if setup != nil {
		if err := setup(client); err != nil {
			return err
		}
	}
	if _, err := client.Start(ctx); err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	return fn(client)
}

// newAggregator builds an aggregator from the servers section of the config.
func (c *commandContext) newAggregator(client *ipc.Client, mode ipc.VPNType) (*servers.Aggregator, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.log()
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = ipc.VPNType(cfg.Servers.VPNMode)
	}
	return servers.NewAggregator(client, servers.Options{
		Mode:            mode,
		MinPingInterval: cfg.MinPingInterval(),
		PingTimeoutMs:   cfg.Servers.PingTimeoutMS,
		PingRetries:     cfg.Servers.PingRetries,
		Eligible:        servers.ExcludeGateways(cfg.Servers.ExcludedGateways),
		Logger:          logger,
		Metrics:         c.metrics,
	}), nil
}

func bootstrapOptions(cfg *config.Config, logger *slog.Logger) (bootstrap.Options, error) {
	opts := bootstrap.Options{
		HandshakePath: cfg.Service.HandshakeFile,
		Attempts:      cfg.Service.ConnectAttempts,
		Backoff:       cfg.ConnectBackoff(),
		DialTimeout:   cfg.DialTimeout(),
		Logger:        logger,
	}
	if cfg.UsesHandshakeFile() {
		return opts, nil
	}
	secret, err := bootstrap.ParseSecret(cfg.Service.Secret)
	if err != nil {
		return opts, fmt.Errorf("service secret: %w", err)
	}
	opts.Port = cfg.Service.Port
	opts.Secret = secret
	opts.HasSecret = true
	return opts, nil
}

func wrapDialError(err error, cfg *config.Config) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("connect to control service: handshake file %s not found; is the service running?", cfg.Service.HandshakeFile)
	case errors.Is(err, bootstrap.ErrMalformedHandshake):
		return fmt.Errorf("connect to control service: handshake file %s is malformed: %w", cfg.Service.HandshakeFile, err)
	case errors.Is(err, unix.ECONNREFUSED):
		return fmt.Errorf("connect to control service: connection refused; verify the service is running: %w", err)
	default:
		return fmt.Errorf("connect to control service: %w", err)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
