package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"tunnelctl/internal/logging"
)

const (
	defaultAttempts    = 4
	defaultBackoff     = time.Second
	defaultDialTimeout = 2 * time.Second
)

// ErrNoParameters is returned when neither explicit parameters nor a
// handshake path are available.
var ErrNoParameters = errors.New("no connection parameters: set port and secret or a handshake file")

// Options controls parameter resolution and dialing.
type Options struct {
	// HandshakePath is read when Port or Secret is unset.
	HandshakePath string
	// Port and Secret bypass the handshake file when Port is nonzero and
	// HasSecret is true.
	Port      int
	Secret    uint64
	HasSecret bool

	Attempts    int
	Backoff     time.Duration
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// Conn is an open control-service connection plus the parameters used to
// reach it.
type Conn struct {
	net.Conn
	Params Params
}

func (o Options) direct() bool {
	return o.Port > 0 && o.HasSecret
}

// Open resolves connection parameters and dials the service. Explicit
// parameters get a single attempt. Handshake-file resolution retries up to
// Attempts times with a fixed Backoff between attempts; the last recorded
// error is returned when every attempt fails.
func Open(ctx context.Context, opts Options) (*Conn, error) {
	logger := logging.NewComponentLogger(opts.Logger, "bootstrap")
	if !opts.direct() && opts.HandshakePath == "" {
		return nil, ErrNoParameters
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	if opts.direct() {
		attempts = 1
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			logger.Debug("retrying control service connection",
				logging.Int("attempt", attempt),
				logging.Duration("delay", backoff),
			)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				if lastErr != nil {
					return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
				}
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		conn, err := openOnce(ctx, opts)
		if err == nil {
			logger.Debug("control service connection established",
				logging.Int("port", conn.Params.Port),
				logging.Int("attempt", attempt),
			)
			return conn, nil
		}
		lastErr = err
		logger.Debug("control service connection attempt failed",
			logging.Int("attempt", attempt),
			logging.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	if attempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("connect after %d attempts: %w", attempts, lastErr)
}

func openOnce(ctx context.Context, opts Options) (*Conn, error) {
	params := Params{Port: opts.Port, Secret: opts.Secret}
	if !opts.direct() {
		var err error
		params, err = ReadHandshake(ctx, opts.HandshakePath)
		if err != nil {
			return nil, err
		}
	}
	conn, err := Dial(ctx, params.Port, opts.DialTimeout)
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: conn, Params: params}, nil
}

// Dial opens a TCP connection to the loopback port with Nagle disabled so
// each request line is sent immediately.
func Dial(ctx context.Context, port int, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("dial control service: %w", err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set TCP_NODELAY: %w", err)
		}
	}
	return conn, nil
}
