package ipc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tunnelctl/internal/logging"
	"tunnelctl/internal/metrics"
	"tunnelctl/internal/notifications"
)

const (
	// DefaultCallTimeout bounds calls made without an explicit timeout.
	DefaultCallTimeout = 3 * time.Minute
	maxLineBytes       = 16 << 20
	clientVersion      = "tunnelctl"
)

// Options configures a Client.
type Options struct {
	// Secret is the shared secret sent in the hello request.
	Secret uint64
	// AuthToken is an optional stored credential replayed in hello.
	AuthToken string
	// CallTimeout is used by calls that pass a zero timeout.
	CallTimeout time.Duration
	// EventsDisabled starts the client with the event gate closed.
	EventsDisabled bool
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Client is one connection to the control service.
type Client struct {
	conn        io.ReadWriteCloser
	opts        Options
	logger      *slog.Logger
	metrics     *metrics.Metrics
	sessionID   string
	callTimeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	started bool
	lastID  int64
	pending map[int64]chan callResult

	events notifications.Registry[Event]
	gate   *gate

	stateMu       sync.RWMutex
	hello         *HelloResponse
	session       SessionInfo
	account       *AccountStatus
	configParams  *ConfigParams
	vpnState      *VPNState
	killSwitch    *KillSwitchStatus
	catalog       *ServerCatalog
	connection    *ConnectionInfo
	catalogLoaded bool

	closing      chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
	finishOnce   sync.Once
	disconnected atomic.Bool
	errMu        sync.Mutex
	err          error
}

// New wraps an open connection. Call Start to begin reading.
func New(conn io.ReadWriteCloser, opts Options) *Client {
	sessionID := uuid.NewString()
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Client{
		conn:        conn,
		opts:        opts,
		logger:      logging.WithSession(logging.NewComponentLogger(opts.Logger, "ipc"), sessionID),
		metrics:     opts.Metrics,
		sessionID:   sessionID,
		callTimeout: timeout,
		pending:     make(map[int64]chan callResult),
		gate:        newGate(!opts.EventsDisabled),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the read loop and performs the hello exchange. The hello
// request asks for the server list, status, and config parameters so the
// client-held state is populated as soon as the replies arrive.
func (c *Client) Start(ctx context.Context) (*HelloResponse, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	if c.isClosing() {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.started = true
	c.mu.Unlock()

	c.metrics.SetConnected(true)
	go c.readLoop()

	req := &HelloRequest{
		RequestHeader:   newHeader(CmdHello),
		Version:         ProtocolVersion,
		Secret:          c.opts.Secret,
		GetServersList:  true,
		GetStatus:       true,
		GetConfigParams: true,
		AuthToken:       c.opts.AuthToken,
	}
	resp, err := callAs[HelloResponse](ctx, c, req, 0, TagHelloResp)
	if err != nil {
		return nil, err
	}
	c.logger.Info("control service session established",
		logging.String("service_version", resp.Version),
		logging.Bool("logged_in", resp.Session.LoggedIn()),
	)
	return resp, nil
}

// SessionID identifies this connection in logs.
func (c *Client) SessionID() string { return c.sessionID }

// Done is closed after the connection has shut down and ClientDisconnected
// has been published.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the session, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Disconnected reports whether the connection has shut down.
func (c *Client) Disconnected() bool { return c.disconnected.Load() }

// Close shuts the connection down. It does not wait for the read loop; use
// Done for that. Close is safe to call from an event handler.
func (c *Client) Close() error {
	err := c.triggerClose()
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		c.finish(nil)
	}
	return err
}

// EnableEvents resumes event delivery, releasing anything held in order.
func (c *Client) EnableEvents() { c.gate.enable() }

// DisableEvents holds event delivery until EnableEvents.
func (c *Client) DisableEvents() { c.gate.disable() }

// EventsEnabled reports the gate state.
func (c *Client) EventsEnabled() bool { return c.gate.isEnabled() }

func (c *Client) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *Client) triggerClose() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// finish runs once per client: it releases waiters, records the end of
// the connection, and publishes the single ClientDisconnected event.
func (c *Client) finish(loopErr error) {
	c.finishOnce.Do(func() {
		_ = c.triggerClose()
		c.disconnected.Store(true)
		c.setErr(loopErr)

		c.mu.Lock()
		abandoned := len(c.pending)
		clear(c.pending)
		c.mu.Unlock()
		c.metrics.AddPending(-abandoned)
		c.metrics.SetConnected(false)

		if loopErr != nil {
			c.logger.Warn("control service connection lost",
				logging.String(logging.FieldEventType, "client_disconnected"),
				logging.Error(loopErr),
				logging.Int("abandoned_calls", abandoned),
			)
		} else {
			c.logger.Info("control service connection closed", logging.Int("abandoned_calls", abandoned))
		}
		c.events.Publish(ClientDisconnected{Err: loopErr})
		close(c.done)
	})
}

func (c *Client) readLoop() {
	var loopErr error
	defer func() { c.finish(loopErr) }()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			c.logger.Debug("empty line from control service; ending session")
			return
		}
		if err := c.handleLine(line); err != nil {
			loopErr = err
			return
		}
		if c.isClosing() {
			return
		}
	}

	err := scanner.Err()
	switch {
	case err == nil, c.isClosing(), errors.Is(err, net.ErrClosed):
	case errors.Is(err, bufio.ErrTooLong):
		c.metrics.Fault(metrics.FaultFraming)
		loopErr = &FramingError{Line: "<oversized line>", Err: err}
	default:
		c.metrics.Fault(metrics.FaultRead)
		loopErr = err
	}
}

// handleLine processes one inbound line: parse, update state, resolve the
// waiting call, wait on the gate, publish events.
func (c *Client) handleLine(line []byte) error {
	env, err := parseEnvelope(line)
	if err != nil {
		c.metrics.Fault(metrics.FaultFraming)
		logging.ErrorWithContext(c.logger, "malformed message from control service", "framing_fault",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "restart the control service; the stream cannot be resynchronized"),
		)
		return err
	}
	c.metrics.MessageReceived(env.Command)

	handler, ok := dispatchTable[env.Command]
	if !ok {
		c.logger.Debug("ignoring unknown command", logging.Command(env.Command), logging.RequestID(env.ID))
		return nil
	}

	events, err := handler(c, env)
	if err != nil {
		derr := &DispatchError{Command: env.Command, Err: err}
		c.metrics.Fault(metrics.FaultDispatch)
		logging.ErrorWithContext(c.logger, "failed to handle control service message", "dispatch_fault",
			logging.Command(env.Command),
			logging.Error(err),
		)
		c.gate.wait(c.closing)
		c.events.Publish(UnexpectedFault{Err: derr})
		return derr
	}

	if env.ID != 0 {
		c.resolve(env)
	}

	if len(events) == 0 {
		return nil
	}
	c.gate.wait(c.closing)
	for _, ev := range events {
		c.events.Publish(ev)
	}
	return nil
}
