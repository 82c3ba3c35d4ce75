package ipc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"tunnelctl/internal/logging"
	"tunnelctl/internal/metrics"
)

type callResult struct {
	env *Envelope
	err error
}

// register allocates the next request id and installs its waiter. Ids are
// strictly increasing, never 0, and skip any id still pending after a wrap.
func (c *Client) register() (int64, chan callResult) {
	ch := make(chan callResult, 1)
	c.mu.Lock()
	for {
		if c.lastID == math.MaxInt64 {
			c.lastID = 0
		}
		c.lastID++
		if _, busy := c.pending[c.lastID]; !busy {
			break
		}
	}
	id := c.lastID
	c.pending[id] = ch
	c.mu.Unlock()
	c.metrics.AddPending(1)
	return id, ch
}

func (c *Client) unregister(id int64) {
	c.mu.Lock()
	_, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		c.metrics.AddPending(-1)
	}
}

// resolve hands env to the waiter registered for env.ID. The waiter is
// removed before delivery, so later messages with the same id are dropped.
func (c *Client) resolve(env *Envelope) {
	c.mu.Lock()
	ch, ok := c.pending[env.ID]
	delete(c.pending, env.ID)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("discarding reply with no pending call",
			logging.Command(env.Command),
			logging.RequestID(env.ID),
		)
		return
	}
	c.metrics.AddPending(-1)

	res := callResult{env: env}
	if env.Command == TagErrorResp {
		var payload errorResp
		if err := env.Decode(&payload); err != nil {
			res.err = fmt.Errorf("%w: decode error reply: %v", ErrUnexpectedResponse, err)
		} else {
			res.err = &ServiceError{Message: payload.ErrorMessage}
		}
		res.env = nil
	}
	ch <- res
}

// write serializes req onto the connection as one line.
func (c *Client) write(req Request) error {
	data, err := encodeRequest(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", req.header().Command, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosing() {
		return ErrConnectionClosed
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", req.header().Command, err)
	}
	return nil
}

// Send writes a request that expects no reply (id 0).
func (c *Client) Send(req Request) error {
	if c.isClosing() {
		return ErrConnectionClosed
	}
	req.header().ID = 0
	return c.write(req)
}

// Call sends req and waits for the reply carrying its id. A zero timeout
// uses the client default. The outcome is the reply envelope, a
// *ServiceError for an error reply, ErrCallTimeout, ErrConnectionClosed, or
// ctx.Err().
func (c *Client) Call(ctx context.Context, req Request, timeout time.Duration) (*Envelope, error) {
	command := req.header().Command
	start := time.Now()
	env, err := c.call(ctx, req, timeout)
	c.metrics.ObserveCall(command, callOutcome(err), time.Since(start))
	return env, err
}

func (c *Client) call(ctx context.Context, req Request, timeout time.Duration) (*Envelope, error) {
	if c.isClosing() {
		return nil, ErrConnectionClosed
	}
	if timeout <= 0 {
		timeout = c.callTimeout
	}

	id, ch := c.register()
	defer c.unregister(id)

	hdr := req.header()
	hdr.ID = id
	logger := logging.WithContext(logging.WithRequestID(logging.WithCommand(ctx, hdr.Command), id), c.logger)
	logger.Debug("sending request")

	if err := c.write(req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.env, tagServiceError(res.err, hdr.Command)
	case <-timer.C:
		logger.Debug("request timed out", logging.Duration("timeout", timeout))
		return nil, ErrCallTimeout
	case <-c.closing:
		select {
		case res := <-ch:
			return res.env, tagServiceError(res.err, hdr.Command)
		default:
		}
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func tagServiceError(err error, command string) error {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Command == "" {
		svcErr.Command = command
	}
	return err
}

// callAs performs a call and decodes the reply into T after checking that
// its tag is want.
func callAs[T any](ctx context.Context, c *Client, req Request, timeout time.Duration, want string) (*T, error) {
	env, err := c.Call(ctx, req, timeout)
	if err != nil {
		return nil, err
	}
	if env.Command != want {
		c.logger.Warn("unexpected reply tag",
			logging.Command(req.header().Command),
			logging.String("want", want),
			logging.String("got", env.Command),
			logging.String(logging.FieldImpact, "call result discarded"),
		)
		return nil, fmt.Errorf("%w: %s replied with %s, want %s", ErrUnexpectedResponse, req.header().Command, env.Command, want)
	}
	var out T
	if err := env.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUnexpectedResponse, want, err)
	}
	return &out, nil
}

func callOutcome(err error) string {
	var svcErr *ServiceError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &svcErr):
		return metrics.OutcomeServiceError
	case errors.Is(err, ErrCallTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, ErrConnectionClosed):
		return metrics.OutcomeClosed
	}
	return metrics.CallOutcome(err, metrics.OutcomeWriteFailed)
}
