package ipc

import (
	"errors"
	"fmt"
)

var (
	// ErrCallTimeout is returned when no reply arrives within the call timeout.
	ErrCallTimeout = errors.New("control service call timed out")
	// ErrConnectionClosed is returned to pending and new calls once the
	// connection has shut down.
	ErrConnectionClosed = errors.New("control service connection closed")
	// ErrUnexpectedResponse is returned by typed calls whose reply has the
	// wrong tag or shape.
	ErrUnexpectedResponse = errors.New("unexpected response from control service")
	// ErrEmptyCatalog reports an initial server list with no servers for a
	// VPN type.
	ErrEmptyCatalog = errors.New("server list is empty")
	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("client already started")

	errNotObject      = errors.New("line is not a JSON object")
	errMissingCommand = errors.New("message has no command tag")
)

// ServiceError is an application-level failure reported by the service in
// reply to one call. The connection stays usable.
type ServiceError struct {
	Command string
	Message string
}

func (e *ServiceError) Error() string {
	if e.Command == "" {
		return "control service error: " + e.Message
	}
	return fmt.Sprintf("control service error for %s: %s", e.Command, e.Message)
}

// DispatchError wraps a handler failure with the command tag it was handling.
// It ends the session.
type DispatchError struct {
	Command string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("handle %s: %v", e.Command, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// FramingError reports an inbound line that cannot be parsed as a tagged
// message. Framing cannot be trusted afterwards, so it ends the session.
type FramingError struct {
	Line string
	Err  error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("malformed message %q: %v", e.Line, e.Err)
}

func (e *FramingError) Unwrap() error { return e.Err }

// APIError is a non-success status returned inside an otherwise valid reply
// (for example a rejected login).
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api status %d", e.Status)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}
