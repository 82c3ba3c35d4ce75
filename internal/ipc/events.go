package ipc

// Event is a notification published by the client. Subscribers type-switch
// on the concrete type.
type Event interface {
	EventName() string
}

// SessionChanged reports a new or updated login session.
type SessionChanged struct{ Session SessionInfo }

// AccountStatusReceived reports account state for a session token.
type AccountStatusReceived struct {
	SessionToken string
	Account      AccountStatus
}

// ConnectionStateChanged reports a tunnel state transition.
type ConnectionStateChanged struct{ State VPNState }

// Connected reports an established tunnel.
type Connected struct{ Info ConnectionInfo }

// Disconnected reports that the tunnel went down.
type Disconnected struct{ Info DisconnectionInfo }

// ServerListReceived carries a complete replacement catalog.
type ServerListReceived struct {
	Catalog *ServerCatalog
	Initial bool
}

// PingsReceived carries one round of ping measurements.
type PingsReceived struct{ Results []PingResult }

// KillSwitchStatusChanged reports the firewall state.
type KillSwitchStatusChanged struct{ Status KillSwitchStatus }

// AlternateDNSChanged reports the custom DNS server now in effect.
type AlternateDNSChanged struct{ DNS string }

// ServiceExiting reports that the service is shutting down.
type ServiceExiting struct{}

// UnexpectedFault reports a handler failure. The session ends right after.
type UnexpectedFault struct{ Err error }

// ClientDisconnected is published exactly once when the connection ends.
// Err is nil for an orderly end of stream or an explicit Close.
type ClientDisconnected struct{ Err error }

func (SessionChanged) EventName() string          { return "session_changed" }
func (AccountStatusReceived) EventName() string   { return "account_status_received" }
func (ConnectionStateChanged) EventName() string  { return "connection_state_changed" }
func (Connected) EventName() string               { return "connected" }
func (Disconnected) EventName() string            { return "disconnected" }
func (ServerListReceived) EventName() string      { return "server_list_received" }
func (PingsReceived) EventName() string           { return "pings_received" }
func (KillSwitchStatusChanged) EventName() string { return "kill_switch_status_changed" }
func (AlternateDNSChanged) EventName() string     { return "alternate_dns_changed" }
func (ServiceExiting) EventName() string          { return "service_exiting" }
func (UnexpectedFault) EventName() string         { return "unexpected_fault" }
func (ClientDisconnected) EventName() string      { return "client_disconnected" }

// Subscribe registers fn for every event and returns a function that removes
// it. Handlers run on the read goroutine in wire order and must not block on
// calls to the same client.
func (c *Client) Subscribe(fn func(Event)) (unsubscribe func()) {
	return c.events.Subscribe(fn)
}

// On registers fn for events of type T only.
func On[T Event](c *Client, fn func(T)) (unsubscribe func()) {
	return c.events.Subscribe(func(ev Event) {
		if typed, ok := ev.(T); ok {
			fn(typed)
		}
	})
}
