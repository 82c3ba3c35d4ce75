package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Connect asks the service to bring the tunnel up. Progress is reported
// through ConnectionStateChanged, Connected, and Disconnected events.
func (c *Client) Connect(req ConnectRequest) error {
	req.RequestHeader = newHeader(CmdConnect)
	return c.Send(&req)
}

// Disconnect asks the service to bring the tunnel down.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.expectEmpty(ctx, &EmptyRequest{RequestHeader: newHeader(CmdDisconnect)})
}

// PingServers starts a measurement round. Results arrive as a PingsReceived
// event.
func (c *Client) PingServers(timeoutMs, retries int) error {
	return c.Send(&PingServersRequest{
		RequestHeader: newHeader(CmdPingServers),
		TimeOutMs:     timeoutMs,
		RetriesCount:  retries,
	})
}

// SetPreference stores a service preference.
func (c *Client) SetPreference(ctx context.Context, key, value string) error {
	return c.expectEmpty(ctx, &SetPreferenceRequest{RequestHeader: newHeader(CmdSetPreference), Key: key, Value: value})
}

// GenerateDiagnostics asks the service for its diagnostic logs. This can
// take a while, so it uses the full default call timeout.
func (c *Client) GenerateDiagnostics(ctx context.Context) (*DiagnosticsResponse, error) {
	return callAs[DiagnosticsResponse](ctx, c, &EmptyRequest{RequestHeader: newHeader(CmdGenerateDiagnostics)}, 0, TagDiagnosticsGeneratedResp)
}

// KillSwitchSetEnabled turns the firewall on or off.
func (c *Client) KillSwitchSetEnabled(ctx context.Context, enabled bool) error {
	return c.setBool(ctx, CmdKillSwitchSetEnabled, enabled)
}

// KillSwitchSetAllowLAN toggles LAN access while the firewall is on.
func (c *Client) KillSwitchSetAllowLAN(ctx context.Context, allow bool) error {
	return c.setBool(ctx, CmdKillSwitchSetAllowLAN, allow)
}

// KillSwitchSetAllowLANMulticast toggles LAN multicast while the firewall is on.
func (c *Client) KillSwitchSetAllowLANMulticast(ctx context.Context, allow bool) error {
	return c.setBool(ctx, CmdKillSwitchSetAllowLANMulticast, allow)
}

// KillSwitchSetIsPersistent makes the firewall survive service restarts.
func (c *Client) KillSwitchSetIsPersistent(ctx context.Context, persistent bool) error {
	return c.setBool(ctx, CmdKillSwitchSetIsPersistent, persistent)
}

// KillSwitchGetIsPersistent reports whether the firewall is persistent.
func (c *Client) KillSwitchGetIsPersistent(ctx context.Context) (bool, error) {
	resp, err := callAs[killSwitchPersistentResp](ctx, c, &EmptyRequest{RequestHeader: newHeader(CmdKillSwitchGetIsPersistent)}, 0, TagKillSwitchGetIsPersistentResp)
	if err != nil {
		return false, err
	}
	return resp.IsPersistent, nil
}

// KillSwitchGetStatus fetches the firewall state.
func (c *Client) KillSwitchGetStatus(ctx context.Context) (*KillSwitchStatus, error) {
	resp, err := callAs[killSwitchStatusResp](ctx, c, &EmptyRequest{RequestHeader: newHeader(CmdKillSwitchGetStatus)}, 0, TagKillSwitchStatusResp)
	if err != nil {
		return nil, err
	}
	return &resp.KillSwitchStatus, nil
}

// SessionNew logs in. A reply with a non-success api status is returned
// along with an *APIError.
func (c *Client) SessionNew(ctx context.Context, req SessionNewRequest) (*SessionNewResponse, error) {
	req.RequestHeader = newHeader(CmdSessionNew)
	resp, err := callAs[SessionNewResponse](ctx, c, &req, 0, TagSessionNewResp)
	if err != nil {
		return nil, err
	}
	if resp.APIStatus != APIStatusOK {
		return resp, &APIError{Status: resp.APIStatus, Message: resp.APIErrorMessage}
	}
	return resp, nil
}

// SessionDelete logs out and forgets the local session.
func (c *Client) SessionDelete(ctx context.Context, disableFirewall bool) error {
	err := c.expectEmpty(ctx, &SessionDeleteRequest{RequestHeader: newHeader(CmdSessionDelete), NeedToDisableFirewall: disableFirewall})
	if err != nil {
		return err
	}
	c.stateMu.Lock()
	c.session = SessionInfo{}
	c.account = nil
	c.stateMu.Unlock()
	return nil
}

// AccountStatus fetches the subscription state of the current session.
func (c *Client) AccountStatus(ctx context.Context) (*AccountStatusResponse, error) {
	resp, err := callAs[AccountStatusResponse](ctx, c, &EmptyRequest{RequestHeader: newHeader(CmdAccountStatus)}, 0, TagAccountStatusResp)
	if err != nil {
		return nil, err
	}
	if resp.APIStatus != APIStatusOK {
		return resp, &APIError{Status: resp.APIStatus, Message: resp.APIErrorMessage}
	}
	return resp, nil
}

// SetAlternateDNS sets the custom DNS server. An empty dns resets it.
func (c *Client) SetAlternateDNS(ctx context.Context, dns string) (*SetAlternateDNSResponse, error) {
	resp, err := callAs[SetAlternateDNSResponse](ctx, c, &SetAlternateDNSRequest{RequestHeader: newHeader(CmdSetAlternateDNS), DNS: dns}, 0, TagSetAlternateDNSResp)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess {
		return resp, fmt.Errorf("%w: service rejected DNS %q", ErrUnexpectedResponse, dns)
	}
	return resp, nil
}

// WireGuardGenerateNewKeys rotates the WireGuard keys. With onlyIfNecessary
// the service skips rotation when the current keys are still fresh.
func (c *Client) WireGuardGenerateNewKeys(ctx context.Context, onlyIfNecessary bool) error {
	return c.expectEmpty(ctx, &WireGuardGenerateKeysRequest{RequestHeader: newHeader(CmdWireGuardGenerateNewKeys), OnlyUpdateIfNecessary: onlyIfNecessary})
}

// WireGuardSetKeysRotationInterval sets how often keys rotate.
func (c *Client) WireGuardSetKeysRotationInterval(ctx context.Context, interval time.Duration) error {
	return c.expectEmpty(ctx, &WireGuardSetKeysRotationIntervalRequest{
		RequestHeader: newHeader(CmdWireGuardSetKeysRotationInterval),
		Interval:      int64(interval / time.Second),
	})
}

// PauseConnection pauses the tunnel for d.
func (c *Client) PauseConnection(ctx context.Context, d time.Duration) error {
	return c.expectEmpty(ctx, &PauseConnectionRequest{RequestHeader: newHeader(CmdPauseConnection), Duration: int64(d / time.Second)})
}

// ResumeConnection resumes a paused tunnel.
func (c *Client) ResumeConnection(ctx context.Context) error {
	return c.expectEmpty(ctx, &EmptyRequest{RequestHeader: newHeader(CmdResumeConnection)})
}

func (c *Client) setBool(ctx context.Context, command string, value bool) error {
	return c.expectEmpty(ctx, &BoolRequest{RequestHeader: newHeader(command), Value: value})
}

func (c *Client) expectEmpty(ctx context.Context, req Request) error {
	_, err := callAs[json.RawMessage](ctx, c, req, 0, TagEmptyResp)
	return err
}

// Hello returns the hello reply received at start, or nil before it arrives.
func (c *Client) Hello() *HelloResponse {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.hello
}

// Session returns the current session. The zero value means logged out.
func (c *Client) Session() SessionInfo {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.session
}

// Account returns the last account status for the current session.
func (c *Client) Account() (AccountStatus, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.account == nil {
		return AccountStatus{}, false
	}
	return *c.account, true
}

// ConfigParams returns the service configuration, if received.
func (c *Client) ConfigParams() (ConfigParams, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.configParams == nil {
		return ConfigParams{}, false
	}
	return *c.configParams, true
}

// VPNState returns the last reported tunnel state.
func (c *Client) VPNState() (VPNState, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.vpnState == nil {
		return VPNState{}, false
	}
	return *c.vpnState, true
}

// KillSwitch returns the last reported firewall state.
func (c *Client) KillSwitch() (KillSwitchStatus, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.killSwitch == nil {
		return KillSwitchStatus{}, false
	}
	return *c.killSwitch, true
}

// Catalog returns the current server catalog. The returned value must not be
// modified; it is shared with other readers.
func (c *Client) Catalog() *ServerCatalog {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.catalog
}

// Connected returns the active tunnel, if any.
func (c *Client) Connected() (ConnectionInfo, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.connection == nil {
		return ConnectionInfo{}, false
	}
	return *c.connection, true
}
