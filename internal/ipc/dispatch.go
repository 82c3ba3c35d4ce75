package ipc

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"tunnelctl/internal/logging"
)

// handlerFunc decodes one message, applies it to client state, and returns
// the events to publish. An error ends the session.
type handlerFunc func(c *Client, env *Envelope) ([]Event, error)

var dispatchTable = map[string]handlerFunc{
	TagHelloResp:                     handleHello,
	TagConfigParamsResp:              handleConfigParams,
	TagServerListResp:                handleServerList,
	TagPingServersResp:               handlePingServers,
	TagVpnStateResp:                  handleVPNState,
	TagConnectedResp:                 handleConnected,
	TagDisconnectedResp:              handleDisconnected,
	TagDiagnosticsGeneratedResp:      decodeOnly[DiagnosticsResponse],
	TagServiceExitingResp:            handleServiceExiting,
	TagKillSwitchStatusResp:          handleKillSwitchStatus,
	TagKillSwitchGetIsPersistentResp: decodeOnly[killSwitchPersistentResp],
	TagSessionNewResp:                handleSessionNew,
	TagAccountStatusResp:             handleAccountStatus,
	TagSetAlternateDNSResp:           handleSetAlternateDNS,
	TagEmptyResp:                     handleEmpty,
	TagErrorResp:                     handleError,
}

// decodeOnly validates replies that carry no client state.
func decodeOnly[T any](_ *Client, env *Envelope) ([]Event, error) {
	var payload T
	if err := env.Decode(&payload); err != nil {
		return nil, err
	}
	return nil, nil
}

func handleHello(c *Client, env *Envelope) ([]Event, error) {
	var resp HelloResponse
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	c.stateMu.Lock()
	c.hello = &resp
	c.session = resp.Session
	if resp.Account != nil {
		account := *resp.Account
		c.account = &account
	}
	c.stateMu.Unlock()

	events := []Event{SessionChanged{Session: resp.Session}}
	if resp.Account != nil {
		events = append(events, AccountStatusReceived{SessionToken: resp.Session.Session, Account: *resp.Account})
	}
	return events, nil
}

func handleConfigParams(c *Client, env *Envelope) ([]Event, error) {
	var resp configParamsResp
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	params := resp.ConfigParams
	c.stateMu.Lock()
	c.configParams = &params
	c.stateMu.Unlock()
	return nil, nil
}

func handleServerList(c *Client, env *Envelope) ([]Event, error) {
	var resp serverListResp
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	catalog, err := buildCatalog(&resp)
	if err != nil {
		return nil, err
	}

	c.stateMu.Lock()
	initial := !c.catalogLoaded
	c.stateMu.Unlock()

	if empty := emptyServerLists(catalog); len(empty) > 0 {
		if initial {
			return nil, fmt.Errorf("%w: %v", ErrEmptyCatalog, empty)
		}
		logging.WarnWithContext(c.logger, "ignoring server list update with no servers", "server_list_ignored",
			logging.Any("empty_vpn_types", empty),
			logging.String(logging.FieldImpact, "previous server list kept"),
		)
		return nil, nil
	}

	c.stateMu.Lock()
	c.catalog = catalog
	c.catalogLoaded = true
	c.stateMu.Unlock()

	c.logger.Debug("server list received",
		logging.Int("wireguard", len(catalog.WireGuard)),
		logging.Int("openvpn", len(catalog.OpenVPN)),
		logging.Bool("initial", initial),
	)
	return []Event{ServerListReceived{Catalog: catalog, Initial: initial}}, nil
}

func emptyServerLists(catalog *ServerCatalog) []VPNType {
	var empty []VPNType
	if len(catalog.WireGuard) == 0 {
		empty = append(empty, VPNWireGuard)
	}
	if len(catalog.OpenVPN) == 0 {
		empty = append(empty, VPNOpenVPN)
	}
	return empty
}

// buildCatalog converts the wire lists into sorted descriptors. Each
// descriptor keeps its complete wire entry in Params.
func buildCatalog(resp *serverListResp) (*ServerCatalog, error) {
	wg, err := convertServers(resp.VPNServers.WireGuard)
	if err != nil {
		return nil, fmt.Errorf("wireguard servers: %w", err)
	}
	ovpn, err := convertServers(resp.VPNServers.OpenVPN)
	if err != nil {
		return nil, fmt.Errorf("openvpn servers: %w", err)
	}
	return &ServerCatalog{
		WireGuard:    wg,
		OpenVPN:      ovpn,
		DNS:          resp.VPNServers.Config.DNS,
		APIAddresses: resp.VPNServers.Config.API.IPs,
	}, nil
}

func convertServers(entries []json.RawMessage) ([]ServerDescriptor, error) {
	out := make([]ServerDescriptor, 0, len(entries))
	for i, raw := range entries {
		var ws wireServer
		if err := json.Unmarshal(raw, &ws); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if ws.Gateway == "" {
			return nil, fmt.Errorf("entry %d: %w", i, errors.New("missing gateway"))
		}
		hosts := make([]string, 0, len(ws.Hosts)+len(ws.IPAddresses))
		for _, h := range ws.Hosts {
			hosts = append(hosts, h.Host)
		}
		hosts = append(hosts, ws.IPAddresses...)
		out = append(out, ServerDescriptor{
			Gateway:     ws.Gateway,
			CountryCode: ws.CountryCode,
			Country:     ws.Country,
			City:        ws.City,
			Hosts:       hosts,
			Params:      slices.Clone(raw),
		})
	}
	SortServers(out)
	return out, nil
}

// SortServers orders descriptors by country code, then city. The sort is
// stable so equal keys keep wire order.
func SortServers(list []ServerDescriptor) {
	slices.SortStableFunc(list, func(a, b ServerDescriptor) int {
		return cmp.Or(cmp.Compare(a.CountryCode, b.CountryCode), cmp.Compare(a.City, b.City))
	})
}

func handlePingServers(_ *Client, env *Envelope) ([]Event, error) {
	var resp pingServersResp
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	return []Event{PingsReceived{Results: resp.PingResults}}, nil
}

func handleVPNState(c *Client, env *Envelope) ([]Event, error) {
	var resp vpnStateResp
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	state := resp.VPNState
	c.stateMu.Lock()
	c.vpnState = &state
	c.stateMu.Unlock()
	return []Event{ConnectionStateChanged{State: state}}, nil
}

func handleConnected(c *Client, env *Envelope) ([]Event, error) {
	var resp connectedResp
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	info := resp.ConnectionInfo
	c.stateMu.Lock()
	c.connection = &info
	c.stateMu.Unlock()
	return []Event{Connected{Info: info}}, nil
}

func handleDisconnected(c *Client, env *Envelope) ([]Event, error) {
	var resp disconnectedResp
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	c.stateMu.Lock()
	c.connection = nil
	c.stateMu.Unlock()
	return []Event{Disconnected{Info: resp.DisconnectionInfo}}, nil
}

func handleServiceExiting(c *Client, _ *Envelope) ([]Event, error) {
	c.logger.Info("control service is exiting")
	return []Event{ServiceExiting{}}, nil
}

func handleKillSwitchStatus(c *Client, env *Envelope) ([]Event, error) {
	var resp killSwitchStatusResp
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	status := resp.KillSwitchStatus
	c.stateMu.Lock()
	c.killSwitch = &status
	c.stateMu.Unlock()
	return []Event{KillSwitchStatusChanged{Status: status}}, nil
}

func handleSessionNew(c *Client, env *Envelope) ([]Event, error) {
	var resp SessionNewResponse
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	if resp.APIStatus != APIStatusOK {
		return nil, nil
	}
	if !resp.Session.LoggedIn() {
		return nil, errors.New("successful login carried no session token")
	}
	account := resp.Account
	c.stateMu.Lock()
	c.session = resp.Session
	c.account = &account
	c.stateMu.Unlock()
	return []Event{
		SessionChanged{Session: resp.Session},
		AccountStatusReceived{SessionToken: resp.Session.Session, Account: resp.Account},
	}, nil
}

func handleAccountStatus(c *Client, env *Envelope) ([]Event, error) {
	var resp AccountStatusResponse
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	if resp.APIStatus != APIStatusOK {
		return nil, nil
	}
	account := resp.Account
	c.stateMu.Lock()
	if resp.SessionToken == c.session.Session {
		c.account = &account
	}
	c.stateMu.Unlock()
	return []Event{AccountStatusReceived{SessionToken: resp.SessionToken, Account: resp.Account}}, nil
}

func handleSetAlternateDNS(_ *Client, env *Envelope) ([]Event, error) {
	var resp SetAlternateDNSResponse
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	if !resp.IsSuccess {
		return nil, nil
	}
	return []Event{AlternateDNSChanged{DNS: resp.ChangedDNS}}, nil
}

func handleEmpty(_ *Client, _ *Envelope) ([]Event, error) {
	return nil, nil
}

func handleError(c *Client, env *Envelope) ([]Event, error) {
	var resp errorResp
	if err := env.Decode(&resp); err != nil {
		return nil, err
	}
	if env.ID == 0 {
		logging.WarnWithContext(c.logger, "control service reported an error", "service_error",
			logging.String("service_message", resp.ErrorMessage),
			logging.String(logging.FieldImpact, "no pending call to receive it"),
		)
	}
	return nil, nil
}
