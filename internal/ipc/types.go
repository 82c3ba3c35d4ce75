package ipc

import (
	"encoding/json"
	"time"
)

// VPNType selects the tunnel protocol.
type VPNType string

const (
	VPNWireGuard VPNType = "wireguard"
	VPNOpenVPN   VPNType = "openvpn"
)

// APIStatusOK is the api_status value of a successful account operation.
const APIStatusOK = 200

// SessionInfo describes the logged-in session.
type SessionInfo struct {
	AccountID           string `json:"account_id"`
	Session             string `json:"session"`
	WgPublicKey         string `json:"wg_public_key"`
	WgLocalIP           string `json:"wg_local_ip"`
	WgKeyGenerated      int64  `json:"wg_key_generated"`
	WgKeysRegenInterval int64  `json:"wg_keys_regen_interval"`
}

// LoggedIn reports whether the session carries a token.
func (s SessionInfo) LoggedIn() bool { return s.Session != "" }

// KeyGenerated returns the WireGuard key generation time.
func (s SessionInfo) KeyGenerated() time.Time {
	if s.WgKeyGenerated == 0 {
		return time.Time{}
	}
	return time.Unix(s.WgKeyGenerated, 0)
}

// KeyRotationInterval returns the WireGuard key rotation interval.
func (s SessionInfo) KeyRotationInterval() time.Duration {
	return time.Duration(s.WgKeysRegenInterval) * time.Second
}

// AccountStatus describes the subscription state of an account.
type AccountStatus struct {
	Active         bool     `json:"active"`
	ActiveUntil    int64    `json:"active_until"`
	IsRenewable    bool     `json:"is_renewable"`
	WillAutoRebill bool     `json:"will_auto_rebill"`
	IsFreeTrial    bool     `json:"is_free_trial"`
	Capabilities   []string `json:"capabilities"`
}

// ConfigParams are service-side settings reported after hello.
type ConfigParams struct {
	UserDefinedOvpnFile string   `json:"user_defined_ovpn_file"`
	APIAlternateIPs     []string `json:"api_alternate_ips"`
}

// VPNState is the tunnel state machine position reported by the service.
type VPNState struct {
	StateVal            int    `json:"state_val"`
	State               string `json:"state"`
	StateAdditionalInfo string `json:"state_additional_info"`
}

// ConnectionInfo describes an established tunnel.
type ConnectionInfo struct {
	TimeSecFrom1970 int64   `json:"time_sec_from_1970"`
	ClientIP        string  `json:"client_ip"`
	ServerIP        string  `json:"server_ip"`
	VPNType         VPNType `json:"vpn_type"`
	ExitServerID    string  `json:"exit_server_id"`
	ManualDNS       string  `json:"manual_dns"`
	IsTCP           bool    `json:"is_tcp"`
	ServerPort      int     `json:"server_port"`
}

// Since returns when the tunnel came up.
func (c ConnectionInfo) Since() time.Time {
	return time.Unix(c.TimeSecFrom1970, 0)
}

// DisconnectionInfo describes why a tunnel went down.
type DisconnectionInfo struct {
	Failure           bool   `json:"failure"`
	Authentication    bool   `json:"authentication"`
	ReasonDescription string `json:"reason_description"`
}

// KillSwitchStatus is the firewall state.
type KillSwitchStatus struct {
	IsEnabled        bool `json:"is_enabled"`
	IsPersistent     bool `json:"is_persistent"`
	IsAllowLAN       bool `json:"is_allow_lan"`
	IsAllowMulticast bool `json:"is_allow_multicast"`
}

// ServerDescriptor is an immutable catalog entry. Params holds the complete
// protocol-specific entry as received.
type ServerDescriptor struct {
	Gateway     string          `json:"gateway"`
	CountryCode string          `json:"country_code"`
	Country     string          `json:"country"`
	City        string          `json:"city"`
	Hosts       []string        `json:"hosts"`
	Params      json.RawMessage `json:"params,omitempty"`
}

// HasHost reports whether host is one of the server's addresses.
func (d ServerDescriptor) HasHost(host string) bool {
	for _, h := range d.Hosts {
		if h == host {
			return true
		}
	}
	return false
}

// DNSConfig is the shared DNS configuration published with the catalog.
type DNSConfig struct {
	AntiTracker         string `json:"antitracker"`
	AntiTrackerHardcore string `json:"antitracker_hardcore"`
}

// ServerCatalog is the full server set for every VPN type. It is replaced
// wholesale and never modified after construction.
type ServerCatalog struct {
	WireGuard    []ServerDescriptor `json:"wireguard"`
	OpenVPN      []ServerDescriptor `json:"openvpn"`
	DNS          DNSConfig          `json:"dns"`
	APIAddresses []string           `json:"api_addresses,omitempty"`
}

// Servers returns the list for the given VPN type.
func (c *ServerCatalog) Servers(vpn VPNType) []ServerDescriptor {
	if c == nil {
		return nil
	}
	if vpn == VPNOpenVPN {
		return c.OpenVPN
	}
	return c.WireGuard
}

// PingResult is one host's measured round-trip time.
type PingResult struct {
	Host string `json:"host"`
	Ping int    `json:"ping"`
}

// Requests.

// HelloRequest opens the session.
type HelloRequest struct {
	RequestHeader
	Version         string `json:"version"`
	Secret          uint64 `json:"secret"`
	GetServersList  bool   `json:"get_servers_list"`
	GetStatus       bool   `json:"get_status"`
	GetConfigParams bool   `json:"get_config_params"`
	AuthToken       string `json:"auth_token,omitempty"`
}

// ConnectRequest starts a tunnel. Progress arrives as state events.
type ConnectRequest struct {
	RequestHeader
	VPNType         VPNType         `json:"vpn_type"`
	Params          json.RawMessage `json:"params,omitempty"`
	ManualDNS       string          `json:"manual_dns,omitempty"`
	FirewallOn      bool            `json:"firewall_on"`
	FirewallOnlyVPN bool            `json:"firewall_during_connection"`
}

// PingServersRequest asks the service to measure every server.
type PingServersRequest struct {
	RequestHeader
	TimeOutMs    int `json:"timeout_ms"`
	RetriesCount int `json:"retries_count"`
}

// SetPreferenceRequest stores one service preference.
type SetPreferenceRequest struct {
	RequestHeader
	Key   string `json:"key"`
	Value string `json:"value"`
}

// BoolRequest covers the kill-switch setters.
type BoolRequest struct {
	RequestHeader
	Value bool `json:"value"`
}

// SessionNewRequest logs in.
type SessionNewRequest struct {
	RequestHeader
	AccountID  string `json:"account_id"`
	ForceLogin bool   `json:"force_login"`
	Captcha    string `json:"captcha,omitempty"`
	Confirm2FA string `json:"confirmation_2fa,omitempty"`
}

// SessionDeleteRequest logs out.
type SessionDeleteRequest struct {
	RequestHeader
	NeedToDisableFirewall bool `json:"need_to_disable_firewall"`
}

// SetAlternateDNSRequest sets or clears the custom DNS server.
type SetAlternateDNSRequest struct {
	RequestHeader
	DNS string `json:"dns"`
}

// WireGuardGenerateKeysRequest rotates WireGuard keys.
type WireGuardGenerateKeysRequest struct {
	RequestHeader
	OnlyUpdateIfNecessary bool `json:"only_update_if_necessary"`
}

// WireGuardSetKeysRotationIntervalRequest sets the key rotation interval.
type WireGuardSetKeysRotationIntervalRequest struct {
	RequestHeader
	Interval int64 `json:"interval"`
}

// PauseConnectionRequest pauses the tunnel for a duration.
type PauseConnectionRequest struct {
	RequestHeader
	Duration int64 `json:"duration"`
}

// EmptyRequest carries only a command tag.
type EmptyRequest struct {
	RequestHeader
}

// Responses.

// HelloResponse is the reply to hello.
type HelloResponse struct {
	Version       string         `json:"version"`
	ProcessorArch string         `json:"processor_arch"`
	Session       SessionInfo    `json:"session"`
	Account       *AccountStatus `json:"account,omitempty"`
}

type configParamsResp struct {
	ConfigParams
}

type serverListResp struct {
	VPNServers struct {
		WireGuard []json.RawMessage `json:"wireguard"`
		OpenVPN   []json.RawMessage `json:"openvpn"`
		Config    struct {
			DNS DNSConfig `json:"dns"`
			API struct {
				IPs []string `json:"ips"`
			} `json:"api"`
		} `json:"config"`
	} `json:"vpn_servers"`
}

// wireServer is the subset of a server entry shared by both VPN types.
// WireGuard entries list hosts as objects; OpenVPN entries list bare addresses.
type wireServer struct {
	Gateway     string `json:"gateway"`
	CountryCode string `json:"country_code"`
	Country     string `json:"country"`
	City        string `json:"city"`
	Hosts       []struct {
		Host string `json:"host"`
	} `json:"hosts"`
	IPAddresses []string `json:"ip_addresses"`
}

type pingServersResp struct {
	PingResults []PingResult `json:"ping_results"`
}

type vpnStateResp struct {
	VPNState
}

type connectedResp struct {
	ConnectionInfo
}

type disconnectedResp struct {
	DisconnectionInfo
}

// DiagnosticsResponse carries the generated diagnostics text.
type DiagnosticsResponse struct {
	ServiceLog0 string `json:"service_log_0"`
	ServiceLog  string `json:"service_log"`
	ExtraInfo   string `json:"extra_info"`
}

type killSwitchStatusResp struct {
	KillSwitchStatus
}

type killSwitchPersistentResp struct {
	IsPersistent bool `json:"is_persistent"`
}

// SessionNewResponse is the reply to a login attempt.
type SessionNewResponse struct {
	APIStatus       int           `json:"api_status"`
	APIErrorMessage string        `json:"api_error_message"`
	Session         SessionInfo   `json:"session"`
	Account         AccountStatus `json:"account"`
}

// AccountStatusResponse is the reply to an account status query.
type AccountStatusResponse struct {
	APIStatus       int           `json:"api_status"`
	APIErrorMessage string        `json:"api_error_message"`
	SessionToken    string        `json:"session_token"`
	Account         AccountStatus `json:"account"`
}

// SetAlternateDNSResponse reports whether the DNS change took effect.
type SetAlternateDNSResponse struct {
	IsSuccess  bool   `json:"is_success"`
	ChangedDNS string `json:"changed_dns"`
}

type errorResp struct {
	ErrorMessage string `json:"error_message"`
}
