package ipc

import (
	"bytes"
	"encoding/json"
)

// ProtocolVersion is sent in the hello request.
const ProtocolVersion = "1.0"

// Outbound command tags.
const (
	CmdHello                            = "Hello"
	CmdConnect                          = "Connect"
	CmdDisconnect                       = "Disconnect"
	CmdPingServers                      = "PingServers"
	CmdSetPreference                    = "SetPreference"
	CmdGenerateDiagnostics              = "GenerateDiagnostics"
	CmdKillSwitchSetEnabled             = "KillSwitchSetEnabled"
	CmdKillSwitchSetAllowLAN            = "KillSwitchSetAllowLAN"
	CmdKillSwitchSetAllowLANMulticast   = "KillSwitchSetAllowLANMulticast"
	CmdKillSwitchSetIsPersistent        = "KillSwitchSetIsPersistent"
	CmdKillSwitchGetIsPersistent        = "KillSwitchGetIsPersistent"
	CmdKillSwitchGetStatus              = "KillSwitchGetStatus"
	CmdSessionNew                       = "SessionNew"
	CmdSessionDelete                    = "SessionDelete"
	CmdAccountStatus                    = "AccountStatus"
	CmdSetAlternateDNS                  = "SetAlternateDns"
	CmdWireGuardGenerateNewKeys         = "WireGuardGenerateNewKeys"
	CmdWireGuardSetKeysRotationInterval = "WireGuardSetKeysRotationInterval"
	CmdPauseConnection                  = "PauseConnection"
	CmdResumeConnection                 = "ResumeConnection"
)

// Inbound command tags.
const (
	TagHelloResp                     = "HelloResp"
	TagConfigParamsResp              = "ConfigParamsResp"
	TagServerListResp                = "ServerListResp"
	TagPingServersResp               = "PingServersResp"
	TagVpnStateResp                  = "VpnStateResp"
	TagConnectedResp                 = "ConnectedResp"
	TagDisconnectedResp              = "DisconnectedResp"
	TagDiagnosticsGeneratedResp      = "DiagnosticsGeneratedResp"
	TagServiceExitingResp            = "ServiceExitingResp"
	TagKillSwitchStatusResp          = "KillSwitchStatusResp"
	TagKillSwitchGetIsPersistentResp = "KillSwitchGetIsPersistentResp"
	TagSessionNewResp                = "SessionNewResp"
	TagAccountStatusResp             = "AccountStatusResp"
	TagSetAlternateDNSResp           = "SetAlternateDnsResp"
	TagEmptyResp                     = "EmptyResp"
	TagErrorResp                     = "ErrorResp"
)

// Request is an outbound message. Concrete requests embed RequestHeader.
type Request interface {
	header() *RequestHeader
}

// RequestHeader carries the command tag and correlation id of a request.
// ID 0 means no reply is expected.
type RequestHeader struct {
	Command string `json:"command"`
	ID      int64  `json:"id"`
}

func (h *RequestHeader) header() *RequestHeader { return h }

func newHeader(command string) RequestHeader {
	return RequestHeader{Command: command}
}

// Envelope is a parsed inbound message. Raw holds the complete line so
// handlers can decode the command-specific payload.
type Envelope struct {
	Command string
	ID      int64
	Raw     json.RawMessage
}

// Decode unmarshals the full message into v.
func (e *Envelope) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

type envelopeHeader struct {
	Command string `json:"command"`
	ID      int64  `json:"id"`
}

// parseEnvelope validates that line is a JSON object with a non-empty
// command tag. The returned envelope owns a copy of line.
func parseEnvelope(line []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &FramingError{Line: truncateLine(trimmed), Err: errNotObject}
	}
	var hdr envelopeHeader
	if err := json.Unmarshal(trimmed, &hdr); err != nil {
		return nil, &FramingError{Line: truncateLine(trimmed), Err: err}
	}
	if hdr.Command == "" {
		return nil, &FramingError{Line: truncateLine(trimmed), Err: errMissingCommand}
	}
	raw := make(json.RawMessage, len(trimmed))
	copy(raw, trimmed)
	return &Envelope{Command: hdr.Command, ID: hdr.ID, Raw: raw}, nil
}

func encodeRequest(req Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

const maxLoggedLine = 256

func truncateLine(line []byte) string {
	if len(line) > maxLoggedLine {
		return string(line[:maxLoggedLine]) + "..."
	}
	return string(line)
}
