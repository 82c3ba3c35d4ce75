package ipc

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		command string
		id      int64
		wantErr error
	}{
		{name: "event", line: `{"command":"VpnStateResp","id":0,"state":"CONNECTED"}`, command: "VpnStateResp"},
		{name: "reply", line: `{"command":"EmptyResp","id":42}`, command: "EmptyResp", id: 42},
		{name: "missing id", line: `{"command":"ServiceExitingResp"}`, command: "ServiceExitingResp"},
		{name: "surrounding space", line: "  {\"command\":\"EmptyResp\",\"id\":1}\r", command: "EmptyResp", id: 1},
		{name: "array", line: `["command"]`, wantErr: errNotObject},
		{name: "scalar", line: `42`, wantErr: errNotObject},
		{name: "missing command", line: `{"id":3}`, wantErr: errMissingCommand},
		{name: "empty command", line: `{"command":"","id":3}`, wantErr: errMissingCommand},
		{name: "truncated", line: `{"command":"EmptyResp"`},
		{name: "wrong id type", line: `{"command":"EmptyResp","id":"7"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := parseEnvelope([]byte(tt.line))
			if tt.command == "" {
				var framing *FramingError
				if !errors.As(err, &framing) {
					t.Fatalf("expected *FramingError, got %v", err)
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseEnvelope returned error: %v", err)
			}
			if env.Command != tt.command || env.ID != tt.id {
				t.Fatalf("got (%q, %d), want (%q, %d)", env.Command, env.ID, tt.command, tt.id)
			}
		})
	}
}

func TestParseEnvelopeCopiesLine(t *testing.T) {
	line := []byte(`{"command":"EmptyResp","id":1}`)
	env, err := parseEnvelope(line)
	if err != nil {
		t.Fatalf("parseEnvelope returned error: %v", err)
	}
	line[2] = 'X'
	if !json.Valid(env.Raw) || !strings.Contains(string(env.Raw), `"command"`) {
		t.Fatalf("envelope shares the scanner buffer: %s", env.Raw)
	}
}

func TestFramingErrorTruncatesLine(t *testing.T) {
	long := strings.Repeat("x", 1000)
	_, err := parseEnvelope([]byte(long))
	var framing *FramingError
	if !errors.As(err, &framing) {
		t.Fatalf("expected *FramingError, got %v", err)
	}
	if len(framing.Line) > maxLoggedLine+3 {
		t.Fatalf("logged line not truncated: %d bytes", len(framing.Line))
	}
}

func TestEncodeRequestIsOneLine(t *testing.T) {
	req := &PingServersRequest{RequestHeader: newHeader(CmdPingServers), TimeOutMs: 3000, RetriesCount: 2}
	data, err := encodeRequest(req)
	if err != nil {
		t.Fatalf("encodeRequest returned error: %v", err)
	}
	if strings.Count(string(data), "\n") != 1 || data[len(data)-1] != '\n' {
		t.Fatalf("request is not a single terminated line: %q", data)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("request is not JSON: %v", err)
	}
	if fields["command"] != CmdPingServers || fields["id"] != float64(0) || fields["timeout_ms"] != float64(3000) {
		t.Fatalf("unexpected request fields %v", fields)
	}
}

func TestGateReleasesWaiters(t *testing.T) {
	g := newGate(false)
	if g.isEnabled() {
		t.Fatal("gate should start disabled")
	}

	released := make(chan bool, 1)
	go func() { released <- g.wait(make(chan struct{})) }()

	select {
	case <-released:
		t.Fatal("wait returned while gate disabled")
	case <-time.After(30 * time.Millisecond):
	}

	g.enable()
	g.enable()
	select {
	case ok := <-released:
		if !ok {
			t.Fatal("wait reported shutdown instead of enable")
		}
	case <-time.After(time.Second):
		t.Fatal("enable did not release waiter")
	}

	g.disable()
	g.disable()
	stop := make(chan struct{})
	close(stop)
	if g.wait(stop) {
		t.Fatal("wait should report release by shutdown")
	}
}
