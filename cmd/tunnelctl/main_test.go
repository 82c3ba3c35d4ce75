package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"tunnelctl/internal/config"
	"tunnelctl/internal/ipc"
	"tunnelctl/internal/testsupport"
)

type cliTestEnv struct {
	svc        *testsupport.Service
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	svc := testsupport.StartService(t)
	cfg := testsupport.NewConfig(t, testsupport.WithService(svc))
	cfg.Logging.Level = "error"
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", base)

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{svc: svc, cfg: cfg, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, ctx context.Context, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := runCLI(t, context.Background(), args, e.configPath)
	return out, err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func testCatalog() map[string]any {
	return testsupport.ServerList(0,
		[]testsupport.FakeServer{
			{Gateway: "us-ny.wg", CountryCode: "US", Country: "United States", City: "New York", Hosts: []string{"10.0.0.1"}},
			{Gateway: "de-fra.wg", CountryCode: "DE", Country: "Germany", City: "Frankfurt", Hosts: []string{"10.0.0.2"}},
		},
		[]testsupport.FakeServer{
			{Gateway: "us-ny.ovpn", CountryCode: "US", Country: "United States", City: "New York", Hosts: []string{"10.1.0.1"}},
		},
	)
}

// serveCatalog answers hello with a logged-in session and a catalog, and
// answers ping requests with fixed results.
func serveCatalog(svc *testsupport.Service) {
	svc.Handle(ipc.CmdHello, func(req testsupport.ServiceRequest) []any {
		return []any{
			testsupport.Reply(ipc.TagHelloResp, req.ID, map[string]any{
				"version": "9.9",
				"session": map[string]any{"account_id": "acct-7", "session": "tok"},
				"account": map[string]any{"active": true, "active_until": 1893456000},
			}),
			testsupport.Reply(ipc.TagVpnStateResp, 0, map[string]any{"state": "DISCONNECTED"}),
			testCatalog(),
		}
	})
	svc.Handle(ipc.CmdPingServers, func(testsupport.ServiceRequest) []any {
		return []any{testsupport.PingResults(map[string]int{"10.0.0.1": 90, "10.0.0.2": 25})}
	})
	svc.Handle(ipc.CmdKillSwitchGetStatus, func(req testsupport.ServiceRequest) []any {
		return []any{testsupport.Reply(ipc.TagKillSwitchStatusResp, req.ID, map[string]any{"is_enabled": true, "is_allow_lan": true})}
	})
}

func emptyReply(req testsupport.ServiceRequest) []any {
	return []any{testsupport.Reply(ipc.TagEmptyResp, req.ID, nil)}
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	serveCatalog(env.svc)

	out, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "version 9.9")
	requireContains(t, out, "logged in as acct-7")
	requireContains(t, out, "Disconnected")
	requireContains(t, out, "enabled yes")
	requireContains(t, out, "2 WireGuard, 1 OpenVPN")

	out, err = env.run(t, "status", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var report statusReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode status json: %v\n%s", err, out)
	}
	if !report.LoggedIn || report.Servers[ipc.VPNWireGuard] != 2 || report.KillSwitch == nil || !report.KillSwitch.IsAllowLAN {
		t.Fatalf("unexpected status report %+v", report)
	}
}

func TestServersCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	serveCatalog(env.svc)

	out, err := env.run(t, "servers")
	if err != nil {
		t.Fatalf("servers: %v", err)
	}
	requireContains(t, out, "WireGuard servers (2)")
	requireContains(t, out, "de-fra.wg")
	requireContains(t, out, "us-ny.wg")

	out, err = env.run(t, "servers", "--ping", "--json")
	if err != nil {
		t.Fatalf("servers --ping: %v", err)
	}
	var rows []serverRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode servers json: %v\n%s", err, out)
	}
	if len(rows) != 2 || rows[0].Gateway != "de-fra.wg" {
		t.Fatalf("rows not sorted by country: %+v", rows)
	}
	if !rows[0].Fastest || rows[0].PingMs != 25 || rows[1].RelativePing != 1 {
		t.Fatalf("unexpected ranking %+v", rows)
	}

	out, err = env.run(t, "servers", "--mode", "openvpn")
	if err != nil {
		t.Fatalf("servers --mode openvpn: %v", err)
	}
	requireContains(t, out, "OpenVPN servers (1)")

	if _, err := env.run(t, "servers", "--mode", "ipsec"); err == nil {
		t.Fatal("expected unknown mode to fail")
	}
}

func TestPingCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	serveCatalog(env.svc)

	out, err := env.run(t, "ping")
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	requireContains(t, out, "Measured 2 of 2 WireGuard servers")
	requireContains(t, out, "Fastest: de-fra.wg (Frankfurt, Germany) 25 ms")

	req := env.svc.WaitRequest(ipc.CmdPingServers, 5*time.Second)
	if req.Number("timeout_ms") != float64(2*env.cfg.Servers.PingTimeoutMS) {
		t.Fatalf("first round should double the timeout: %s", req.Raw)
	}
}

func TestConnectCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	serveCatalog(env.svc)
	env.svc.Handle(ipc.CmdConnect, func(testsupport.ServiceRequest) []any {
		return []any{
			testsupport.Reply(ipc.TagVpnStateResp, 0, map[string]any{"state": "CONNECTING"}),
			testsupport.Reply(ipc.TagConnectedResp, 0, map[string]any{"server_ip": "10.0.0.1", "vpn_type": "wireguard"}),
		}
	})

	out, err := env.run(t, "connect", "--gateway", "US-NY.WG", "--firewall")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	requireContains(t, out, "Connecting to us-ny.wg (New York, United States) via WireGuard")
	requireContains(t, out, "Connected: 10.0.0.1")

	req := env.svc.WaitRequest(ipc.CmdConnect, 5*time.Second)
	params, _ := req.Fields["params"].(map[string]any)
	if params["gateway"] != "us-ny.wg" || !req.Bool("firewall_on") || req.String("vpn_type") != "wireguard" {
		t.Fatalf("unexpected connect request: %s", req.Raw)
	}
}

func TestConnectReportsFailure(t *testing.T) {
	env := setupCLITestEnv(t)
	serveCatalog(env.svc)
	env.svc.Handle(ipc.CmdConnect, func(testsupport.ServiceRequest) []any {
		return []any{testsupport.Reply(ipc.TagDisconnectedResp, 0, map[string]any{"failure": true, "reason_description": "handshake timed out"})}
	})

	_, err := env.run(t, "connect")
	if err == nil || !strings.Contains(err.Error(), "handshake timed out") {
		t.Fatalf("expected failure reason, got %v", err)
	}

	if _, err := env.run(t, "connect", "--gateway", "nowhere"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected unknown gateway error, got %v", err)
	}
}

func TestSimpleCommandsSurfaceServiceErrors(t *testing.T) {
	env := setupCLITestEnv(t)
	env.svc.Handle(ipc.CmdDisconnect, func(req testsupport.ServiceRequest) []any {
		return []any{testsupport.Reply(ipc.TagErrorResp, req.ID, map[string]any{"error_message": "not connected"})}
	})
	env.svc.Handle(ipc.CmdResumeConnection, emptyReply)
	env.svc.Handle(ipc.CmdPauseConnection, emptyReply)

	_, err := env.run(t, "disconnect")
	if err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Fatalf("expected service error, got %v", err)
	}

	out, err := env.run(t, "pause", "15m")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	requireContains(t, out, "paused for 15m0s")
	if req := env.svc.WaitRequest(ipc.CmdPauseConnection, 5*time.Second); req.Number("duration") != 900 {
		t.Fatalf("unexpected pause request: %s", req.Raw)
	}

	out, err = env.run(t, "resume")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	requireContains(t, out, "Connection resumed")

	if _, err := env.run(t, "pause", "soon"); err == nil {
		t.Fatal("expected invalid duration to fail")
	}
}

func TestKillSwitchSet(t *testing.T) {
	env := setupCLITestEnv(t)
	serveCatalog(env.svc)
	env.svc.Handle(ipc.CmdKillSwitchSetEnabled, emptyReply)
	env.svc.Handle(ipc.CmdKillSwitchSetAllowLAN, emptyReply)

	out, err := env.run(t, "killswitch", "set", "--enabled", "--allow-lan=false")
	if err != nil {
		t.Fatalf("killswitch set: %v", err)
	}
	requireContains(t, out, "enabled yes")

	if req := env.svc.WaitRequest(ipc.CmdKillSwitchSetAllowLAN, 5*time.Second); req.Bool("value") {
		t.Fatalf("allow-lan should be false: %s", req.Raw)
	}
	if req := env.svc.WaitRequest(ipc.CmdKillSwitchSetEnabled, 5*time.Second); !req.Bool("value") {
		t.Fatalf("enabled should be true: %s", req.Raw)
	}

	if _, err := env.run(t, "killswitch", "set"); err == nil {
		t.Fatal("expected error without flags")
	}
}

func TestSessionCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	env.svc.Handle(ipc.CmdSessionNew, func(req testsupport.ServiceRequest) []any {
		if req.String("account_id") == "bad" {
			return []any{testsupport.Reply(ipc.TagSessionNewResp, req.ID, map[string]any{"api_status": 401, "api_error_message": "account not found"})}
		}
		return []any{testsupport.Reply(ipc.TagSessionNewResp, req.ID, map[string]any{
			"api_status": 200,
			"session":    map[string]any{"account_id": req.String("account_id"), "session": "tok"},
			"account":    map[string]any{"active": true, "capabilities": []string{"multihop"}},
		})}
	})
	env.svc.Handle(ipc.CmdSessionDelete, emptyReply)

	_, err := env.run(t, "session", "new", "bad")
	if err == nil || !strings.Contains(err.Error(), "login rejected: account not found") {
		t.Fatalf("expected rejection, got %v", err)
	}

	out, err := env.run(t, "session", "new", "acct-1", "--force")
	if err != nil {
		t.Fatalf("session new: %v", err)
	}
	requireContains(t, out, "Logged in as acct-1")
	requireContains(t, out, "capabilities: multihop")

	out, err = env.run(t, "session", "delete")
	if err != nil {
		t.Fatalf("session delete: %v", err)
	}
	requireContains(t, out, "Logged out")

	if _, err := env.run(t, "account"); err == nil || !strings.Contains(err.Error(), "not logged in") {
		t.Fatalf("expected logged-out account error, got %v", err)
	}
}

func TestSettingsCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	env.svc.Handle(ipc.CmdSetAlternateDNS, func(req testsupport.ServiceRequest) []any {
		return []any{testsupport.Reply(ipc.TagSetAlternateDNSResp, req.ID, map[string]any{"is_success": true, "changed_dns": req.String("dns")})}
	})
	env.svc.Handle(ipc.CmdWireGuardSetKeysRotationInterval, emptyReply)
	env.svc.Handle(ipc.CmdSetPreference, emptyReply)
	env.svc.Handle(ipc.CmdGenerateDiagnostics, func(req testsupport.ServiceRequest) []any {
		return []any{testsupport.Reply(ipc.TagDiagnosticsGeneratedResp, req.ID, map[string]any{"service_log": "line one\n"})}
	})

	out, err := env.run(t, "dns", "set", "9.9.9.9")
	if err != nil {
		t.Fatalf("dns set: %v", err)
	}
	requireContains(t, out, "DNS: 9.9.9.9")
	if _, err := env.run(t, "dns", "set", "not-an-ip"); err == nil {
		t.Fatal("expected invalid address to fail")
	}

	if _, err := env.run(t, "wireguard", "rotation", "72h"); err != nil {
		t.Fatalf("wireguard rotation: %v", err)
	}
	if req := env.svc.WaitRequest(ipc.CmdWireGuardSetKeysRotationInterval, 5*time.Second); req.Number("interval") != 72*3600 {
		t.Fatalf("unexpected rotation request: %s", req.Raw)
	}

	out, err = env.run(t, "preference", "set", "enable_logging", "true")
	if err != nil {
		t.Fatalf("preference set: %v", err)
	}
	requireContains(t, out, "enable_logging = true")

	target := filepath.Join(t.TempDir(), "diag.txt")
	if _, err := env.run(t, "diagnostics", "-o", target); err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read diagnostics: %v", err)
	}
	requireContains(t, string(data), "== Service log ==\nline one")
}

// The aggregator asks for pings only after the hello reply and the catalog
// behind it were handled, so the first ping request marks a started session.
func TestWatchStreamsEvents(t *testing.T) {
	env := setupCLITestEnv(t)
	env.svc.Handle(ipc.CmdHello, func(req testsupport.ServiceRequest) []any {
		return []any{
			testsupport.Reply(ipc.TagHelloResp, req.ID, map[string]any{"version": "9.9"}),
			testsupport.Reply(ipc.TagVpnStateResp, 0, map[string]any{"state": "CONNECTING"}),
			testCatalog(),
		}
	})
	started := make(chan struct{})
	go func() {
		defer close(started)
		env.svc.WaitRequest(ipc.CmdPingServers, 5*time.Second)
		env.svc.DropClient()
	}()

	out, _, err := runCLI(t, context.Background(), []string{"watch", "--json"}, env.configPath)
	<-started
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var rec eventRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("decode event line %q: %v", line, err)
		}
		names = append(names, rec.Event)
	}
	joined := strings.Join(names, ",")
	requireContains(t, joined, "session_changed,connection_state_changed,server_list_received")
	requireContains(t, joined, "server_list_changed")
	if !strings.HasSuffix(joined, "client_disconnected") {
		t.Fatalf("expected stream to end with client_disconnected, got %s", joined)
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	env := setupCLITestEnv(t)
	serveCatalog(env.svc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{})
	go func() {
		defer close(started)
		env.svc.WaitRequest(ipc.CmdPingServers, 5*time.Second)
		cancel()
	}()

	out, _, err := runCLI(t, ctx, []string{"watch", "--metrics-addr", "127.0.0.1:0"}, env.configPath)
	<-started
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	requireContains(t, out, "logged in as acct-7")
	requireContains(t, out, "server_list_received")
}

func TestDialErrors(t *testing.T) {
	env := setupCLITestEnv(t)
	missing := filepath.Join(t.TempDir(), "absent", "port.txt")

	_, _, err := runCLI(t, context.Background(), []string{"--handshake-file", missing, "status"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "not found; is the service running?") {
		t.Fatalf("expected missing handshake hint, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "port.txt")
	if err := os.WriteFile(bad, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	_, _, err = runCLI(t, context.Background(), []string{"--handshake-file", bad, "status"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "is malformed") {
		t.Fatalf("expected malformed handshake error, got %v", err)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, fmt.Sprintf("handshake file %s (port %d)", env.svc.HandshakePath, env.svc.Port))

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, err = env.run(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, err := env.run(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}
}

func TestConfigValidateRejectsMalformedHandshake(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.WriteFile(env.svc.HandshakePath, []byte("8080"), 0o600); err != nil {
		t.Fatalf("rewrite handshake: %v", err)
	}
	if _, err := env.run(t, "config", "validate"); err == nil || !strings.Contains(err.Error(), "malformed handshake file") {
		t.Fatalf("expected malformed handshake error, got %v", err)
	}
}

func TestConfigShowMasksCredentials(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Service.AuthToken = "s3cr3t-token"
	writeTestConfig(t, env.configPath, env.cfg)

	out, err := env.run(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "s3cr3t-token") {
		t.Fatalf("auth token leaked:\n%s", out)
	}
	requireContains(t, out, "[redacted]")
	requireContains(t, out, env.svc.HandshakePath)
}

func TestVersionCommand(t *testing.T) {
	out, _, err := runCLI(t, context.Background(), []string{"version"}, "")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Fatalf("version output = %q", out)
	}
}
