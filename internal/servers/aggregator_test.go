package servers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"tunnelctl/internal/ipc"
	"tunnelctl/internal/testsupport"
)

type fakePinger struct {
	mu    sync.Mutex
	calls [][2]int
}

func (p *fakePinger) PingServers(timeoutMs, retries int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, [2]int{timeoutMs, retries})
	return nil
}

func (p *fakePinger) Calls() [][2]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][2]int(nil), p.calls...)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func server(gateway, country, city string, hosts ...string) ipc.ServerDescriptor {
	return ipc.ServerDescriptor{Gateway: gateway, CountryCode: country, City: city, Hosts: hosts}
}

func catalog(wg ...ipc.ServerDescriptor) *ipc.ServerCatalog {
	return &ipc.ServerCatalog{
		WireGuard: wg,
		OpenVPN:   []ipc.ServerDescriptor{server("nl.ovpn", "NL", "Amsterdam", "10.9.0.1")},
	}
}

func newTestAggregator(t *testing.T, opts Options) (*Aggregator, *fakePinger, *fakeClock) {
	t.Helper()
	pinger := &fakePinger{}
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	opts.Now = clock.Now
	return NewAggregator(pinger, opts), pinger, clock
}

func location(t *testing.T, a *Aggregator, gateway string) ServerLocation {
	t.Helper()
	for _, loc := range a.Locations() {
		if loc.Server.Gateway == gateway {
			return loc
		}
	}
	t.Fatalf("gateway %q not in list", gateway)
	return ServerLocation{}
}

func TestReplaceCatalogCarriesMeasurementsByGateway(t *testing.T) {
	agg, _, _ := newTestAggregator(t, Options{})
	agg.ReplaceCatalog(catalog(
		server("a", "US", "Austin", "1.1.1.1"),
		server("b", "US", "Boston", "2.2.2.2"),
		server("c", "US", "Chicago", "3.3.3.3"),
	))
	agg.ApplyPings([]ipc.PingResult{{Host: "1.1.1.1", Ping: 50}, {Host: "2.2.2.2", Ping: 100}})
	if !agg.SetSelected("b", true) {
		t.Fatal("SetSelected did not find gateway b")
	}
	before := location(t, agg, "b")

	agg.ReplaceCatalog(catalog(
		server("b", "US", "Boston", "2.2.2.9"),
		server("c", "US", "Chicago", "3.3.3.3"),
		server("d", "US", "Denver", "4.4.4.4"),
	))

	b := location(t, agg, "b")
	if b.PingMs != 100 || b.RelativePing != 1 || !b.Selected || !b.MeasuredAt.Equal(before.MeasuredAt) {
		t.Fatalf("gateway b not carried over: %+v", b)
	}
	if c := location(t, agg, "c"); c.Measured() || c.Selected {
		t.Fatalf("gateway c should stay unmeasured: %+v", c)
	}
	if d := location(t, agg, "d"); d.Measured() || d.RelativePing != 0 || d.Selected {
		t.Fatalf("new gateway d should start unmeasured: %+v", d)
	}
	if n := len(agg.Locations()); n != 3 {
		t.Fatalf("expected 3 locations, got %d", n)
	}
}

func TestNormalizationAndFastest(t *testing.T) {
	agg, _, _ := newTestAggregator(t, Options{})
	agg.ReplaceCatalog(catalog(
		server("a", "DE", "Berlin", "1.1.1.1"),
		server("b", "DE", "Frankfurt", "2.2.2.2"),
		server("c", "DE", "Munich", "3.3.3.3"),
	))
	agg.ApplyPings([]ipc.PingResult{{Host: "1.1.1.1", Ping: 50}, {Host: "2.2.2.2", Ping: 100}})

	tests := []struct {
		gateway  string
		relative float64
		measured bool
	}{
		{gateway: "a", relative: 0, measured: true},
		{gateway: "b", relative: 1, measured: true},
		{gateway: "c", relative: 0, measured: false},
	}
	for _, tt := range tests {
		loc := location(t, agg, tt.gateway)
		if loc.RelativePing != tt.relative || loc.Measured() != tt.measured {
			t.Fatalf("%s: relative=%v measured=%v, want %v/%v", tt.gateway, loc.RelativePing, loc.Measured(), tt.relative, tt.measured)
		}
	}

	best, ok := agg.Fastest()
	if !ok || best.Server.Gateway != "a" {
		t.Fatalf("fastest = %+v ok=%v, want a", best.Server.Gateway, ok)
	}
}

func TestRelativePingIsZeroWhenAllEqual(t *testing.T) {
	agg, _, _ := newTestAggregator(t, Options{})
	agg.ReplaceCatalog(catalog(
		server("a", "FR", "Paris", "1.1.1.1"),
		server("b", "FR", "Marseille", "2.2.2.2"),
	))
	agg.ApplyPings([]ipc.PingResult{{Host: "1.1.1.1", Ping: 40}, {Host: "2.2.2.2", Ping: 40}})
	for _, loc := range agg.Locations() {
		if loc.RelativePing != 0 {
			t.Fatalf("%s relative ping = %v, want 0", loc.Server.Gateway, loc.RelativePing)
		}
	}
	best, _ := agg.Fastest()
	if best.Server.Gateway != "b" {
		t.Fatalf("tie should keep list order (Marseille sorts first), got %s", best.Server.Gateway)
	}
}

func TestFastestFallsBackToFirstSortedEligible(t *testing.T) {
	agg, _, _ := newTestAggregator(t, Options{Eligible: ExcludeGateways([]string{"AT-Vienna"})})
	agg.ReplaceCatalog(catalog(
		server("us-ny", "US", "New York", "1.1.1.1"),
		server("at-vienna", "AT", "Vienna", "2.2.2.2"),
		server("ch-zurich", "CH", "Zurich", "3.3.3.3"),
	))

	locs := agg.Locations()
	order := []string{locs[0].Server.Gateway, locs[1].Server.Gateway, locs[2].Server.Gateway}
	if fmt.Sprint(order) != "[at-vienna ch-zurich us-ny]" {
		t.Fatalf("locations not sorted by country and city: %v", order)
	}

	best, ok := agg.Fastest()
	if !ok || best.Server.Gateway != "ch-zurich" {
		t.Fatalf("fastest = %q ok=%v, want first eligible ch-zurich", best.Server.Gateway, ok)
	}
}

func TestFastestHonoursEligibility(t *testing.T) {
	tests := []struct {
		name     string
		eligible EligibleFunc
		want     string
	}{
		{name: "no filter", want: "a"},
		{name: "exclude fastest", eligible: ExcludeGateways([]string{"a"}), want: "b"},
		{name: "mode aware", eligible: func(gw string, mode ipc.VPNType) bool { return mode == ipc.VPNWireGuard && gw == "c" }, want: "c"},
		{name: "nothing eligible", eligible: func(string, ipc.VPNType) bool { return false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, _, _ := newTestAggregator(t, Options{Eligible: tt.eligible})
			agg.ReplaceCatalog(catalog(
				server("a", "SE", "Gothenburg", "1.1.1.1"),
				server("b", "SE", "Malmo", "2.2.2.2"),
				server("c", "SE", "Stockholm", "3.3.3.3"),
			))
			agg.ApplyPings([]ipc.PingResult{{Host: "1.1.1.1", Ping: 10}, {Host: "2.2.2.2", Ping: 20}})

			best, ok := agg.Fastest()
			if tt.want == "" {
				if ok {
					t.Fatalf("expected no recommendation, got %s", best.Server.Gateway)
				}
				return
			}
			if !ok || best.Server.Gateway != tt.want {
				t.Fatalf("fastest = %q ok=%v, want %q", best.Server.Gateway, ok, tt.want)
			}
		})
	}
}

func TestPingsUpdateEveryServerSharingHost(t *testing.T) {
	agg, _, _ := newTestAggregator(t, Options{})
	agg.ReplaceCatalog(catalog(
		server("a", "JP", "Osaka", "9.9.9.9"),
		server("b", "JP", "Tokyo", "8.8.8.8", "9.9.9.9"),
	))
	agg.ApplyPings([]ipc.PingResult{{Host: "9.9.9.9", Ping: 70}, {Host: "unknown", Ping: 1}})
	for _, gw := range []string{"a", "b"} {
		if loc := location(t, agg, gw); loc.PingMs != 70 {
			t.Fatalf("%s ping = %d, want 70", gw, loc.PingMs)
		}
	}
}

func TestSnapshotsAreStable(t *testing.T) {
	agg, _, _ := newTestAggregator(t, Options{})
	agg.ReplaceCatalog(catalog(server("a", "IT", "Milan", "1.1.1.1")))
	held := agg.Locations()
	agg.ApplyPings([]ipc.PingResult{{Host: "1.1.1.1", Ping: 33}})
	if held[0].Measured() {
		t.Fatal("retained snapshot was modified by a later round")
	}
	held[0].PingMs = 999
	if location(t, agg, "a").PingMs != 33 {
		t.Fatal("caller mutation leaked into aggregator state")
	}
}

func TestRequestPingsThrottle(t *testing.T) {
	agg, pinger, clock := newTestAggregator(t, Options{MinPingInterval: 10 * time.Second, PingTimeoutMs: 3000, PingRetries: 2})

	agg.ReplaceCatalog(catalog(server("a", "CA", "Toronto", "1.1.1.1")))
	calls := pinger.Calls()
	if len(calls) != 1 || calls[0] != [2]int{6000, 4} {
		t.Fatalf("first round should be doubled and unthrottled, got %v", calls)
	}

	agg.ApplyPings([]ipc.PingResult{{Host: "1.1.1.1", Ping: 20}})

	clock.Advance(2 * time.Second)
	err := agg.RequestPings(context.Background())
	if !errors.Is(err, ErrPingThrottled) {
		t.Fatalf("request after 2s = %v, want ErrPingThrottled", err)
	}
	if len(pinger.Calls()) != 1 {
		t.Fatal("throttled request reached the service")
	}

	clock.Advance(9 * time.Second)
	if err := agg.RequestPings(context.Background()); err != nil {
		t.Fatalf("request after 11s returned error: %v", err)
	}
	calls = pinger.Calls()
	if len(calls) != 2 || calls[1] != [2]int{3000, 2} {
		t.Fatalf("second round should use configured parameters, got %v", calls)
	}
}

func TestCatalogReplacementBypassesThrottle(t *testing.T) {
	agg, pinger, _ := newTestAggregator(t, Options{})
	agg.ReplaceCatalog(catalog(server("a", "CA", "Toronto", "1.1.1.1")))
	agg.ApplyPings([]ipc.PingResult{{Host: "1.1.1.1", Ping: 20}})
	agg.ReplaceCatalog(catalog(server("a", "CA", "Toronto", "1.1.1.1")))
	if n := len(pinger.Calls()); n != 2 {
		t.Fatalf("expected a ping round per replacement, got %d", n)
	}
}

func TestRequestPingsHonoursContext(t *testing.T) {
	agg, pinger, _ := newTestAggregator(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := agg.RequestPings(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(pinger.Calls()) != 0 {
		t.Fatal("cancelled request reached the service")
	}
}

func TestSetModeRebuildsWithoutRequests(t *testing.T) {
	agg, pinger, _ := newTestAggregator(t, Options{})
	var changes []ServerListChanged
	On(agg, func(ev ServerListChanged) { changes = append(changes, ev) })

	agg.ReplaceCatalog(catalog(server("a", "CA", "Toronto", "1.1.1.1")))
	agg.SetMode(ipc.VPNOpenVPN)
	agg.SetMode(ipc.VPNOpenVPN)

	if agg.Mode() != ipc.VPNOpenVPN {
		t.Fatalf("mode = %s", agg.Mode())
	}
	locs := agg.Locations()
	if len(locs) != 1 || locs[0].Server.Gateway != "nl.ovpn" {
		t.Fatalf("unexpected openvpn list %+v", locs)
	}
	if n := len(pinger.Calls()); n != 1 {
		t.Fatalf("mode switch must not request anything, got %d ping calls", n)
	}
	if len(changes) != 2 || changes[1].Mode != ipc.VPNOpenVPN {
		t.Fatalf("expected one change per replacement and switch, got %+v", changes)
	}
	if agg.Catalog() == nil || len(agg.Catalog().WireGuard) != 1 {
		t.Fatal("mode switch must keep the full catalog")
	}
}

func TestEventsFollowPingRound(t *testing.T) {
	agg, _, _ := newTestAggregator(t, Options{})
	var names []string
	agg.Subscribe(func(ev Event) { names = append(names, ev.EventName()) })

	agg.ReplaceCatalog(catalog(server("a", "CA", "Toronto", "1.1.1.1")))
	agg.ApplyPings([]ipc.PingResult{{Host: "1.1.1.1", Ping: 20}})

	want := "[server_list_changed pings_updated fastest_server_detected]"
	if fmt.Sprint(names) != want {
		t.Fatalf("events = %v, want %s", names, want)
	}
}

func TestAttachFollowsClientEvents(t *testing.T) {
	svc := testsupport.StartService(t)
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", svc.Port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := ipc.New(conn, ipc.Options{Secret: svc.Secret, CallTimeout: 5 * time.Second})
	t.Cleanup(func() { _ = client.Close() })

	agg := NewAggregator(client, Options{PingTimeoutMs: 1000, PingRetries: 1})
	detach := agg.Attach(client)
	defer detach()

	detected := make(chan FastestServerDetected, 1)
	On(agg, func(ev FastestServerDetected) { detected <- ev })

	if _, err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	svc.Push(testsupport.ServerList(0,
		[]testsupport.FakeServer{
			{Gateway: "gb-lon.wg", CountryCode: "GB", City: "London", Hosts: []string{"10.0.0.1"}},
			{Gateway: "gb-man.wg", CountryCode: "GB", City: "Manchester", Hosts: []string{"10.0.0.2"}},
		},
		[]testsupport.FakeServer{{Gateway: "gb-lon.ovpn", CountryCode: "GB", City: "London", Hosts: []string{"10.1.0.1"}}},
	))

	req := svc.WaitRequest(ipc.CmdPingServers, 5*time.Second)
	if req.ID != 0 || req.Number("timeout_ms") != 2000 || req.Number("retries_count") != 2 {
		t.Fatalf("unexpected first ping request: %s", req.Raw)
	}

	svc.Push(testsupport.PingResults(map[string]int{"10.0.0.1": 80, "10.0.0.2": 30}))
	select {
	case ev := <-detected:
		if ev.Location.Server.Gateway != "gb-man.wg" || ev.Location.PingMs != 30 {
			t.Fatalf("unexpected fastest server %+v", ev.Location)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no fastest server detected")
	}
	if len(agg.Locations()) != 2 {
		t.Fatalf("expected 2 wireguard locations, got %d", len(agg.Locations()))
	}
}
