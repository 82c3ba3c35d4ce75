package servers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"tunnelctl/internal/ipc"
	"tunnelctl/internal/logging"
	"tunnelctl/internal/metrics"
	"tunnelctl/internal/notifications"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultMinPingInterval = 10 * time.Second
	DefaultPingTimeoutMs   = 3000
	DefaultPingRetries     = 2
)

// ErrPingThrottled is returned by RequestPings inside the minimum interval.
var ErrPingThrottled = errors.New("ping round throttled")

// Pinger starts a ping round. *ipc.Client implements it.
type Pinger interface {
	PingServers(timeoutMs, retries int) error
}

// Options configures an Aggregator.
type Options struct {
	Mode            ipc.VPNType
	MinPingInterval time.Duration
	PingTimeoutMs   int
	PingRetries     int
	// Eligible filters fastest-server candidates. Nil accepts every server.
	Eligible EligibleFunc
	// Now is the clock; nil means time.Now.
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type snapshot struct {
	mode      ipc.VPNType
	catalog   *ipc.ServerCatalog
	locations []ServerLocation
	fastest   int
}

// Aggregator maintains the server list of the active mode.
type Aggregator struct {
	pinger  Pinger
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	// mu serializes writers. Readers load state without locking.
	mu        sync.Mutex
	lastRound time.Time
	state     atomic.Pointer[snapshot]

	events notifications.Registry[Event]
}

// NewAggregator creates an aggregator with no catalog.
func NewAggregator(pinger Pinger, opts Options) *Aggregator {
	if opts.Mode == "" {
		opts.Mode = ipc.VPNWireGuard
	}
	if opts.MinPingInterval <= 0 {
		opts.MinPingInterval = DefaultMinPingInterval
	}
	if opts.PingTimeoutMs <= 0 {
		opts.PingTimeoutMs = DefaultPingTimeoutMs
	}
	if opts.PingRetries <= 0 {
		opts.PingRetries = DefaultPingRetries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := &Aggregator{
		pinger:  pinger,
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "servers"),
		metrics: opts.Metrics,
	}
	a.state.Store(&snapshot{mode: opts.Mode, fastest: -1})
	return a
}

// Attach feeds the aggregator from client events. A catalog the client
// already holds is applied immediately. The returned func detaches.
func (a *Aggregator) Attach(client *ipc.Client) (detach func()) {
	offList := ipc.On(client, func(ev ipc.ServerListReceived) { a.ReplaceCatalog(ev.Catalog) })
	offPings := ipc.On(client, func(ev ipc.PingsReceived) { a.ApplyPings(ev.Results) })
	if catalog := client.Catalog(); catalog != nil && a.Catalog() == nil {
		a.ReplaceCatalog(catalog)
	}
	return func() {
		offList()
		offPings()
	}
}

// ReplaceCatalog installs a new catalog, rebuilds the active list with
// carried-over measurements, and starts a ping round regardless of the
// throttle.
func (a *Aggregator) ReplaceCatalog(catalog *ipc.ServerCatalog) {
	if catalog == nil {
		return
	}
	sorted := &ipc.ServerCatalog{
		WireGuard:    slices.Clone(catalog.WireGuard),
		OpenVPN:      slices.Clone(catalog.OpenVPN),
		DNS:          catalog.DNS,
		APIAddresses: catalog.APIAddresses,
	}
	ipc.SortServers(sorted.WireGuard)
	ipc.SortServers(sorted.OpenVPN)

	a.mu.Lock()
	prev := a.state.Load()
	next := &snapshot{
		mode:      prev.mode,
		catalog:   sorted,
		locations: buildLocations(sorted.Servers(prev.mode), prev.locations),
	}
	next.fastest = fastest(next.locations, next.mode, a.opts.Eligible)
	a.state.Store(next)
	a.mu.Unlock()

	a.metrics.SetServerLocations(len(next.locations))
	a.logger.Info("server list replaced",
		logging.String("vpn_mode", string(next.mode)),
		logging.Int("locations", len(next.locations)),
		logging.Int("carried_over", countMeasured(next.locations)),
	)
	a.events.Publish(ServerListChanged{Mode: next.mode, Locations: slices.Clone(next.locations)})

	if err := a.sendPings(); err != nil {
		logging.WarnWithContext(a.logger, "ping round after server list update failed", "ping_request_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "servers stay unmeasured until the next round"),
		)
	}
}

// ApplyPings records a ping round, renormalizes, and recomputes the
// fastest server.
func (a *Aggregator) ApplyPings(results []ipc.PingResult) {
	a.mu.Lock()
	now := a.opts.Now()
	prev := a.state.Load()
	next := &snapshot{
		mode:      prev.mode,
		catalog:   prev.catalog,
		locations: slices.Clone(prev.locations),
	}
	updated := applyPings(next.locations, results, now)
	normalize(next.locations)
	next.fastest = fastest(next.locations, next.mode, a.opts.Eligible)
	a.state.Store(next)
	a.lastRound = now
	a.mu.Unlock()

	a.metrics.PingRound()
	a.logger.Debug("ping results applied",
		logging.Int("results", len(results)),
		logging.Int("updated", updated),
	)
	a.events.Publish(PingsUpdated{Locations: slices.Clone(next.locations)})

	if next.fastest < 0 {
		return
	}
	best := next.locations[next.fastest]
	a.metrics.SetFastestPing(best.PingMs)
	a.logger.Debug("fastest server", logging.Gateway(best.Server.Gateway), logging.Int("ping_ms", best.PingMs))
	a.events.Publish(FastestServerDetected{Location: best})
}

// RequestPings starts a ping round unless the last completed round is
// younger than the minimum interval, in which case it returns an error
// wrapping ErrPingThrottled.
func (a *Aggregator) RequestPings(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	last := a.lastRound
	now := a.opts.Now()
	a.mu.Unlock()

	if !last.IsZero() {
		if elapsed := now.Sub(last); elapsed < a.opts.MinPingInterval {
			a.metrics.PingThrottled()
			wait := (a.opts.MinPingInterval - elapsed).Round(time.Second)
			return fmt.Errorf("%w: retry in %s", ErrPingThrottled, wait)
		}
	}
	return a.sendPings()
}

// sendPings forwards a ping request. Until the first round completes the
// timeout and retries are doubled.
func (a *Aggregator) sendPings() error {
	if a.pinger == nil {
		return nil
	}
	a.mu.Lock()
	first := a.lastRound.IsZero()
	a.mu.Unlock()

	timeout, retries := a.opts.PingTimeoutMs, a.opts.PingRetries
	if first {
		timeout *= 2
		retries *= 2
	}
	a.logger.Debug("requesting ping round",
		logging.Int("timeout_ms", timeout),
		logging.Int("retries", retries),
		logging.Bool("first_round", first),
	)
	return a.pinger.PingServers(timeout, retries)
}

// SetMode switches the active VPN mode and rebuilds the list from the held
// catalog. It does not request a new catalog.
func (a *Aggregator) SetMode(mode ipc.VPNType) {
	a.mu.Lock()
	prev := a.state.Load()
	if prev.mode == mode {
		a.mu.Unlock()
		return
	}
	next := &snapshot{
		mode:      mode,
		catalog:   prev.catalog,
		locations: buildLocations(prev.catalog.Servers(mode), prev.locations),
	}
	next.fastest = fastest(next.locations, mode, a.opts.Eligible)
	a.state.Store(next)
	a.mu.Unlock()

	a.metrics.SetServerLocations(len(next.locations))
	a.logger.Info("vpn mode switched", logging.String("vpn_mode", string(mode)), logging.Int("locations", len(next.locations)))
	a.events.Publish(ServerListChanged{Mode: mode, Locations: slices.Clone(next.locations)})
}

// SetSelected changes the selection flag of gateway. It reports whether the
// gateway is in the active list.
func (a *Aggregator) SetSelected(gateway string, selected bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.state.Load()
	idx := slices.IndexFunc(prev.locations, func(l ServerLocation) bool { return l.Server.Gateway == gateway })
	if idx < 0 {
		return false
	}
	next := *prev
	next.locations = slices.Clone(prev.locations)
	next.locations[idx].Selected = selected
	a.state.Store(&next)
	return true
}

// Locations returns the active list. The slice is a copy.
func (a *Aggregator) Locations() []ServerLocation {
	return slices.Clone(a.state.Load().locations)
}

// Fastest returns the recommended server, if any.
func (a *Aggregator) Fastest() (ServerLocation, bool) {
	snap := a.state.Load()
	if snap.fastest < 0 {
		return ServerLocation{}, false
	}
	return snap.locations[snap.fastest], true
}

// Catalog returns the full catalog with both lists sorted, or nil.
func (a *Aggregator) Catalog() *ipc.ServerCatalog {
	return a.state.Load().catalog
}

// Mode returns the active VPN mode.
func (a *Aggregator) Mode() ipc.VPNType {
	return a.state.Load().mode
}

func countMeasured(locations []ServerLocation) int {
	n := 0
	for _, loc := range locations {
		if loc.Measured() {
			n++
		}
	}
	return n
}
