package servers

import (
	"strings"
	"time"

	"tunnelctl/internal/ipc"
)

// ServerLocation is one server of the active mode with its measurements.
// Values are copies; changing one does not affect the aggregator.
type ServerLocation struct {
	Server       ipc.ServerDescriptor
	PingMs       int
	RelativePing float64
	Selected     bool
	MeasuredAt   time.Time
}

// Measured reports whether the server has a nonzero ping.
func (l ServerLocation) Measured() bool { return l.PingMs > 0 }

// buildLocations creates the list for servers, carrying ping, relative ping,
// selection, and measurement time forward from prior entries with the same
// gateway.
func buildLocations(servers []ipc.ServerDescriptor, prior []ServerLocation) []ServerLocation {
	byGateway := make(map[string]ServerLocation, len(prior))
	for _, loc := range prior {
		byGateway[loc.Server.Gateway] = loc
	}
	out := make([]ServerLocation, 0, len(servers))
	for _, srv := range servers {
		loc := ServerLocation{Server: srv}
		if old, ok := byGateway[srv.Gateway]; ok {
			loc.PingMs = old.PingMs
			loc.RelativePing = old.RelativePing
			loc.Selected = old.Selected
			loc.MeasuredAt = old.MeasuredAt
		}
		out = append(out, loc)
	}
	return out
}

// applyPings sets the ping of every location that lists a result's host.
// Results are applied in order, so a later result for the same server wins.
// It returns the number of locations updated.
func applyPings(locations []ServerLocation, results []ipc.PingResult, now time.Time) int {
	updated := 0
	for _, res := range results {
		ping := max(res.Ping, 0)
		for i := range locations {
			if !locations[i].Server.HasHost(res.Host) {
				continue
			}
			locations[i].PingMs = ping
			locations[i].MeasuredAt = now
			updated++
		}
	}
	return updated
}

// normalize sets RelativePing to (ping-min)/(max-min) over nonzero pings.
// Every measured server gets 0 when min == max; unmeasured servers get 0.
func normalize(locations []ServerLocation) {
	lo, hi := 0, 0
	for _, loc := range locations {
		if !loc.Measured() {
			continue
		}
		if lo == 0 || loc.PingMs < lo {
			lo = loc.PingMs
		}
		if loc.PingMs > hi {
			hi = loc.PingMs
		}
	}
	for i := range locations {
		loc := &locations[i]
		if !loc.Measured() || hi == lo {
			loc.RelativePing = 0
			continue
		}
		loc.RelativePing = float64(loc.PingMs-lo) / float64(hi-lo)
	}
}

// EligibleFunc reports whether a gateway may be recommended in mode.
type EligibleFunc func(gateway string, mode ipc.VPNType) bool

// fastest returns the index of the eligible location with the smallest
// nonzero ping, else the first eligible location, else -1. Ties keep list
// order.
func fastest(locations []ServerLocation, mode ipc.VPNType, eligible EligibleFunc) int {
	best, first := -1, -1
	for i, loc := range locations {
		if eligible != nil && !eligible(loc.Server.Gateway, mode) {
			continue
		}
		if first < 0 {
			first = i
		}
		if !loc.Measured() {
			continue
		}
		if best < 0 || loc.PingMs < locations[best].PingMs {
			best = i
		}
	}
	if best >= 0 {
		return best
	}
	return first
}

// ExcludeGateways returns an EligibleFunc rejecting the listed gateways in
// every mode. Matching is case-insensitive. An empty list allows everything.
func ExcludeGateways(gateways []string) EligibleFunc {
	if len(gateways) == 0 {
		return nil
	}
	excluded := make(map[string]struct{}, len(gateways))
	for _, gw := range gateways {
		excluded[strings.ToLower(gw)] = struct{}{}
	}
	return func(gateway string, _ ipc.VPNType) bool {
		_, skip := excluded[strings.ToLower(gateway)]
		return !skip
	}
}
