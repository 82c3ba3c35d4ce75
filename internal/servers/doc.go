// Package servers keeps the ranked server list for the active VPN mode.
//
// The Aggregator consumes ServerListReceived and PingsReceived events from an
// ipc.Client. Every catalog replacement or ping result produces a new
// immutable snapshot published through an atomic pointer, so readers may
// hold on to a Locations slice while the next one is built. Measurements
// are carried forward by gateway id across replacements and mode switches,
// relative pings are normalized against the current min and max, and a
// fastest-server recommendation is recomputed after every change.
//
// Manual ping requests are throttled by MinPingInterval; rounds triggered
// by a catalog replacement are not.
package servers
