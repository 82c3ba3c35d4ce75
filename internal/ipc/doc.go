// Package ipc implements the client side of the control service's
// line-delimited JSON protocol.
//
// A Client owns one loopback connection for its whole life. A single read
// goroutine parses every inbound line, dispatches it by command tag to a fixed
// handler table that updates client-held state, forwards replies to the
// waiting caller, and then publishes typed events to subscribers in wire
// order. Any number of goroutines may issue calls concurrently; writes are
// serialized so request lines never interleave.
//
// Event delivery can be paused with DisableEvents. While paused, the read
// loop holds the next batch of events until EnableEvents is called; replies
// to calls are still delivered so callers are never starved by the gate.
//
// The client never reconnects. Subscribers observe exactly one
// ClientDisconnected event and decide what to do next.
package ipc
