// Package notifications provides the typed subscriber registries used to
// deliver protocol and server-list events to the rest of the program.
//
// A Registry holds an ordered list of callbacks for one event type. Publishing
// invokes every subscriber synchronously in registration order on the caller's
// goroutine, so subscribers observe events in exactly the order they were
// published.
package notifications
