package servers

import "tunnelctl/internal/ipc"

// Event is an aggregator notification.
type Event interface {
	EventName() string
}

// ServerListChanged follows a catalog replacement or mode switch.
type ServerListChanged struct {
	Mode      ipc.VPNType
	Locations []ServerLocation
}

// PingsUpdated follows a ping round.
type PingsUpdated struct {
	Locations []ServerLocation
}

// FastestServerDetected carries the recommendation after a ping round.
type FastestServerDetected struct {
	Location ServerLocation
}

func (ServerListChanged) EventName() string     { return "server_list_changed" }
func (PingsUpdated) EventName() string          { return "pings_updated" }
func (FastestServerDetected) EventName() string { return "fastest_server_detected" }

// Subscribe registers fn for every aggregator event.
func (a *Aggregator) Subscribe(fn func(Event)) (unsubscribe func()) {
	return a.events.Subscribe(fn)
}

// On registers fn for aggregator events of type T only.
func On[T Event](a *Aggregator, fn func(T)) (unsubscribe func()) {
	return a.events.Subscribe(func(ev Event) {
		if typed, ok := ev.(T); ok {
			fn(typed)
		}
	})
}
