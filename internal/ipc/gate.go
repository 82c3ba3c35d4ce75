package ipc

import "sync"

// gate holds event delivery while disabled. The zero value is not usable;
// use newGate.
type gate struct {
	mu      sync.Mutex
	enabled bool
	open    chan struct{} // closed while enabled
}

func newGate(enabled bool) *gate {
	g := &gate{open: make(chan struct{})}
	if enabled {
		g.enabled = true
		close(g.open)
	}
	return g
}

func (g *gate) enable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.enabled {
		return
	}
	g.enabled = true
	close(g.open)
}

func (g *gate) disable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.enabled {
		return
	}
	g.enabled = false
	g.open = make(chan struct{})
}

func (g *gate) isEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// wait blocks until the gate is enabled or release is closed. It reports
// false when released by shutdown.
func (g *gate) wait(release <-chan struct{}) bool {
	g.mu.Lock()
	open := g.open
	g.mu.Unlock()
	select {
	case <-open:
		return true
	case <-release:
		return false
	}
}
