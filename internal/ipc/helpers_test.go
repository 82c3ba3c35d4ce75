package ipc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"tunnelctl/internal/testsupport"
)

const waitTimeout = 5 * time.Second

type eventLog struct {
	mu      sync.Mutex
	events  []Event
	changed chan struct{}
}

func record(c *Client) *eventLog {
	l := &eventLog{changed: make(chan struct{}, 1)}
	c.Subscribe(func(ev Event) {
		l.mu.Lock()
		l.events = append(l.events, ev)
		l.mu.Unlock()
		select {
		case l.changed <- struct{}{}:
		default:
		}
	})
	return l
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) waitFor(t *testing.T, desc string, pred func([]Event) bool) []Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		events := l.snapshot()
		if pred(events) {
			return events
		}
		select {
		case <-l.changed:
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %s; events: %v", desc, eventNames(l.snapshot()))
			return nil
		}
	}
}

func eventNames(events []Event) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.EventName())
	}
	return names
}

func ofType[T Event](events []Event) []T {
	var out []T
	for _, ev := range events {
		if typed, ok := ev.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

func hasN[T Event](n int) func([]Event) bool {
	return func(events []Event) bool { return len(ofType[T](events)) >= n }
}

func dialService(t *testing.T, svc *testsupport.Service) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", svc.Port))
	if err != nil {
		t.Fatalf("dial fake service: %v", err)
	}
	return conn
}

func newTestClient(t *testing.T, svc *testsupport.Service) *Client {
	t.Helper()
	c := New(dialService(t, svc), Options{Secret: svc.Secret, CallTimeout: waitTimeout})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// startedClient returns a client that has completed hello, plus its event log.
func startedClient(t *testing.T, svc *testsupport.Service) (*Client, *eventLog) {
	t.Helper()
	c := newTestClient(t, svc)
	log := record(c)
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	svc.WaitRequest(CmdHello, waitTimeout)
	return c, log
}

func emptyReply(req testsupport.ServiceRequest) []any {
	return []any{testsupport.Reply(TagEmptyResp, req.ID, nil)}
}

func fullServerList(id int64) map[string]any {
	return testsupport.ServerList(id,
		[]testsupport.FakeServer{
			{Gateway: "us-ny.wg", CountryCode: "US", City: "New York", Hosts: []string{"10.0.0.1"}},
			{Gateway: "de-fra.wg", CountryCode: "DE", City: "Frankfurt", Hosts: []string{"10.0.0.2"}},
		},
		[]testsupport.FakeServer{
			{Gateway: "us-ny.ovpn", CountryCode: "US", City: "New York", Hosts: []string{"10.1.0.1"}},
		},
	)
}
