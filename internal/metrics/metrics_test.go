package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounter(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	if err := vec.WithLabelValues(labels...).Write(&m); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func getGauge(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestNewRegistersAllMetrics(t *testing.T) {
	m := New()
	m.ObserveCall("Hello", OutcomeOK, time.Millisecond)
	m.MessageReceived("HelloResp")
	m.Fault(FaultFraming)
	m.SetConnected(true)
	m.AddPending(1)
	m.PingRound()
	m.PingThrottled()
	m.SetServerLocations(3)
	m.SetFastestPing(42)

	fams, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := make(map[string]bool)
	for _, f := range fams {
		got[f.GetName()] = true
	}
	for _, name := range []string{
		"tunnelctl_calls_total",
		"tunnelctl_call_duration_seconds",
		"tunnelctl_messages_received_total",
		"tunnelctl_faults_total",
		"tunnelctl_service_connected",
		"tunnelctl_pending_calls",
		"tunnelctl_ping_rounds_total",
		"tunnelctl_ping_requests_throttled_total",
		"tunnelctl_server_locations",
		"tunnelctl_fastest_server_ping_milliseconds",
	} {
		if !got[name] {
			t.Errorf("expected metric %q not found in registry", name)
		}
	}
}

func TestObserveCallCountsByOutcome(t *testing.T) {
	m := New()
	m.ObserveCall("SessionNew", OutcomeOK, time.Millisecond)
	m.ObserveCall("SessionNew", OutcomeTimeout, time.Second)
	m.ObserveCall("SessionNew", OutcomeTimeout, time.Second)

	if got := getCounter(t, m.callsTotal, "SessionNew", OutcomeTimeout); got != 2 {
		t.Fatalf("timeouts = %v, want 2", got)
	}
	if got := getCounter(t, m.callsTotal, "SessionNew", OutcomeOK); got != 1 {
		t.Fatalf("ok = %v, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m := New()
	m.SetConnected(true)
	if got := getGauge(t, m.connected); got != 1 {
		t.Fatalf("connected = %v, want 1", got)
	}
	m.SetConnected(false)
	if got := getGauge(t, m.connected); got != 0 {
		t.Fatalf("connected = %v, want 0", got)
	}
	m.AddPending(2)
	m.AddPending(-1)
	if got := getGauge(t, m.pendingCalls); got != 1 {
		t.Fatalf("pending = %v, want 1", got)
	}
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCall("Hello", OutcomeOK, time.Millisecond)
	m.MessageReceived("HelloResp")
	m.Fault(FaultDispatch)
	m.SetConnected(true)
	m.AddPending(1)
	m.PingRound()
	m.PingThrottled()
	m.SetServerLocations(1)
	m.SetFastestPing(1)
}

func TestCallOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{context.Canceled, OutcomeCancelled},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), OutcomeCancelled},
		{errors.New("boom"), OutcomeWriteFailed},
	}
	for _, tt := range tests {
		if got := CallOutcome(tt.err, OutcomeWriteFailed); got != tt.want {
			t.Errorf("CallOutcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestServeExposesMetrics(t *testing.T) {
	m := New()
	m.PingRound()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Serve(ctx, ln, nil) }()

	var body string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
		if err == nil {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			body = string(data)
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(body, "tunnelctl_ping_rounds_total 1") {
		t.Fatalf("metrics output missing ping rounds: %q", body)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
