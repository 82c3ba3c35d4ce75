// Package metrics provides Prometheus metrics for the control-service client.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "tunnelctl"

// Call outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeServiceError = "service_error"
	OutcomeTimeout      = "timeout"
	OutcomeClosed       = "closed"
	OutcomeCancelled    = "cancelled"
	OutcomeUnexpected   = "unexpected_response"
	OutcomeWriteFailed  = "write_failed"
)

// Fault kinds.
const (
	FaultFraming  = "framing"
	FaultDispatch = "dispatch"
	FaultRead     = "read"
)

// Metrics holds all Prometheus metrics for tunnelctl. All methods are safe
// to call on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	callsTotal        *prometheus.CounterVec
	callDuration      *prometheus.HistogramVec
	messagesTotal     *prometheus.CounterVec
	faultsTotal       *prometheus.CounterVec
	connected         prometheus.Gauge
	pendingCalls      prometheus.Gauge
	pingRoundsTotal   prometheus.Counter
	pingThrottled     prometheus.Counter
	serverLocations   prometheus.Gauge
	fastestPingMillis prometheus.Gauge
}

// New creates a new Metrics instance with a custom Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Synchronous calls to the control service, by command and outcome.",
		}, []string{"command", "outcome"}),

		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Time from sending a request to its resolution, in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 180},
		}, []string{"command"}),

		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound messages parsed from the control service, by command tag.",
		}, []string{"command"}),

		faultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Session-ending protocol faults, by kind.",
		}, []string{"kind"}),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_connected",
			Help:      "Whether the control service connection is up (1) or not (0).",
		}),

		pendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_calls",
			Help:      "Synchronous calls currently waiting for a reply.",
		}),

		pingRoundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ping_rounds_total",
			Help:      "Ping measurement rounds requested from the control service.",
		}),

		pingThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ping_requests_throttled_total",
			Help:      "Manual ping requests rejected by the minimum interval.",
		}),

		serverLocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_locations",
			Help:      "Server locations in the active VPN mode.",
		}),

		fastestPingMillis: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fastest_server_ping_milliseconds",
			Help:      "Measured ping of the current fastest server (0 when unmeasured).",
		}),
	}

	reg.MustRegister(
		m.callsTotal,
		m.callDuration,
		m.messagesTotal,
		m.faultsTotal,
		m.connected,
		m.pendingCalls,
		m.pingRoundsTotal,
		m.pingThrottled,
		m.serverLocations,
		m.fastestPingMillis,
	)

	return m
}

// ObserveCall records the outcome and latency of one synchronous call.
func (m *Metrics) ObserveCall(command, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(command, outcome).Inc()
	m.callDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// MessageReceived counts one parsed inbound message.
func (m *Metrics) MessageReceived(command string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(command).Inc()
}

// Fault counts a session-ending fault.
func (m *Metrics) Fault(kind string) {
	if m == nil {
		return
	}
	m.faultsTotal.WithLabelValues(kind).Inc()
}

// SetConnected sets the connection gauge.
func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

// AddPending adjusts the pending call gauge by delta.
func (m *Metrics) AddPending(delta int) {
	if m == nil {
		return
	}
	m.pendingCalls.Add(float64(delta))
}

// PingRound counts a ping round sent to the service.
func (m *Metrics) PingRound() {
	if m == nil {
		return
	}
	m.pingRoundsTotal.Inc()
}

// PingThrottled counts a rejected manual ping request.
func (m *Metrics) PingThrottled() {
	if m == nil {
		return
	}
	m.pingThrottled.Inc()
}

// SetServerLocations records the size of the active location list.
func (m *Metrics) SetServerLocations(n int) {
	if m == nil {
		return
	}
	m.serverLocations.Set(float64(n))
}

// SetFastestPing records the fastest server's measured ping.
func (m *Metrics) SetFastestPing(ms int) {
	if m == nil {
		return
	}
	m.fastestPingMillis.Set(float64(ms))
}

// CallOutcome maps a call error to an outcome label. Errors the metrics
// package cannot classify report as fallback.
func CallOutcome(err error, fallback string) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return fallback
	}
}
