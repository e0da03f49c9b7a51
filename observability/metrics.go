package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics tracks escrow call outcomes, state transitions and event
// delivery.
type EscrowMetrics struct {
	calls       *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	rpcRequests *prometheus.CounterVec
	throttles   *prometheus.CounterVec
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// Escrow returns the lazily-initialised escrow metrics registered with the
// default prometheus registry.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = NewEscrowMetrics()
		escrowRegistry.MustRegister(prometheus.DefaultRegisterer)
	})
	return escrowRegistry
}

// NewEscrowMetrics builds an unregistered metrics set. Tests use it with a
// private registry.
func NewEscrowMetrics() *EscrowMetrics {
	return &EscrowMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustlance",
			Subsystem: "escrow",
			Name:      "operations_total",
			Help:      "Escrow operations segmented by method and outcome.",
		}, []string{"method", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trustlance",
			Subsystem: "escrow",
			Name:      "operation_seconds",
			Help:      "Latency distribution of escrow operations including commit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustlance",
			Subsystem: "escrow",
			Name:      "transitions_total",
			Help:      "Committed escrow status transitions.",
		}, []string{"from", "to"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustlance",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber fell behind.",
		}, []string{"subscriber"}),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustlance",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "JSON-RPC requests segmented by method and outcome.",
		}, []string{"method", "outcome"}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustlance",
			Subsystem: "rpc",
			Name:      "throttles_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"reason"}),
	}
}

// MustRegister registers every collector with reg.
func (m *EscrowMetrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.calls, m.latency, m.transitions, m.dropped, m.rpcRequests, m.throttles)
}

// ObserveCall records the outcome of one escrow operation. Outcome should be
// "success" or a stable error label.
func (m *EscrowMetrics) ObserveCall(method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	method = label(method, "unknown")
	m.calls.WithLabelValues(method, label(outcome, "unknown")).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordTransition counts a committed status change.
func (m *EscrowMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(label(from, "none"), label(to, "none")).Inc()
}

// RecordDrop counts an event a subscriber missed.
func (m *EscrowMetrics) RecordDrop(subscriber string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(label(subscriber, "unknown")).Inc()
}

// ObserveRPC records a JSON-RPC request outcome.
func (m *EscrowMetrics) ObserveRPC(method string, failed bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if failed {
		outcome = "error"
	}
	m.rpcRequests.WithLabelValues(label(method, "unknown"), outcome).Inc()
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *EscrowMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(label(reason, "unspecified")).Inc()
}

func label(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}
