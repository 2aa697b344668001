package filesystem

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "seedstream_pool"

// PoolMetrics is a prometheus.Collector with the connection pool's metrics.
// A nil *PoolMetrics is valid and records nothing.
type PoolMetrics struct {
	connects    *prometheus.CounterVec
	evictions   *prometheus.CounterVec
	live        prometheus.Gauge
	sharedWaits prometheus.Counter
}

// NewPoolMetrics returns a new PoolMetrics. Register it to export it.
func NewPoolMetrics() *PoolMetrics {
	return &PoolMetrics{
		connects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "connects_total",
				Help:      "Physical SSH connection attempts by outcome.",
			}, []string{"result"},
		),
		evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "evictions_total",
				Help:      "Pooled connections removed, by reason.",
			}, []string{"reason"},
		),
		live: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "live_connections",
				Help:      "The number of live pooled connections.",
			},
		),
		sharedWaits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "shared_waits_total",
				Help:      "Acquires that joined a connection attempt already in flight.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (m *PoolMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.connects.Describe(ch)
	m.evictions.Describe(ch)
	m.live.Describe(ch)
	m.sharedWaits.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *PoolMetrics) Collect(ch chan<- prometheus.Metric) {
	m.connects.Collect(ch)
	m.evictions.Collect(ch)
	m.live.Collect(ch)
	m.sharedWaits.Collect(ch)
}

func (m *PoolMetrics) connected(live int) {
	if m == nil {
		return
	}

	m.connects.WithLabelValues("ok").Inc()
	m.live.Set(float64(live))
}

func (m *PoolMetrics) connectFailed(err error) {
	if m == nil {
		return
	}

	m.connects.WithLabelValues(connectResult(err)).Inc()
}

func (m *PoolMetrics) evicted(reason string, live int) {
	if m == nil {
		return
	}

	m.evictions.WithLabelValues(reason).Inc()
	m.live.Set(float64(live))
}

func (m *PoolMetrics) sharedWait() {
	if m == nil {
		return
	}

	m.sharedWaits.Inc()
}

// connectResult maps a connect error onto a low-cardinality label.
func connectResult(err error) string {
	switch {
	case errors.Is(err, ErrConnectTimeout):
		return "timeout"
	case errors.Is(err, ErrAuthFailure):
		return "auth"
	case errors.Is(err, ErrKeyRead):
		return "key_read"
	case errors.Is(err, ErrFingerprintMismatch):
		return "fingerprint_mismatch"
	case errors.Is(err, ErrHostKeyUnverified):
		return "unverified"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "error"
	}
}
