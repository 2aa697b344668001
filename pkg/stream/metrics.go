package stream

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "seedstream_stream"

// Metrics is a prometheus.Collector with the stream proxy's metrics.
// A nil *Metrics records nothing.
type Metrics struct {
	responses *prometheus.CounterVec
	bytes     prometheus.Counter
}

// NewMetrics returns a new Metrics. Register it to export it.
func NewMetrics() *Metrics {
	return &Metrics{
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "responses_total",
				Help:      "Stream responses by HTTP status.",
			}, []string{"status"},
		),
		bytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "bytes_total",
				Help:      "Audio bytes written to clients.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.responses.Describe(ch)
	m.bytes.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.responses.Collect(ch)
	m.bytes.Collect(ch)
}

func (m *Metrics) observe(status int, written int64) {
	if m == nil {
		return
	}

	m.responses.WithLabelValues(strconv.Itoa(status)).Inc()
	m.bytes.Add(float64(written))
}
