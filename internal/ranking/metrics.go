package ranking

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRankingRequestsTotal = "ranking_requests_total"
	MetricRankingDuration      = "ranking_duration_seconds"
	MetricRankingCoalesced     = "ranking_coalesced_total"
	MetricRankingEntries       = "ranking_entries"
)

// Metrics contains Prometheus metrics for ranking aggregation.
type Metrics struct {
	requestsTotal *prometheus.CounterVec
	duration      prometheus.Histogram
	coalesced     prometheus.Counter
	entries       prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRankingRequestsTotal,
				Help: "Total number of ranking computations by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRankingDuration,
			Help:    "Histogram of ranking computation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRankingCoalesced,
			Help: "Total number of ranking reads served by an in-flight computation",
		}),
		entries: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRankingEntries,
			Help:    "Histogram of ranked products per computation",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsTotal,
		m.duration,
		m.coalesced,
		m.entries,
	}
}

func (m *Metrics) observe(outcome string, seconds float64, entries int) {
	m.requestsTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		m.duration.Observe(seconds)
		m.entries.Observe(float64(entries))
	}
}

func (m *Metrics) incCoalesced() {
	m.coalesced.Inc()
}
