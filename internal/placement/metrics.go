package placement

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricPlacementWritesTotal    = "placement_writes_total"
	MetricPlacementConflictsTotal = "placement_conflicts_total"
	MetricSweepTotal              = "placement_sweep_total"
	MetricSweepErrors             = "placement_sweep_errors_total"
	MetricSweepDuration           = "placement_sweep_duration_seconds"
	MetricSweepExpiredMarked      = "placement_sweep_expired_marked_total"
	MetricLastSweepTimestamp      = "placement_last_sweep_timestamp"
	MetricLastSweepScopeCount     = "placement_last_sweep_scope_count"
)

// Write operation labels.
const (
	OpCreate  = "create"
	OpDisable = "disable"
	OpCancel  = "cancel"
	OpBatch   = "batch"
)

// Metrics contains Prometheus metrics for placement writes and the expiry sweep.
// All operations are thread-safe.
type Metrics struct {
	writesTotal         *prometheus.CounterVec
	conflictsTotal      prometheus.Counter
	sweepTotal          prometheus.Counter
	sweepErrors         prometheus.Counter
	sweepDuration       prometheus.Histogram
	sweepExpiredMarked  prometheus.Counter
	lastSweepTimestamp  prometheus.Gauge
	lastSweepScopeCount prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		writesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPlacementWritesTotal,
				Help: "Total number of placement write operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		conflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPlacementConflictsTotal,
			Help: "Total number of placement writes rejected due to concurrent modification",
		}),
		sweepTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSweepTotal,
			Help: "Total number of expiry sweep cycles",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSweepErrors,
			Help: "Total number of expiry sweep errors",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricSweepDuration,
			Help:    "Histogram of expiry sweep duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}),
		sweepExpiredMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSweepExpiredMarked,
			Help: "Total number of placements newly marked expired by the sweep",
		}),
		lastSweepTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastSweepTimestamp,
			Help: "Unix timestamp of the last completed expiry sweep",
		}),
		lastSweepScopeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastSweepScopeCount,
			Help: "Number of scopes visited by the last expiry sweep",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncWrite counts a placement write. outcome is "ok", "noop" or "error".
func (m *Metrics) IncWrite(operation, outcome string) {
	m.writesTotal.WithLabelValues(operation, outcome).Inc()
}

// IncConflict counts a write rejected with ErrConflict.
func (m *Metrics) IncConflict() {
	m.conflictsTotal.Inc()
}

// IncSweepTotal increments the sweep cycle counter.
func (m *Metrics) IncSweepTotal() {
	m.sweepTotal.Inc()
}

// IncSweepErrors increments the sweep error counter.
func (m *Metrics) IncSweepErrors() {
	m.sweepErrors.Inc()
}

// ObserveSweepDuration records a sweep duration sample.
func (m *Metrics) ObserveSweepDuration(seconds float64) {
	m.sweepDuration.Observe(seconds)
}

// AddExpiredMarked adds to the newly-expired counter.
func (m *Metrics) AddExpiredMarked(n int) {
	m.sweepExpiredMarked.Add(float64(n))
}

// SetLastSweepTimestamp sets the last sweep timestamp gauge.
func (m *Metrics) SetLastSweepTimestamp(timestamp float64) {
	m.lastSweepTimestamp.Set(timestamp)
}

// SetLastSweepScopeCount sets the last sweep scope count gauge.
func (m *Metrics) SetLastSweepScopeCount(count float64) {
	m.lastSweepScopeCount.Set(count)
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.writesTotal,
		m.conflictsTotal,
		m.sweepTotal,
		m.sweepErrors,
		m.sweepDuration,
		m.sweepExpiredMarked,
		m.lastSweepTimestamp,
		m.lastSweepScopeCount,
	}
}
