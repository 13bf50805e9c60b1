package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts reconciler outcomes across runs.
type Metrics struct {
	orphansDeleted prometheus.Counter
	deleteErrors   prometheus.Counter
	orphansFound   prometheus.Gauge
	lastRun        prometheus.Gauge
	runDuration    prometheus.Histogram
}

// NewMetrics registers the reconciler collectors with registerer. A nil registerer keeps
// the collectors unregistered.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		orphansDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mideita_reconciler_orphans_deleted_total",
			Help: "Orphaned assets deleted by the reconciler",
		}),
		deleteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mideita_reconciler_delete_errors_total",
			Help: "Orphaned assets the reconciler failed to delete",
		}),
		orphansFound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mideita_reconciler_orphans_found",
			Help: "Orphaned assets found by the last run",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mideita_reconciler_last_run_timestamp_seconds",
			Help: "Unix time of the last completed reconciler run",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mideita_reconciler_run_duration_seconds",
			Help:    "Reconciler run duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if registerer == nil {
		return metrics, nil
	}
	for _, collector := range []prometheus.Collector{
		metrics.orphansDeleted,
		metrics.deleteErrors,
		metrics.orphansFound,
		metrics.lastRun,
		metrics.runDuration,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

func (m *Metrics) observe(result Result, finishedAt float64, seconds float64) {
	if m == nil {
		return
	}
	m.orphansDeleted.Add(float64(len(result.Deleted)))
	m.deleteErrors.Add(float64(len(result.Errors)))
	m.orphansFound.Set(float64(len(result.Orphans)))
	m.lastRun.Set(finishedAt)
	m.runDuration.Observe(seconds)
}
