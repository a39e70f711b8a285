package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "stepsplit"

// Metrics holds the pipeline's prometheus collectors.
type Metrics struct {
	RangesCommitted prometheus.Counter
	RangesFailed    *prometheus.CounterVec
	RowsWritten     prometheus.Counter
	Anomalies       prometheus.Counter
	Orphans         prometheus.Counter
	Retries         *prometheus.CounterVec
	RangeDuration   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RangesCommitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ranges_committed_total",
			Help:      "Block ranges whose exclusive steps were written.",
		}),
		RangesFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ranges_failed_total",
			Help:      "Block ranges that failed, by stage.",
		}, []string{"stage"}),
		RowsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rows_written_total",
			Help:      "Rows written with individual steps attached.",
		}),
		Anomalies: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "anomalies_total",
			Help:      "Calls whose children account for more steps than the call itself.",
		}),
		Orphans: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "orphans_total",
			Help:      "Calls attached to the root because their parent was missing.",
		}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retries_total",
			Help:      "Retried store operations, by stage.",
		}, []string{"stage"}),
		RangeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "range_duration_seconds",
			Help:      "Wall time spent on one block range.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}
