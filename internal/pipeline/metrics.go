package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics owned by the pipeline. A single
// instance is created per Coordinator so that tests can inject a fresh
// prometheus.Registry without polluting the default one.
type Metrics struct {
	// messagesTotal counts processed messages, partitioned by outcome:
	// "ticketed", "skipped", "duplicate", or "failed".
	messagesTotal *prometheus.CounterVec

	// cacheLookupsTotal counts answer-cache lookups by result: "hit" or "miss".
	cacheLookupsTotal *prometheus.CounterVec

	// processDurationSeconds records the wall-clock duration of one message
	// end to end (extraction through persistence).
	processDurationSeconds prometheus.Histogram
}

// NewMetrics registers all pipeline metrics against reg. promauto.With(reg)
// is used so that each call registers into the provided registry rather than
// the global default — this keeps unit tests hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "maildesk",
			Subsystem: "pipeline",
			Name:      "messages_total",
			Help:      "Total number of messages processed, partitioned by outcome.",
		}, []string{"outcome"}),

		cacheLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "maildesk",
			Subsystem: "pipeline",
			Name:      "cache_lookups_total",
			Help:      "Total number of answer-cache lookups, partitioned by result.",
		}, []string{"result"}),

		processDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "maildesk",
			Subsystem: "pipeline",
			Name:      "process_duration_seconds",
			Help:      "Wall-clock duration of processing one message end to end.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),
	}
}
