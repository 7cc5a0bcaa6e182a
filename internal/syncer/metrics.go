package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	runs        *prometheus.CounterVec
	pages       prometheus.Counter
	upserted    prometheus.Counter
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
}

// newMetrics registers the sync metrics with reg. A nil reg leaves them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketboard",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Synchronization runs by result.",
		}, []string{"result"}),
		pages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ticketboard",
			Subsystem: "sync",
			Name:      "pages_fetched_total",
			Help:      "Search result pages fetched from Jira.",
		}),
		upserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ticketboard",
			Subsystem: "sync",
			Name:      "issues_upserted_total",
			Help:      "Issues written to the store.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ticketboard",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of synchronization runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ticketboard",
			Subsystem: "sync",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful synchronization.",
		}),
	}
}
