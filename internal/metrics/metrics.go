// Package metrics groups the Prometheus instruments for the write path,
// the auditor, and the erasure lifecycle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all instruments. Construct once per process with New.
type Metrics struct {
	EventsProcessed         *prometheus.CounterVec
	DeliveryLag             prometheus.Histogram
	DLQBacklog              prometheus.Gauge
	MismatchRate            prometheus.Gauge
	OrphansFlagged          prometheus.Counter
	RepairsEnqueued         *prometheus.CounterVec
	ErasuresCompleted       prometheus.Counter
	ErasuresOverdue         prometheus.Gauge
	RetrievalSourceFailures *prometheus.CounterVec
}

// New registers the instruments on reg. Pass prometheus.DefaultRegisterer in
// production; tests use a fresh registry to avoid duplicate registration.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_processed_total",
			Help:      "Outbox events by terminal handling result.",
		}, []string{"op", "result"}),
		DeliveryLag: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_delivery_lag_seconds",
			Help:      "Lag between outbox event creation and processing.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}),
		DLQBacklog: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_dlq_backlog",
			Help:      "Number of events parked in the dead-letter queue.",
		}),
		MismatchRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consistency_mismatch_rate",
			Help:      "Share of sampled committed memories missing from a derived store.",
		}),
		OrphansFlagged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_orphans_flagged_total",
			Help:      "Derived-store records with no system-of-record row, flagged for manual review.",
		}),
		RepairsEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_repairs_enqueued_total",
			Help:      "Fix-forward repair events enqueued by the auditor.",
		}, []string{"op"}),
		ErasuresCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "erasure_completed_total",
			Help:      "Deletion audits signed after physical deletion.",
		}),
		ErasuresOverdue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "erasure_overdue",
			Help:      "Pending deletion audits older than the erasure SLA.",
		}),
		RetrievalSourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_source_failures_total",
			Help:      "Retrieval sub-searches that degraded to an empty candidate set.",
		}, []string{"source"}),
	}
}

// ObserveDeliveryLag records one created-to-processed duration.
func (m *Metrics) ObserveDeliveryLag(d time.Duration) {
	m.DeliveryLag.Observe(d.Seconds())
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
