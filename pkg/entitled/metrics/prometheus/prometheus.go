package prommetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements entitled.Metrics using Prometheus.
type Metrics struct {
	reconcileTotal    *prometheus.CounterVec
	storeWritesTotal  *prometheus.CounterVec
	partialWriteTotal prometheus.Counter
	creditResetsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reconcileTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Total number of reconciliation runs by event type.",
		}, []string{"event_type", "status"}),

		storeWritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Total number of entitlement persistence writes.",
		}, []string{"kind", "status"}),

		partialWriteTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partial_writes_total",
			Help:      "Total number of half-applied updates (profile written, subscription record failed).",
		}),

		creditResetsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_resets_total",
			Help:      "Total number of monthly credit counter resets.",
		}, []string{"tier"}),
	}
}

func (m *Metrics) RecordReconcile(eventType, status string) {
	m.reconcileTotal.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) RecordStoreWrite(kind, status string) {
	m.storeWritesTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordPartialWrite() {
	m.partialWriteTotal.Inc()
}

func (m *Metrics) RecordCreditReset(tier string) {
	m.creditResetsTotal.WithLabelValues(tier).Inc()
}
