package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconciliationMetrics tracks how payment signals are resolved against orders.
type ReconciliationMetrics struct {
	outcomes  *prometheus.CounterVec
	conflicts prometheus.Counter
	gateway   *prometheus.HistogramVec
}

// NewReconciliationMetrics registers the reconciliation metrics on reg. A nil registerer
// yields a no-op recorder.
func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_reconciliations_total",
		Help:      "Payment signals applied to orders, by source and outcome.",
	}, []string{"source", "outcome"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_reservation_conflicts_total",
		Help:      "Finalizations refused because stock ran out after order creation.",
	})
	gateway := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gateway_request_duration_seconds",
		Help:      "Latency of payment gateway calls.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"operation", "result"})
	reg.MustRegister(outcomes, conflicts, gateway)
	return &ReconciliationMetrics{
		outcomes:  outcomes,
		conflicts: conflicts,
		gateway:   gateway,
	}
}

// IncOutcome counts one resolved signal. source is "callback", "admin" or "cron".
func (m *ReconciliationMetrics) IncOutcome(source, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

// IncStockConflict counts a refused finalization.
func (m *ReconciliationMetrics) IncStockConflict() {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Inc()
}

// ObserveGateway records one gateway round trip.
func (m *ReconciliationMetrics) ObserveGateway(operation string, took time.Duration, err error) {
	if m == nil || m.gateway == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gateway.WithLabelValues(normalizeLabel(operation), result).Observe(took.Seconds())
}
