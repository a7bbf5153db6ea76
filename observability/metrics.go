// Package observability provides Prometheus metrics and OpenTelemetry
// tracing instrumentation for PolyBus pipelines and broker delivery,
// adapted from the teacher's coreengine/observability package.
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/polybus/polybus"
)

var (
	transactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polybus_transactions_total",
			Help: "Total number of transactions dispatched through a pipeline",
		},
		[]string{"variant", "status"}, // variant: incoming/outgoing; status: success, error
	)

	transactionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polybus_transaction_duration_seconds",
			Help:    "Pipeline dispatch duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"variant"},
	)

	brokerDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polybus_broker_deliveries_total",
			Help: "Total broker delivery attempts",
		},
		[]string{"endpoint", "kind", "status"}, // kind: command, event, dead_letter
	)

	retryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polybus_retry_attempts_total",
			Help: "Total retry/dead-letter handler outcomes",
		},
		[]string{"outcome"}, // outcome: success, delayed_retry, dead_letter
	)
)

// Metrics wraps the package-level Prometheus collectors as a
// polybus.HandlerFunc-producing middleware, so instrumentation can be
// inserted anywhere in a pipeline without the rest of the library
// depending on Prometheus directly.
type Metrics struct{}

// Handler returns a middleware that records transaction count and
// duration.
func (Metrics) Handler() polybus.HandlerFunc {
	return func(ctx context.Context, tx polybus.Transaction, next polybus.NextFunc) error {
		variant := "outgoing"
		if tx.Variant() == polybus.VariantIncoming {
			variant = "incoming"
		}

		timer := prometheus.NewTimer(transactionDurationSeconds.WithLabelValues(variant))
		err := next(ctx, tx)
		timer.ObserveDuration()

		status := "success"
		if err != nil {
			status = "error"
		}
		transactionsTotal.WithLabelValues(variant, status).Inc()
		return err
	}
}

// ObserveBrokerDelivery records one broker delivery outcome. Called from
// the broker package, kept here so the broker itself stays free of a
// hard Prometheus dependency — callers wire it in explicitly.
func ObserveBrokerDelivery(endpoint, kind, status string) {
	brokerDeliveriesTotal.WithLabelValues(endpoint, kind, status).Inc()
}

// ObserveRetryOutcome records one retry/dead-letter handler outcome.
func ObserveRetryOutcome(outcome string) {
	retryAttemptsTotal.WithLabelValues(outcome).Inc()
}
