package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polybus/polybus"
)

func TestMetrics_Handler_RecordsSuccessAndError(t *testing.T) {
	bus, err := polybus.NewBuilder().
		WithName("metricsbus").
		WithTransportFactory(func(b *polybus.Builder, bus *polybus.Bus) (polybus.Transport, error) { return stubTransport{}, nil }).
		Build()
	require.NoError(t, err)

	m := Metrics{}
	before := testutil.ToFloat64(transactionsTotal.WithLabelValues("outgoing", "success"))

	tx := polybus.NewOutgoingTransaction(bus)
	require.NoError(t, m.Handler()(context.Background(), tx, func(ctx context.Context, tx polybus.Transaction) error { return nil }))
	assert.Equal(t, before+1, testutil.ToFloat64(transactionsTotal.WithLabelValues("outgoing", "success")))

	beforeErr := testutil.ToFloat64(transactionsTotal.WithLabelValues("outgoing", "error"))
	err = m.Handler()(context.Background(), tx, func(ctx context.Context, tx polybus.Transaction) error { return errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(transactionsTotal.WithLabelValues("outgoing", "error")))
}

func TestObserveBrokerDelivery_IncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(brokerDeliveriesTotal.WithLabelValues("orders", "event", "delivered"))
	ObserveBrokerDelivery("orders", "event", "delivered")
	assert.Equal(t, before+1, testutil.ToFloat64(brokerDeliveriesTotal.WithLabelValues("orders", "event", "delivered")))
}

func TestObserveRetryOutcome_IncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(retryAttemptsTotal.WithLabelValues("dead_letter"))
	ObserveRetryOutcome("dead_letter")
	assert.Equal(t, before+1, testutil.ToFloat64(retryAttemptsTotal.WithLabelValues("dead_letter")))
}

type stubTransport struct{}

func (stubTransport) DeadLetterEndpoint() string                                 { return "dead.letters" }
func (stubTransport) SupportsDelayedCommands() bool                            { return true }
func (stubTransport) SupportsCommandMessages() bool                            { return true }
func (stubTransport) SupportsSubscriptions() bool                              { return true }
func (stubTransport) Start(ctx context.Context) error                          { return nil }
func (stubTransport) Stop(ctx context.Context) error                           { return nil }
func (stubTransport) Handle(ctx context.Context, tx polybus.Transaction) error  { return nil }
func (stubTransport) Subscribe(ctx context.Context, info polybus.MessageInfo) error { return nil }
