package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polybus/polybus"
)

func TestEndpoint_DeadLetterEndpoint_NamingConvention(t *testing.T) {
	b := New(nil)
	bus := buildBus(t, b, "orders")
	ep := bus.Transport().(*Endpoint)
	assert.Equal(t, "orders.dead.letters", ep.DeadLetterEndpoint())
}

func TestEndpoint_Capabilities(t *testing.T) {
	b := New(nil)
	bus := buildBus(t, b, "orders")
	ep := bus.Transport().(*Endpoint)
	assert.True(t, ep.SupportsDelayedCommands())
	assert.True(t, ep.SupportsCommandMessages())
	assert.True(t, ep.SupportsSubscriptions())
}

func TestEndpoint_Subscribe_BeforeStart_IsNotStartedError(t *testing.T) {
	b := New(nil)
	bus := buildBus(t, b, "orders")
	ep := bus.Transport().(*Endpoint)

	err := ep.Subscribe(context.Background(), polybus.MessageInfo{Kind: polybus.KindEvent, Endpoint: "orders", Name: "order-placed", Major: 1})
	require.Error(t, err)
	assert.True(t, polybus.IsNotStarted(err))
}

func TestEndpoint_Handle_BeforeStart_IsNotStartedError(t *testing.T) {
	b := New(nil)
	bus := buildBus(t, b, "orders")
	ep := bus.Transport().(*Endpoint)

	tx := polybus.NewOutgoingTransaction(bus)
	err := ep.Handle(context.Background(), tx)
	require.Error(t, err)
	assert.True(t, polybus.IsNotStarted(err))
}

func TestEndpoint_StartStop_Idempotent(t *testing.T) {
	b := New(nil)
	bus := buildBus(t, b, "orders")
	ep := bus.Transport().(*Endpoint)

	require.NoError(t, ep.Start(context.Background()))
	require.NoError(t, ep.Start(context.Background()))
	require.NoError(t, ep.Stop(context.Background()))
	require.NoError(t, ep.Stop(context.Background()))
}

func TestEndpoint_Subscriptions_AreVersionAgnostic(t *testing.T) {
	b := New(nil)
	bus := buildBus(t, b, "orders")
	ep := bus.Transport().(*Endpoint)
	require.NoError(t, ep.Start(context.Background()))

	info := polybus.MessageInfo{Kind: polybus.KindEvent, Endpoint: "orders", Name: "order-placed", Major: 1, Minor: 3}
	require.NoError(t, ep.Subscribe(context.Background(), info))

	otherMajor := polybus.MessageInfo{Kind: polybus.KindEvent, Endpoint: "orders", Name: "order-placed", Major: 2, Minor: 0}
	assert.Contains(t, ep.Subscriptions(), otherMajor.SubscriptionKey())
	assert.True(t, ep.isSubscribed(otherMajor), "subscription must match across major versions, not just minor/patch")
}
