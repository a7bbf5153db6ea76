package serializer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polybus/polybus"
)

type widgetCreated struct {
	Name string `json:"name"`
}

func newTestBus(t *testing.T) *polybus.Bus {
	t.Helper()
	bus, err := polybus.NewBuilder().
		WithName("widgets").
		WithTransportFactory(func(b *polybus.Builder, bus *polybus.Bus) (polybus.Transport, error) { return noopTransport{}, nil }).
		Build()
	require.NoError(t, err)
	require.NoError(t, bus.Registry().Register(&widgetCreated{}, polybus.MessageInfo{
		Kind: polybus.KindEvent, Endpoint: "widgets", Name: "widget-created", Major: 1,
	}))
	return bus
}

type noopTransport struct{}

func (noopTransport) DeadLetterEndpoint() string                                 { return "dead.letters" }
func (noopTransport) SupportsDelayedCommands() bool                            { return true }
func (noopTransport) SupportsCommandMessages() bool                            { return true }
func (noopTransport) SupportsSubscriptions() bool                              { return true }
func (noopTransport) Start(ctx context.Context) error                          { return nil }
func (noopTransport) Stop(ctx context.Context) error                           { return nil }
func (noopTransport) Handle(ctx context.Context, tx polybus.Transaction) error  { return nil }
func (noopTransport) Subscribe(ctx context.Context, info polybus.MessageInfo) error { return nil }

func passThrough(ctx context.Context, tx polybus.Transaction) error { return nil }

func TestJSON_Deserialize_PopulatesRegisteredType(t *testing.T) {
	bus := newTestBus(t)
	info := polybus.MessageInfo{Kind: polybus.KindEvent, Endpoint: "widgets", Name: "widget-created", Major: 1}
	msg := polybus.NewIncomingMessage(bus, info, []byte(`{"name":"gear"}`))
	tx, err := bus.CreateIncomingTransaction(context.Background(), msg)
	require.NoError(t, err)

	j := New()
	require.NoError(t, j.Deserialize(context.Background(), tx, passThrough))

	typed, ok := msg.Message.(*widgetCreated)
	require.True(t, ok)
	assert.Equal(t, "gear", typed.Name)
	assert.Same(t, typed, msg.UserType)
}

func TestJSON_Deserialize_UnknownType_FallsBackToGenericMap(t *testing.T) {
	bus := newTestBus(t)
	info := polybus.MessageInfo{Kind: polybus.KindEvent, Endpoint: "widgets", Name: "unregistered", Major: 1}
	msg := polybus.NewIncomingMessage(bus, info, []byte(`{"name":"gear"}`))
	tx, err := bus.CreateIncomingTransaction(context.Background(), msg)
	require.NoError(t, err)

	j := New()
	require.NoError(t, j.Deserialize(context.Background(), tx, passThrough))

	generic, ok := msg.Message.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "gear", generic["name"])
}

func TestJSON_Deserialize_RequireTypeHeader_FailsClosed(t *testing.T) {
	bus := newTestBus(t)
	info := polybus.MessageInfo{Kind: polybus.KindEvent, Endpoint: "widgets", Name: "unregistered", Major: 1}
	msg := polybus.NewIncomingMessage(bus, info, []byte(`{"name":"gear"}`))
	tx, err := bus.CreateIncomingTransaction(context.Background(), msg)
	require.NoError(t, err)

	j := &JSON{RequireTypeHeader: true}
	err = j.Deserialize(context.Background(), tx, passThrough)
	require.Error(t, err)
	var perr *polybus.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, polybus.CodeSerialization, perr.Code)
}

func TestJSON_Deserialize_PassesThroughOutgoingTransactions(t *testing.T) {
	bus := newTestBus(t)
	tx := polybus.NewOutgoingTransaction(bus)
	called := false

	j := New()
	require.NoError(t, j.Deserialize(context.Background(), tx, func(ctx context.Context, tx polybus.Transaction) error {
		called = true
		return nil
	}))
	assert.True(t, called)
}

func TestJSON_Serialize_EncodesPayloadAndStampsContentType(t *testing.T) {
	bus := newTestBus(t)
	tx := polybus.NewOutgoingTransaction(bus)
	_, err := tx.Add(&widgetCreated{Name: "gear"})
	require.NoError(t, err)

	j := New()
	require.NoError(t, j.Serialize(context.Background(), tx, passThrough))

	out := tx.Outgoing()
	require.Len(t, out, 1)
	assert.JSONEq(t, `{"name":"gear"}`, string(out[0].Body))
	assert.Equal(t, DefaultContentType, out[0].Headers[polybus.ContentTypeHeader])
}

func TestJSON_Serialize_UsesOverriddenContentType(t *testing.T) {
	bus := newTestBus(t)
	tx := polybus.NewOutgoingTransaction(bus)
	_, err := tx.Add(&widgetCreated{Name: "gear"})
	require.NoError(t, err)

	j := &JSON{ContentType: "application/vnd.widgets+json"}
	require.NoError(t, j.Serialize(context.Background(), tx, passThrough))

	out := tx.Outgoing()
	assert.Equal(t, "application/vnd.widgets+json", out[0].Headers[polybus.ContentTypeHeader])
}
