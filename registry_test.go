package polybus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alphaEvent struct {
	Value string
}

type betaCommand struct {
	Value string
}

func TestMessageRegistry_RegisterAndRoundTrip(t *testing.T) {
	r := NewMessageRegistry()
	info := MessageInfo{Kind: KindEvent, Endpoint: "orders", Name: "alpha", Major: 1}

	require.NoError(t, r.Register(&alphaEvent{}, info))

	gotInfo, err := r.InfoFor(&alphaEvent{Value: "x"})
	require.NoError(t, err)
	assert.Equal(t, info, gotInfo)

	gotType, err := r.TypeFor(info)
	require.NoError(t, err)
	assert.Equal(t, "*polybus.alphaEvent", gotType.String())

	header, err := r.HeaderFor(info)
	require.NoError(t, err)
	assert.Equal(t, info.String(), header)
}

func TestMessageRegistry_Register_RejectsDuplicateType(t *testing.T) {
	r := NewMessageRegistry()
	info := MessageInfo{Kind: KindEvent, Endpoint: "orders", Name: "alpha", Major: 1}
	require.NoError(t, r.Register(&alphaEvent{}, info))

	err := r.Register(&alphaEvent{}, info)
	assert.Error(t, err)
}

func TestMessageRegistry_Register_RejectsNilSample(t *testing.T) {
	r := NewMessageRegistry()
	err := r.Register(nil, MessageInfo{})
	assert.Error(t, err)
}

func TestMessageRegistry_TypeFor_IsVersionCompatible(t *testing.T) {
	r := NewMessageRegistry()
	registered := MessageInfo{Kind: KindEvent, Endpoint: "orders", Name: "alpha", Major: 1, Minor: 4, Patch: 2}
	require.NoError(t, r.Register(&alphaEvent{}, registered))

	lookup := MessageInfo{Kind: KindEvent, Endpoint: "orders", Name: "alpha", Major: 1, Minor: 0, Patch: 0}
	typ, err := r.TypeFor(lookup)
	require.NoError(t, err)
	assert.Equal(t, "*polybus.alphaEvent", typ.String())

	header, err := r.HeaderFor(lookup)
	require.NoError(t, err)
	assert.Equal(t, registered.String(), header, "HeaderFor emits the registered version, not the lookup version")
}

func TestMessageRegistry_TypeFor_MissesOnDifferentMajor(t *testing.T) {
	r := NewMessageRegistry()
	registered := MessageInfo{Kind: KindEvent, Endpoint: "orders", Name: "alpha", Major: 1}
	require.NoError(t, r.Register(&alphaEvent{}, registered))

	_, err := r.TypeFor(MessageInfo{Kind: KindEvent, Endpoint: "orders", Name: "alpha", Major: 2})
	require.Error(t, err)
	assert.True(t, IsMessageNotFound(err))
}

func TestMessageRegistry_InfoFor_MissesOnUnregisteredType(t *testing.T) {
	r := NewMessageRegistry()
	_, err := r.InfoFor(&betaCommand{})
	require.Error(t, err)
	assert.True(t, IsMessageNotFound(err))
}

func TestMessageRegistry_NewPayload_AllocatesPointerType(t *testing.T) {
	r := NewMessageRegistry()
	info := MessageInfo{Kind: KindEvent, Endpoint: "orders", Name: "alpha", Major: 1}
	require.NoError(t, r.Register(&alphaEvent{}, info))

	payload, err := r.NewPayload(info)
	require.NoError(t, err)
	typed, ok := payload.(*alphaEvent)
	require.True(t, ok)
	assert.Equal(t, "", typed.Value)
}

func TestMessageRegistry_ConcurrentAccess(t *testing.T) {
	r := NewMessageRegistry()
	info := MessageInfo{Kind: KindEvent, Endpoint: "orders", Name: "alpha", Major: 1}
	require.NoError(t, r.Register(&alphaEvent{}, info))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_, _ = r.InfoFor(&alphaEvent{})
		}
		close(done)
	}()
	for i := 0; i < 100; i++ {
		_, _ = r.TypeFor(info)
	}
	<-done
}
