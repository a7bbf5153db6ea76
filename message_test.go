package polybus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageInfo_ToStringAndParse_RoundTrip(t *testing.T) {
	info := MessageInfo{Kind: KindEvent, Endpoint: "orders", Name: "order-placed", Major: 1, Minor: 2, Patch: 3}

	s := info.String()
	assert.Equal(t, "endpoint=orders, type=event, name=order-placed, version=1.2.3", s)

	parsed, ok := ParseMessageInfo(s)
	assert.True(t, ok)
	assert.Equal(t, info, parsed)
}

func TestMessageInfo_ToString_WithoutVersion(t *testing.T) {
	info := MessageInfo{Kind: KindCommand, Endpoint: "orders", Name: "ship-order", Major: 2}
	assert.Equal(t, "endpoint=orders, type=command, name=ship-order", info.ToString(false))
}

func TestParseMessageInfo_RejectsEmbeddedWhitespace(t *testing.T) {
	_, ok := ParseMessageInfo("endpoint=orders, type=event, name=order placed")
	assert.False(t, ok)
}

func TestParseMessageInfo_ToleratesWhitespaceAroundSeparators(t *testing.T) {
	info, ok := ParseMessageInfo("endpoint = orders , type = event , name = order-placed")
	assert.True(t, ok)
	assert.Equal(t, "orders", info.Endpoint)
	assert.Equal(t, "order-placed", info.Name)
}

func TestParseMessageInfo_RejectsUnknownKind(t *testing.T) {
	_, ok := ParseMessageInfo("endpoint=orders, type=query, name=order-placed")
	assert.False(t, ok)
}

func TestParseMessageInfo_RejectsWrongSegmentCount(t *testing.T) {
	_, ok := ParseMessageInfo("endpoint=orders, type=event")
	assert.False(t, ok)
}

func TestParseMessageInfo_RejectsMalformedVersion(t *testing.T) {
	_, ok := ParseMessageInfo("endpoint=orders, type=event, name=order-placed, version=1.2")
	assert.False(t, ok)
}

func TestMessageInfo_Key_IgnoresMinorPatch(t *testing.T) {
	a := MessageInfo{Kind: KindEvent, Endpoint: "orders", Name: "order-placed", Major: 1, Minor: 0, Patch: 0}
	b := MessageInfo{Kind: KindEvent, Endpoint: "orders", Name: "order-placed", Major: 1, Minor: 9, Patch: 9}
	assert.True(t, a.Equals(b))
	assert.Equal(t, a.Key(), b.Key())
}

func TestMessageInfo_Key_DiffersOnMajor(t *testing.T) {
	a := MessageInfo{Kind: KindEvent, Endpoint: "orders", Name: "order-placed", Major: 1}
	b := MessageInfo{Kind: KindEvent, Endpoint: "orders", Name: "order-placed", Major: 2}
	assert.False(t, a.Equals(b))
}

func TestMessageInfo_SubscriptionKey_IgnoresVersionEntirely(t *testing.T) {
	a := MessageInfo{Kind: KindEvent, Endpoint: "orders", Name: "order-placed", Major: 1, Minor: 0, Patch: 0}
	b := MessageInfo{Kind: KindEvent, Endpoint: "orders", Name: "order-placed", Major: 2, Minor: 9, Patch: 9}
	assert.False(t, a.Equals(b), "InfoKey should still differ on major")
	assert.Equal(t, a.SubscriptionKey(), b.SubscriptionKey(), "subscription matching must be version-agnostic, including across major versions")
}

func TestHeaders_Clone_IsIndependentCopy(t *testing.T) {
	h := Headers{"a": "1"}
	clone := h.Clone()
	clone["a"] = "2"
	assert.Equal(t, "1", h["a"])
}

func TestOutgoingMessage_IsDelayed(t *testing.T) {
	bus := &Bus{name: "test"}
	m := newOutgoingMessage(bus, "payload", MessageInfo{})

	now := time.Now()
	assert.False(t, m.IsDelayed(now))

	m.DeliverAt = now.Add(time.Minute)
	assert.True(t, m.IsDelayed(now))

	m.DeliverAt = now.Add(-time.Minute)
	assert.False(t, m.IsDelayed(now))
}

func TestNewIncomingMessage_DefaultsMessageToBody(t *testing.T) {
	bus := &Bus{name: "test"}
	body := []byte(`{"a":1}`)
	m := NewIncomingMessage(bus, MessageInfo{}, body)
	assert.Equal(t, body, m.Message)
	assert.Same(t, bus, m.Bus())
}
