package grpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/polybus/polybus"
)

func TestEncodeDecodeEnvelope_RoundTrip(t *testing.T) {
	info := polybus.MessageInfo{Kind: polybus.KindEvent, Endpoint: "orders", Name: "order-placed", Major: 1, Minor: 2, Patch: 0}
	headers := polybus.Headers{"x-retry-count": "1"}
	body := []byte(`{"order_id":"1"}`)

	s, err := encodeEnvelope(info, headers, body)
	require.NoError(t, err)

	gotInfo, gotHeaders, gotBody, err := decodeEnvelope(s)
	require.NoError(t, err)
	assert.Equal(t, info, gotInfo)
	assert.Equal(t, "1", gotHeaders["x-retry-count"])
	assert.Equal(t, body, gotBody)
}

func TestDecodeEnvelope_RejectsInvalidInfo(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{
		"info":    "not a valid info string",
		"headers": map[string]any{},
		"body":    "e30=",
	})
	require.NoError(t, err)

	_, _, _, err = decodeEnvelope(s)
	assert.Error(t, err)
}
