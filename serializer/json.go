// Package serializer provides the reference body codec: JSON in, JSON
// out. The core pipeline engine treats the codec as opaque — any package
// exposing Deserialize/Serialize middleware of this shape fits the
// handler contract spec.md describes.
package serializer

import (
	"context"
	"encoding/json"

	"github.com/polybus/polybus"
)

// DefaultContentType is the content-type header value the reference
// codec sets on every outgoing message.
const DefaultContentType = "application/json"

// JSON is a reference serializer handler: Deserialize decodes an
// incoming body into the registered Go type and assigns it to
// IncomingMessage.Message; Serialize encodes OutgoingMessage.Payload into
// Body and stamps the content-type header.
type JSON struct {
	// ContentType overrides DefaultContentType when non-empty.
	ContentType string
	// RequireTypeHeader, when true, makes Deserialize fail closed if the
	// incoming message's Info does not resolve to a registered type,
	// instead of falling back to json.Unmarshal into a generic map. The core leaves this policy to the codec implementation.
	RequireTypeHeader bool
}

// New returns a JSON codec using DefaultContentType.
func New() *JSON {
	return &JSON{ContentType: DefaultContentType}
}

func (j *JSON) contentType() string {
	if j.ContentType != "" {
		return j.ContentType
	}
	return DefaultContentType
}

// Deserialize parses tx.Incoming.Body into a freshly allocated instance
// of the registered type for tx.Incoming.Info, assigns it to
// tx.Incoming.Message and tx.Incoming.UserType, then invokes next.
func (j *JSON) Deserialize(ctx context.Context, tx polybus.Transaction, next polybus.NextFunc) error {
	itx, ok := tx.(*polybus.IncomingTransaction)
	if !ok {
		return next(ctx, tx)
	}

	target, err := tx.Bus().Registry().NewPayload(itx.Incoming.Info)
	if err != nil {
		if j.RequireTypeHeader {
			return polybus.NewSerializationError(err)
		}
		var generic map[string]any
		if len(itx.Incoming.Body) > 0 {
			if uErr := json.Unmarshal(itx.Incoming.Body, &generic); uErr != nil {
				return polybus.NewSerializationError(uErr)
			}
		}
		itx.Incoming.Message = generic
		return next(ctx, tx)
	}

	if len(itx.Incoming.Body) > 0 {
		if err := json.Unmarshal(itx.Incoming.Body, target); err != nil {
			return polybus.NewSerializationError(err)
		}
	}
	itx.Incoming.Message = target
	itx.Incoming.UserType = target
	return next(ctx, tx)
}

// Serialize encodes every outgoing message's Payload into Body and sets
// the content-type header, then invokes next.
func (j *JSON) Serialize(ctx context.Context, tx polybus.Transaction, next polybus.NextFunc) error {
	for _, m := range tx.Outgoing() {
		body, err := json.Marshal(m.Payload)
		if err != nil {
			return polybus.NewSerializationError(err)
		}
		m.Body = body
		if m.Headers == nil {
			m.Headers = make(polybus.Headers)
		}
		m.Headers[polybus.ContentTypeHeader] = j.contentType()
	}
	return next(ctx, tx)
}
