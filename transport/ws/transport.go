// Package ws is a third reference polybus.Transport: it exposes an
// http.Handler that upgrades incoming connections to WebSocket and treats
// each connection as a remote endpoint, exchanging JSON-encoded envelopes.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/polybus/polybus"
)

// envelope is the wire shape exchanged over a WebSocket connection.
type envelope struct {
	Info    string            `json:"info"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

// Transport is a polybus.Transport that fans outgoing messages out to
// every connected WebSocket peer subscribed to them, and turns inbound
// frames into IncomingTransactions against the bus.
type Transport struct {
	Upgrader websocket.Upgrader

	bus *polybus.Bus

	mu    sync.RWMutex
	conns map[*peerConn]struct{}
}

type peerConn struct {
	conn *websocket.Conn

	mu            sync.Mutex
	subscriptions map[polybus.SubscriptionKey]struct{}
}

func (p *peerConn) isSubscribed(info polybus.MessageInfo) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.subscriptions[info.SubscriptionKey()]
	return ok
}

// New returns a Transport ready to be installed as an http.Handler (via
// ServeHTTP) and wired into a Builder (via TransportFactory).
func New() *Transport {
	return &Transport{
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*peerConn]struct{}),
	}
}

// TransportFactory returns a polybus.TransportFactory binding t to bus.
func (t *Transport) TransportFactory() polybus.TransportFactory {
	return func(builder *polybus.Builder, bus *polybus.Bus) (polybus.Transport, error) {
		t.bus = bus
		return t, nil
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and serves it
// as a remote endpoint for as long as the connection stays open.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.bus.Logger().Warn("ws_upgrade_failed", "error", err.Error())
		return
	}

	pc := &peerConn{conn: conn, subscriptions: make(map[polybus.SubscriptionKey]struct{})}
	t.mu.Lock()
	t.conns[pc] = struct{}{}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.conns, pc)
		t.mu.Unlock()
		conn.Close()
	}()

	t.readLoop(r.Context(), pc)
}

func (t *Transport) readLoop(ctx context.Context, pc *peerConn) {
	for {
		var frame struct {
			Subscribe *string `json:"subscribe,omitempty"`
			Envelope  *envelope `json:"envelope,omitempty"`
		}
		if err := pc.conn.ReadJSON(&frame); err != nil {
			return
		}

		if frame.Subscribe != nil {
			info, ok := polybus.ParseMessageInfo(*frame.Subscribe)
			if !ok {
				continue
			}
			pc.mu.Lock()
			pc.subscriptions[info.SubscriptionKey()] = struct{}{}
			pc.mu.Unlock()
			continue
		}

		if frame.Envelope != nil {
			t.deliverInbound(ctx, *frame.Envelope)
		}
	}
}

func (t *Transport) deliverInbound(ctx context.Context, env envelope) {
	info, ok := polybus.ParseMessageInfo(env.Info)
	if !ok {
		t.bus.Logger().Warn("ws_inbound_invalid_info", "info", env.Info)
		return
	}

	incoming := polybus.NewIncomingMessage(t.bus, info, []byte(env.Body))
	headers := polybus.Headers{}
	for k, v := range env.Headers {
		headers[k] = v
	}
	incoming.Headers = headers

	itx, err := t.bus.CreateIncomingTransaction(ctx, incoming)
	if err != nil {
		t.bus.Logger().Warn("ws_incoming_transaction_failed", "error", err.Error())
		return
	}
	if err := t.bus.Send(ctx, itx); err != nil {
		t.bus.Logger().Warn("ws_incoming_send_failed", "error", err.Error())
	}
}

func (t *Transport) DeadLetterEndpoint() string {
	return t.bus.Name() + ".dead.letters"
}

func (t *Transport) SupportsDelayedCommands() bool { return false }
func (t *Transport) SupportsCommandMessages() bool  { return true }
func (t *Transport) SupportsSubscriptions() bool    { return true }

// Start is a no-op: connections are driven by ServeHTTP, which an
// external http.Server owns.
func (t *Transport) Start(ctx context.Context) error { return nil }

// Stop closes every currently connected peer.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for pc := range t.conns {
		pc.conn.Close()
	}
	return nil
}

// Subscribe has no meaning for this transport's own bus: remote peers
// express subscriptions by sending a {"subscribe": "..."} frame over
// their own connection.
func (t *Transport) Subscribe(ctx context.Context, info polybus.MessageInfo) error {
	return nil
}

// Handle fans tx's outgoing messages out to every connected peer
// subscribed to them.
func (t *Transport) Handle(ctx context.Context, tx polybus.Transaction) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, m := range tx.Outgoing() {
		out := envelope{Info: m.Info.String(), Headers: m.Headers, Body: json.RawMessage(m.Body)}

		for pc := range t.conns {
			if !pc.isSubscribed(m.Info) {
				continue
			}
			frame := struct {
				Envelope envelope `json:"envelope"`
			}{Envelope: out}

			pc.mu.Lock()
			err := pc.conn.WriteJSON(frame)
			pc.mu.Unlock()
			if err != nil {
				t.bus.Logger().Warn("ws_delivery_failed", "error", err.Error())
			}
		}
	}
	return nil
}

var _ polybus.Transport = (*Transport)(nil)
