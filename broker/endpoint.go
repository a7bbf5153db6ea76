package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/polybus/polybus"
)

// Endpoint is a multi-endpoint router's view of one bus: it tracks an
// active/inactive flag, a set of subscribed event infos (keyed
// version-agnostically), and an optional dead-letter handler, and
// implements polybus.Transport by routing through its owning Broker.
//
// Endpoint holds a direct pointer to its bus rather than a weak
// back-reference: Go's garbage collector reclaims the Bus/Endpoint pair
// together regardless of the direction of any single pointer, so the
// "never mutual owning references" caution in the design notes — aimed
// at manually-reference-counted runtimes — doesn't apply here. See
// DESIGN.md.
type Endpoint struct {
	broker *Broker
	bus    *polybus.Bus

	mu             sync.RWMutex
	active         bool
	subscriptions  map[polybus.SubscriptionKey]struct{}
	deadLetterFunc func(ctx context.Context, msg *polybus.IncomingMessage)
}

func newEndpoint(b *Broker, bus *polybus.Bus) *Endpoint {
	return &Endpoint{
		broker:        b,
		bus:           bus,
		subscriptions: make(map[polybus.SubscriptionKey]struct{}),
	}
}

// SetDeadLetterHandler installs a synchronous handler invoked whenever
// this endpoint receives a dead letter. It replaces any previously set
// handler.
func (e *Endpoint) SetDeadLetterHandler(f func(ctx context.Context, msg *polybus.IncomingMessage)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deadLetterFunc = f
}

// DeadLetterEndpoint returns "<bus-name>.dead.letters", the name callers
// use to address a dead letter at this endpoint.
func (e *Endpoint) DeadLetterEndpoint() string {
	return fmt.Sprintf("%s.dead.letters", e.bus.Name())
}

func (e *Endpoint) SupportsDelayedCommands() bool { return true }
func (e *Endpoint) SupportsCommandMessages() bool { return true }
func (e *Endpoint) SupportsSubscriptions() bool   { return true }

// Start activates the endpoint. A second call is a no-op.
func (e *Endpoint) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = true
	return nil
}

// Stop deactivates the endpoint. A second call is a no-op.
func (e *Endpoint) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = false
	return nil
}

func (e *Endpoint) isActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

// Subscribe registers interest in an event type, keyed by its lookup
// identity without version — subscription is version-agnostic.
func (e *Endpoint) Subscribe(ctx context.Context, info polybus.MessageInfo) error {
	if !e.isActive() {
		return polybus.NewNotStartedError("subscribe")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscriptions[info.SubscriptionKey()] = struct{}{}
	return nil
}

func (e *Endpoint) isSubscribed(info polybus.MessageInfo) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.subscriptions[info.SubscriptionKey()]
	return ok
}

// Subscriptions returns a snapshot of the infos this endpoint is
// subscribed to, for introspection/debugging.
func (e *Endpoint) Subscriptions() []polybus.SubscriptionKey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]polybus.SubscriptionKey, 0, len(e.subscriptions))
	for k := range e.subscriptions {
		out = append(out, k)
	}
	return out
}

// Handle implements polybus.Transport: it hands every outgoing message in
// tx to the broker for routing. Handle itself does not block on
// delivery; routing and delivery are async per message.
func (e *Endpoint) Handle(ctx context.Context, tx polybus.Transaction) error {
	if !e.isActive() {
		return polybus.NewNotStartedError("handle")
	}
	for _, m := range tx.Outgoing() {
		e.broker.route(ctx, m)
	}
	return nil
}

// deliver is invoked by the broker, once per (message, endpoint) pair, on
// its own goroutine (or timer callback). If the endpoint is inactive the
// message is dropped. Dead letters go synchronously to the configured
// handler and never create a transaction.
func (e *Endpoint) deliver(ctx context.Context, m *polybus.OutgoingMessage, isDeadLetter bool) error {
	if !e.isActive() {
		return nil
	}

	incoming := polybus.NewIncomingMessage(e.bus, m.Info, m.Body)
	incoming.Message = m.Payload
	incoming.Headers = m.Headers.Clone()

	if isDeadLetter {
		e.mu.RLock()
		handler := e.deadLetterFunc
		e.mu.RUnlock()
		if handler != nil {
			handler(ctx, incoming)
		}
		return nil
	}

	tx, err := e.bus.CreateIncomingTransaction(ctx, incoming)
	if err != nil {
		return err
	}
	return e.bus.Send(ctx, tx)
}

var _ polybus.Transport = (*Endpoint)(nil)
