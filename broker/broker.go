// Package broker provides the in-memory reference transport: a
// multi-endpoint router with subscription filtering, delayed delivery,
// and concurrent fan-out. A Builder has no default transport: a bus uses
// the broker only when built with Broker.TransportFactory.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/polybus/polybus"
)

// Broker is the shared router behind every Endpoint built from it. A
// process hosting several buses typically shares one Broker so they can
// address each other by name.
type Broker struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint

	pendingMu sync.Mutex
	pending   map[string]*time.Timer
	wg        sync.WaitGroup

	logger    polybus.Logger
	onDeliver func(endpoint, kind, status string)
}

// New returns an empty Broker.
func New(logger polybus.Logger) *Broker {
	if logger == nil {
		logger = polybus.DefaultLogger()
	}
	return &Broker{
		endpoints: make(map[string]*Endpoint),
		pending:   make(map[string]*time.Timer),
		logger:    logger,
	}
}

// WithObserver installs a callback invoked once per delivery attempt
// with the target endpoint name, the delivery kind ("command", "event",
// or "dead_letter"), and its outcome ("delivered", "dropped", "error").
// This keeps the broker itself free of a hard metrics dependency; wire
// observability.ObserveBrokerDelivery here to export Prometheus counters.
func (b *Broker) WithObserver(f func(endpoint, kind, status string)) *Broker {
	b.onDeliver = f
	return b
}

func (b *Broker) observe(endpoint, kind, status string) {
	if b.onDeliver != nil {
		b.onDeliver(endpoint, kind, status)
	}
}

// TransportFactory returns a polybus.TransportFactory that binds a Bus to
// a new Endpoint on this broker under the Builder's configured name.
func (b *Broker) TransportFactory() polybus.TransportFactory {
	return func(builder *polybus.Builder, bus *polybus.Bus) (polybus.Transport, error) {
		return b.addEndpoint(bus), nil
	}
}

func (b *Broker) addEndpoint(bus *polybus.Bus) *Endpoint {
	ep := newEndpoint(b, bus)

	b.mu.Lock()
	b.endpoints[bus.Name()] = ep
	b.mu.Unlock()

	return ep
}

// Endpoints returns a snapshot of the registered endpoints, keyed by bus
// name.
func (b *Broker) Endpoints() map[string]*Endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]*Endpoint, len(b.endpoints))
	for k, v := range b.endpoints {
		out[k] = v
	}
	return out
}

// route dispatches one outgoing message to every endpoint it should
// reach, per the precedence rules in §4.5:
//
//  1. Any endpoint whose DeadLetterEndpoint equals m.Endpoint receives it
//     as a dead letter (this precedence is deliberate: see DESIGN.md).
//  2. Else, if m.Endpoint names an endpoint's bus exactly, that endpoint
//     receives it.
//  3. Else (m.Endpoint unset), every endpoint that either owns the
//     command (Info.Endpoint == endpoint's bus name) or is subscribed to
//     the event receives its own copy.
func (b *Broker) route(ctx context.Context, m *polybus.OutgoingMessage) {
	b.mu.RLock()
	endpoints := make([]*Endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		endpoints = append(endpoints, ep)
	}
	b.mu.RUnlock()

	type target struct {
		ep           *Endpoint
		isDeadLetter bool
	}
	var targets []target

	if m.Endpoint != "" {
		for _, ep := range endpoints {
			if ep.DeadLetterEndpoint() == m.Endpoint {
				targets = append(targets, target{ep, true})
			}
		}
		if len(targets) == 0 {
			for _, ep := range endpoints {
				if ep.bus.Name() == m.Endpoint {
					targets = append(targets, target{ep, false})
				}
			}
		}
	} else {
		for _, ep := range endpoints {
			if m.Info.Endpoint == ep.bus.Name() || ep.isSubscribed(m.Info) {
				targets = append(targets, target{ep, false})
			}
		}
	}

	for _, tg := range targets {
		b.deliverTo(ctx, tg.ep, m, tg.isDeadLetter)
	}
}

func (b *Broker) deliverTo(ctx context.Context, ep *Endpoint, m *polybus.OutgoingMessage, isDeadLetter bool) {
	now := time.Now()
	if m.IsDelayed(now) {
		b.scheduleDelayed(ctx, ep, m, isDeadLetter, m.DeliverAt.Sub(now))
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.safeDeliver(ctx, ep, m, isDeadLetter)
	}()
}

func (b *Broker) scheduleDelayed(ctx context.Context, ep *Endpoint, m *polybus.OutgoingMessage, isDeadLetter bool, delay time.Duration) {
	id := fmt.Sprintf("%s:%s:%d", ep.bus.Name(), m.Info.String(), time.Now().UnixNano())

	b.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer b.wg.Done()
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
		b.safeDeliver(ctx, ep, m, isDeadLetter)
	})

	b.pendingMu.Lock()
	b.pending[id] = timer
	b.pendingMu.Unlock()
}

// safeDeliver invokes Endpoint.deliver, logging and swallowing any error
// so one bad recipient never prevents delivery to its peers.
func (b *Broker) safeDeliver(ctx context.Context, ep *Endpoint, m *polybus.OutgoingMessage, isDeadLetter bool) {
	kind := string(m.Info.Kind)
	if isDeadLetter {
		kind = "dead_letter"
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("broker_delivery_panicked", "endpoint", ep.bus.Name(), "panic", r)
			b.observe(ep.bus.Name(), kind, "error")
		}
	}()
	if !ep.isActive() {
		b.observe(ep.bus.Name(), kind, "dropped")
		return
	}
	if err := ep.deliver(ctx, m, isDeadLetter); err != nil {
		b.logger.Warn("broker_delivery_failed", "endpoint", ep.bus.Name(), "error", err.Error())
		b.observe(ep.bus.Name(), kind, "error")
		return
	}
	b.observe(ep.bus.Name(), kind, "delivered")
}

// Stop cancels all outstanding scheduled-send timers and waits for every
// in-flight delivery (immediate or just-fired) to finish. Cancelled
// timers do not deliver and do not surface an error.
func (b *Broker) Stop(ctx context.Context) error {
	b.pendingMu.Lock()
	for id, timer := range b.pending {
		if timer.Stop() {
			delete(b.pending, id)
			b.wg.Done()
		}
	}
	b.pendingMu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
