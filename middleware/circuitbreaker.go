package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/polybus/polybus"
)

// circuitState is the per-message-type state tracked by CircuitBreaker.
type circuitState struct {
	failures    int
	lastFailure time.Time
	state       string // "closed", "open", "half-open"
}

// CircuitBreaker protects a message type from cascading failures:
// it opens after FailureThreshold consecutive failures, blocks while
// open, probes once in half-open, and closes again on a successful
// probe. It is a reference example of a handler that "wraps next in
// try/recover/retry logic" per spec §4.3, distinct from the mandatory
// retry/dead-letter handler.
type CircuitBreaker struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	Excluded         map[string]struct{}
	Logger           polybus.Logger

	mu     sync.Mutex
	states map[string]*circuitState
}

// NewCircuitBreaker returns a CircuitBreaker. excludedKinds lets specific
// message kinds ("command", "event") bypass the breaker entirely.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration, excludedKinds []string, logger polybus.Logger) *CircuitBreaker {
	excluded := make(map[string]struct{}, len(excludedKinds))
	for _, k := range excludedKinds {
		excluded[k] = struct{}{}
	}
	if logger == nil {
		logger = polybus.DefaultLogger()
	}
	return &CircuitBreaker{
		FailureThreshold: failureThreshold,
		ResetTimeout:     resetTimeout,
		Excluded:         excluded,
		Logger:           logger,
		states:           make(map[string]*circuitState),
	}
}

func (cb *CircuitBreaker) keyFor(tx polybus.Transaction) (string, bool) {
	var info polybus.MessageInfo
	switch t := tx.(type) {
	case *polybus.IncomingTransaction:
		info = t.Incoming.Info
	default:
		out := tx.Outgoing()
		if len(out) == 0 {
			return "", false
		}
		info = out[0].Info
	}
	if _, excluded := cb.Excluded[string(info.Kind)]; excluded {
		return "", false
	}
	return info.Name, true
}

func (cb *CircuitBreaker) getState(key string) *circuitState {
	s, ok := cb.states[key]
	if !ok {
		s = &circuitState{state: "closed"}
		cb.states[key] = s
	}
	return s
}

// Handle implements the HandlerFunc shape.
func (cb *CircuitBreaker) Handle(ctx context.Context, tx polybus.Transaction, next polybus.NextFunc) error {
	key, tracked := cb.keyFor(tx)
	if !tracked {
		return next(ctx, tx)
	}

	cb.mu.Lock()
	state := cb.getState(key)
	now := time.Now()
	if state.state == "open" {
		if now.Sub(state.lastFailure) >= cb.ResetTimeout {
			state.state = "half-open"
			cb.Logger.Debug("circuit_half_open", "message", key)
		} else {
			cb.mu.Unlock()
			cb.Logger.Warn("circuit_open_blocking", "message", key)
			return polybus.NewHandlerError(errCircuitOpen{key})
		}
	}
	cb.mu.Unlock()

	err := next(ctx, tx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	state = cb.getState(key)
	if err != nil {
		state.failures++
		state.lastFailure = time.Now()
		if state.state == "half-open" {
			state.state = "open"
			cb.Logger.Warn("circuit_reopened", "message", key)
		} else if cb.FailureThreshold > 0 && state.failures >= cb.FailureThreshold {
			state.state = "open"
			cb.Logger.Warn("circuit_opened", "message", key, "failures", state.failures)
		}
	} else {
		if state.state == "half-open" {
			state.state = "closed"
			cb.Logger.Debug("circuit_closed", "message", key)
		}
		state.failures = 0
	}
	return err
}

// States returns a snapshot of per-message-type circuit states, for
// introspection and tests.
func (cb *CircuitBreaker) States() map[string]string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	out := make(map[string]string, len(cb.states))
	for k, v := range cb.states {
		out[k] = v.state
	}
	return out
}

// Reset clears breaker state for one message name, or all of them when
// name is empty.
func (cb *CircuitBreaker) Reset(name string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if name == "" {
		cb.states = make(map[string]*circuitState)
		return
	}
	delete(cb.states, name)
}

type errCircuitOpen struct{ key string }

func (e errCircuitOpen) Error() string { return "circuit open for " + e.key }
