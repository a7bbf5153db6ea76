// Package middleware provides optional, reusable pipeline middleware:
// structured logging and a circuit breaker, adapted from the teacher's
// commbus before/after middleware to PolyBus's transaction/pipeline
// shape.
package middleware

import (
	"context"

	"github.com/polybus/polybus"
)

// Logging logs entry, success, and failure of every transaction that
// passes through it.
type Logging struct {
	Logger polybus.Logger
}

// NewLogging returns a Logging middleware using the given logger, or the
// library default if logger is nil.
func NewLogging(logger polybus.Logger) *Logging {
	if logger == nil {
		logger = polybus.DefaultLogger()
	}
	return &Logging{Logger: logger}
}

// Handle implements polybus.HandlerFunc's shape.
func (l *Logging) Handle(ctx context.Context, tx polybus.Transaction, next polybus.NextFunc) error {
	variant := "outgoing"
	if tx.Variant() == polybus.VariantIncoming {
		variant = "incoming"
	}

	l.Logger.Debug("polybus_transaction_started", "variant", variant, "tx_id", tx.ID())

	err := next(ctx, tx)

	if err != nil {
		l.Logger.Warn("polybus_transaction_failed", "variant", variant, "tx_id", tx.ID(), "error", err.Error())
	} else {
		l.Logger.Debug("polybus_transaction_completed", "variant", variant, "tx_id", tx.ID())
	}
	return err
}

// LoggingHandler returns the Logging middleware as a bare
// polybus.HandlerFunc, for builders that prefer composing functions
// directly rather than holding onto the middleware value.
func LoggingHandler(logger polybus.Logger) polybus.HandlerFunc {
	return NewLogging(logger).Handle
}
