// Package retry provides the retry/dead-letter middleware: an
// immediate-retry budget, delayed-retry re-enqueue with exponential-style
// spacing, and terminal dead-letter emission. It is intended for the
// incoming pipeline.
package retry

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/polybus/polybus"
)

// Config tunes the retry/dead-letter handler. Zero-valued fields are
// replaced by their defaults (see DefaultConfig) the first time Handler
// builds a middleware from them.
type Config struct {
	// DelayIncrement scales the delayed-retry backoff: the Nth delayed
	// retry is scheduled DelayIncrement*N after the failure. Default 30s.
	DelayIncrement time.Duration
	// DelayedRetryBudget caps how many delayed retries are attempted
	// before a message is dead-lettered. Default 3, floored at 1.
	DelayedRetryBudget int
	// ImmediateRetryBudget caps how many times next is invoked
	// synchronously before falling through to delayed retry or dead
	// letter. Default 3, floored at 1.
	ImmediateRetryBudget int

	RetryCountHeader      string
	ErrorMessageHeader    string
	ErrorStackTraceHeader string

	// Now lets tests substitute a fixed clock. Defaults to time.Now.
	Now func() time.Time

	Logger polybus.Logger

	// OnOutcome, if set, is called once per handled transaction with
	// "success", "delayed_retry", or "dead_letter". Optional hook so this
	// package stays free of a hard metrics dependency; wire
	// observability.ObserveRetryOutcome here to export it.
	OnOutcome func(outcome string)
}

// DefaultConfig returns the configuration described in spec §4.6.
func DefaultConfig() Config {
	return Config{
		DelayIncrement:        30 * time.Second,
		DelayedRetryBudget:    3,
		ImmediateRetryBudget:  3,
		RetryCountHeader:      "x-retry-count",
		ErrorMessageHeader:    "x-error-message",
		ErrorStackTraceHeader: "x-error-stack-trace",
		Now:                   time.Now,
		Logger:                polybus.DefaultLogger(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DelayIncrement > 0 {
		d.DelayIncrement = c.DelayIncrement
	}
	if c.DelayedRetryBudget != 0 {
		d.DelayedRetryBudget = c.DelayedRetryBudget
	}
	if c.ImmediateRetryBudget != 0 {
		d.ImmediateRetryBudget = c.ImmediateRetryBudget
	}
	if c.RetryCountHeader != "" {
		d.RetryCountHeader = c.RetryCountHeader
	}
	if c.ErrorMessageHeader != "" {
		d.ErrorMessageHeader = c.ErrorMessageHeader
	}
	if c.ErrorStackTraceHeader != "" {
		d.ErrorStackTraceHeader = c.ErrorStackTraceHeader
	}
	if c.Now != nil {
		d.Now = c.Now
	}
	if c.Logger != nil {
		d.Logger = c.Logger
	}
	if c.OnOutcome != nil {
		d.OnOutcome = c.OnOutcome
	}
	if d.DelayedRetryBudget < 1 {
		d.DelayedRetryBudget = 1
	}
	if d.ImmediateRetryBudget < 1 {
		d.ImmediateRetryBudget = 1
	}
	return d
}

func (c Config) observe(outcome string) {
	if c.OnOutcome != nil {
		c.OnOutcome(outcome)
	}
}

// Handler builds the retry/dead-letter middleware described in spec
// §4.6. It is a no-op pass-through on outgoing transactions: the
// algorithm only makes sense against the transaction that triggered
// processing, i.e. an IncomingTransaction.
func Handler(cfg Config) polybus.HandlerFunc {
	cfg = cfg.withDefaults()

	return func(ctx context.Context, tx polybus.Transaction, next polybus.NextFunc) error {
		itx, ok := tx.(*polybus.IncomingTransaction)
		if !ok {
			return next(ctx, tx)
		}

		incoming := itx.Incoming
		delayedAttempt := parseRetryCount(incoming.Headers[cfg.RetryCountHeader])

		var lastErr error
		for i := 0; i < cfg.ImmediateRetryBudget; i++ {
			tx.ClearOutgoing()
			lastErr = next(ctx, tx)
			if lastErr == nil {
				cfg.observe("success")
				return nil
			}
			cfg.Logger.Warn("retry_immediate_attempt_failed",
				"attempt", i, "budget", cfg.ImmediateRetryBudget, "error", lastErr.Error())
		}

		tx.ClearOutgoing()

		transport := tx.Bus().Transport()
		if !transport.SupportsDelayedCommands() || delayedAttempt >= cfg.DelayedRetryBudget {
			cfg.observe("dead_letter")
			return emitDeadLetter(tx, incoming, lastErr, transport, cfg)
		}
		cfg.observe("delayed_retry")
		return emitRetry(tx, incoming, delayedAttempt, cfg)
	}
}

func parseRetryCount(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// delaySeconds computes the Nth delayed-retry spacing using an
// exponential-style backoff primitive rather than a hand-rolled
// multiplication: the teacher's dependency graph already carries
// cenkalti/backoff transitively (for OTLP export retries), and its
// exponential policy with multiplier 1 degenerates to the
// linear "increment * attempt" spacing spec §4.6 calls for while keeping
// the jitter/cap knobs available should that spacing ever need to
// become non-linear.
func delaySeconds(increment time.Duration, attempt int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = increment
	eb.Multiplier = 1
	eb.RandomizationFactor = 0
	eb.MaxInterval = increment * time.Duration(attempt)
	eb.MaxElapsedTime = 0
	eb.Reset()

	var total time.Duration
	for i := 0; i < attempt; i++ {
		total += eb.NextBackOff()
	}
	return total
}

func emitRetry(tx polybus.Transaction, incoming *polybus.IncomingMessage, delayedAttempt int, cfg Config) error {
	newAttempt := delayedAttempt + 1
	deliverAt := cfg.Now().Add(delaySeconds(cfg.DelayIncrement, newAttempt))

	out, err := tx.Add(incoming.Message,
		polybus.WithMessageInfo(incoming.Info),
		polybus.WithEndpoint(tx.Bus().Name()),
		polybus.WithDeliverAt(deliverAt),
	)
	if err != nil {
		return err
	}
	out.Headers = incoming.Headers.Clone()
	out.Headers[cfg.RetryCountHeader] = strconv.Itoa(newAttempt)
	return nil
}

func emitDeadLetter(tx polybus.Transaction, incoming *polybus.IncomingMessage, cause error, transport polybus.Transport, cfg Config) error {
	out, err := tx.Add(incoming.Message,
		polybus.WithMessageInfo(incoming.Info),
		polybus.WithEndpoint(transport.DeadLetterEndpoint()),
	)
	if err != nil {
		return err
	}
	out.Headers = incoming.Headers.Clone()
	if cause != nil {
		out.Headers[cfg.ErrorMessageHeader] = cause.Error()
	} else {
		out.Headers[cfg.ErrorMessageHeader] = "unknown error"
	}
	out.Headers[cfg.ErrorStackTraceHeader] = fmt.Sprintf("%s\n%s", errorLine(cause), debug.Stack())
	return nil
}

func errorLine(err error) string {
	if err == nil {
		return "retry budget exhausted"
	}
	return err.Error()
}
