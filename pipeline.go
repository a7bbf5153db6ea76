package polybus

import "context"

// NextFunc continues a pipeline chain. A HandlerFunc must invoke it
// exactly once for the chain to complete; it may wrap the call in
// retry/recover logic, transform the transaction in place, or
// short-circuit by simply not calling it (in which case it must return
// its own error or nil).
type NextFunc func(ctx context.Context, tx Transaction) error

// HandlerFunc is one middleware step in a pipeline.
type HandlerFunc func(ctx context.Context, tx Transaction, next NextFunc) error

// Pipeline is an ordered list of middleware, run in reverse-composed
// ("onion") order: the first handler in the slice is outermost.
type Pipeline []HandlerFunc

// compose folds the pipeline right-to-left into a single NextFunc,
// closing each handler over its successor, terminating at terminal.
func compose(handlers Pipeline, terminal NextFunc) NextFunc {
	chain := terminal
	for i := len(handlers) - 1; i >= 0; i-- {
		handler := handlers[i]
		next := chain
		chain = func(ctx context.Context, tx Transaction) error {
			return handler(ctx, tx, next)
		}
	}
	return chain
}
