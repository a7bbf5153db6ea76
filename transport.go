package polybus

import "context"

// Transport is the contract a pluggable transport must satisfy. It is
// the terminal step of every pipeline: Handle delivers a transaction's
// outgoing messages, and the capability flags tell the retry handler and
// the bus what the transport actually supports.
type Transport interface {
	// Handle delivers the transaction's outgoing messages. It may fail
	// before Start.
	Handle(ctx context.Context, tx Transaction) error
	// Subscribe registers interest in an event type. It may fail before
	// Start.
	Subscribe(ctx context.Context, info MessageInfo) error
	// DeadLetterEndpoint is the name the retry handler addresses terminal
	// dispatch to.
	DeadLetterEndpoint() string

	SupportsDelayedCommands() bool
	SupportsCommandMessages() bool
	SupportsSubscriptions() bool

	// Start and Stop are idempotent: a second Start is a no-op, not an
	// error.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// TransportFactory builds a Transport for a Bus being constructed by a
// Builder. It runs once, during Builder.Build.
type TransportFactory func(b *Builder, bus *Bus) (Transport, error)

// IncomingTransactionFactory constructs an IncomingTransaction for a
// freshly received IncomingMessage. The default, DefaultIncomingTransactionFactory,
// is used unless the Builder is given another.
type IncomingTransactionFactory func(b *Builder, bus *Bus, msg *IncomingMessage) (*IncomingTransaction, error)

// OutgoingTransactionFactory constructs an empty OutgoingTransaction.
type OutgoingTransactionFactory func(b *Builder, bus *Bus) (*OutgoingTransaction, error)

// DefaultIncomingTransactionFactory constructs a plain IncomingTransaction.
func DefaultIncomingTransactionFactory(b *Builder, bus *Bus, msg *IncomingMessage) (*IncomingTransaction, error) {
	return NewIncomingTransaction(bus, msg), nil
}

// DefaultOutgoingTransactionFactory constructs a plain OutgoingTransaction.
func DefaultOutgoingTransactionFactory(b *Builder, bus *Bus) (*OutgoingTransaction, error) {
	return NewOutgoingTransaction(bus), nil
}
