package polybus

import (
	"context"
	"fmt"
)

// DefaultBusName is used when the Builder is not given an explicit name.
const DefaultBusName = "polybus"

// Builder collects pipelines, message types, a transport factory, and
// transaction factories, then produces a Bus via Build.
type Builder struct {
	name string

	incomingPipeline Pipeline
	outgoingPipeline Pipeline

	registry *MessageRegistry

	properties map[string]any

	transportFactory           TransportFactory
	incomingTransactionFactory IncomingTransactionFactory
	outgoingTransactionFactory OutgoingTransactionFactory

	logger Logger
}

// NewBuilder returns a Builder with the default name, an empty registry,
// empty pipelines, the in-memory-friendly default transaction factories,
// and no transport factory (one must be supplied before Build).
func NewBuilder() *Builder {
	return &Builder{
		name:                       DefaultBusName,
		registry:                   NewMessageRegistry(),
		properties:                 make(map[string]any),
		incomingTransactionFactory: DefaultIncomingTransactionFactory,
		outgoingTransactionFactory: DefaultOutgoingTransactionFactory,
		logger:                     DefaultLogger(),
	}
}

// WithName sets the bus's endpoint identity, used for routing.
func (b *Builder) WithName(name string) *Builder {
	b.name = name
	return b
}

// WithLogger sets the logger shared by the bus and anything it
// constructs that accepts one.
func (b *Builder) WithLogger(logger Logger) *Builder {
	b.logger = orDefaultLogger(logger)
	return b
}

// UseIncoming appends to the ordered incoming middleware pipeline.
func (b *Builder) UseIncoming(handlers ...HandlerFunc) *Builder {
	b.incomingPipeline = append(b.incomingPipeline, handlers...)
	return b
}

// UseOutgoing appends to the ordered outgoing middleware pipeline.
func (b *Builder) UseOutgoing(handlers ...HandlerFunc) *Builder {
	b.outgoingPipeline = append(b.outgoingPipeline, handlers...)
	return b
}

// AddMessage registers a user type against a MessageInfo. sample is a
// representative instance of the type (typically a pointer, e.g.
// &AlphaEvent{}).
func (b *Builder) AddMessage(sample any, info MessageInfo) error {
	return b.registry.Register(sample, info)
}

// WithProperty stashes a caller-owned value in the opaque properties map.
func (b *Builder) WithProperty(key string, value any) *Builder {
	b.properties[key] = value
	return b
}

// WithTransportFactory sets the factory invoked once during Build.
func (b *Builder) WithTransportFactory(f TransportFactory) *Builder {
	b.transportFactory = f
	return b
}

// WithIncomingTransactionFactory overrides how IncomingTransactions are
// constructed.
func (b *Builder) WithIncomingTransactionFactory(f IncomingTransactionFactory) *Builder {
	b.incomingTransactionFactory = f
	return b
}

// WithOutgoingTransactionFactory overrides how OutgoingTransactions are
// constructed.
func (b *Builder) WithOutgoingTransactionFactory(f OutgoingTransactionFactory) *Builder {
	b.outgoingTransactionFactory = f
	return b
}

// Name returns the configured bus name.
func (b *Builder) Name() string { return b.name }

// Registry returns the message registry being populated.
func (b *Builder) Registry() *MessageRegistry { return b.registry }

// Properties returns the opaque, caller-owned properties map.
func (b *Builder) Properties() map[string]any { return b.properties }

// Build instantiates the Bus, then invokes the transport factory and
// stores the result as the bus's transport.
func (b *Builder) Build() (*Bus, error) {
	if b.transportFactory == nil {
		return nil, fmt.Errorf("polybus: builder has no transport factory")
	}

	bus := &Bus{
		name:                       b.name,
		incomingPipeline:           b.incomingPipeline,
		outgoingPipeline:           b.outgoingPipeline,
		registry:                   b.registry,
		properties:                 b.properties,
		incomingTransactionFactory: b.incomingTransactionFactory,
		outgoingTransactionFactory: b.outgoingTransactionFactory,
		logger:                     b.logger,
		builder:                    b,
	}

	transport, err := b.transportFactory(b, bus)
	if err != nil {
		return nil, fmt.Errorf("polybus: transport factory failed: %w", err)
	}
	bus.transport = transport

	return bus, nil
}

// Bus orchestrates transaction creation, pipeline dispatch, and
// transport lifecycle. It is produced by Builder.Build and exposes
// read-only views of the Builder's fields.
type Bus struct {
	name string

	incomingPipeline Pipeline
	outgoingPipeline Pipeline

	registry   *MessageRegistry
	properties map[string]any

	transport Transport

	incomingTransactionFactory IncomingTransactionFactory
	outgoingTransactionFactory OutgoingTransactionFactory

	logger  Logger
	builder *Builder
}

// Name returns the bus's endpoint identity.
func (bus *Bus) Name() string { return bus.name }

// Registry returns the message registry.
func (bus *Bus) Registry() *MessageRegistry { return bus.registry }

// Properties returns the opaque properties map supplied at build time.
func (bus *Bus) Properties() map[string]any { return bus.properties }

// Transport returns the transport instantiated at build time.
func (bus *Bus) Transport() Transport { return bus.transport }

// IncomingPipeline returns the ordered incoming middleware.
func (bus *Bus) IncomingPipeline() Pipeline { return bus.incomingPipeline }

// OutgoingPipeline returns the ordered outgoing middleware.
func (bus *Bus) OutgoingPipeline() Pipeline { return bus.outgoingPipeline }

// Logger returns the bus's logger.
func (bus *Bus) Logger() Logger { return bus.logger }

// CreateIncomingTransaction constructs an IncomingTransaction for msg via
// the configured factory.
func (bus *Bus) CreateIncomingTransaction(ctx context.Context, msg *IncomingMessage) (*IncomingTransaction, error) {
	return bus.incomingTransactionFactory(bus.builder, bus, msg)
}

// CreateOutgoingTransaction constructs an empty OutgoingTransaction via
// the configured factory.
func (bus *Bus) CreateOutgoingTransaction(ctx context.Context) (*OutgoingTransaction, error) {
	return bus.outgoingTransactionFactory(bus.builder, bus)
}

// Send runs tx through the pipeline matching its variant, terminating at
// the transport's Handle. If any handler (including the terminal
// transport step) errors, Send calls tx.Abort then re-raises: the
// pipeline model never swallows errors, recovery is a handler's job.
func (bus *Bus) Send(ctx context.Context, tx Transaction) error {
	var pipeline Pipeline
	switch tx.Variant() {
	case VariantIncoming:
		pipeline = bus.incomingPipeline
	case VariantOutgoing:
		pipeline = bus.outgoingPipeline
	default:
		pipeline = nil
	}

	terminal := func(ctx context.Context, tx Transaction) error {
		if bus.transport == nil {
			return fmt.Errorf("polybus: bus %q has no transport", bus.name)
		}
		return bus.transport.Handle(ctx, tx)
	}

	chain := compose(pipeline, terminal)
	if err := chain(ctx, tx); err != nil {
		_ = tx.Abort(ctx)
		return err
	}
	return nil
}

// Start forwards to the transport.
func (bus *Bus) Start(ctx context.Context) error {
	if bus.transport == nil {
		return fmt.Errorf("polybus: bus %q has no transport", bus.name)
	}
	return bus.transport.Start(ctx)
}

// Stop forwards to the transport.
func (bus *Bus) Stop(ctx context.Context) error {
	if bus.transport == nil {
		return fmt.Errorf("polybus: bus %q has no transport", bus.name)
	}
	return bus.transport.Stop(ctx)
}
