package polybus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Variant distinguishes the two Transaction shapes so the bus can pick a
// pipeline by tag instead of probing field presence.
type Variant int

const (
	VariantIncoming Variant = iota
	VariantOutgoing
)

// Transaction is a scoped unit of work: an owning bus reference, a
// free-form state map, and an ordered list of outgoing messages.
//
// Implementations are IncomingTransaction (additionally owns the
// triggering IncomingMessage) and OutgoingTransaction.
type Transaction interface {
	ID() string
	Bus() *Bus
	Variant() Variant
	State() map[string]any
	Outgoing() []*OutgoingMessage
	// SetOutgoing replaces the outgoing batch wholesale. Middleware uses
	// this sparingly; Add and ClearOutgoing cover the common cases.
	SetOutgoing([]*OutgoingMessage)
	// ClearOutgoing empties the outgoing batch in place.
	ClearOutgoing()
	// Add resolves payload's MessageInfo via the bus registry (unless an
	// explicit info override is supplied) and appends a new
	// OutgoingMessage to the batch.
	Add(payload any, opts ...AddOption) (*OutgoingMessage, error)
	// Commit hands the transaction to Bus.Send.
	Commit(ctx context.Context) error
	// Abort is a hook overridable by integrations; the default
	// implementation is a no-op and is idempotent.
	Abort(ctx context.Context) error
}

// addOptions accumulates the effect of AddOptions before the
// OutgoingMessage is constructed, so an explicit MessageInfo override can
// skip registry resolution entirely.
type addOptions struct {
	endpoint  string
	deliverAt time.Time
	info      *MessageInfo
}

// AddOption customizes a single Transaction.Add call.
type AddOption func(*addOptions)

// WithEndpoint overrides routing for this one outgoing message.
func WithEndpoint(endpoint string) AddOption {
	return func(o *addOptions) { o.endpoint = endpoint }
}

// WithDeliverAt schedules delayed delivery for this one outgoing message.
func WithDeliverAt(t time.Time) AddOption {
	return func(o *addOptions) { o.deliverAt = t }
}

// WithMessageInfo overrides the MessageInfo that would otherwise be
// resolved from the payload's registered type.
func WithMessageInfo(info MessageInfo) AddOption {
	return func(o *addOptions) { o.info = &info }
}

// baseTransaction carries the fields shared by both transaction variants.
type baseTransaction struct {
	mu       sync.Mutex
	id       string
	bus      *Bus
	state    map[string]any
	outgoing []*OutgoingMessage
	aborted  bool
}

func newBaseTransaction(bus *Bus) baseTransaction {
	return baseTransaction{
		id:    uuid.NewString(),
		bus:   bus,
		state: make(map[string]any),
	}
}

func (t *baseTransaction) ID() string { return t.id }

func (t *baseTransaction) Bus() *Bus { return t.bus }

func (t *baseTransaction) State() map[string]any {
	return t.state
}

func (t *baseTransaction) Outgoing() []*OutgoingMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*OutgoingMessage, len(t.outgoing))
	copy(out, t.outgoing)
	return out
}

func (t *baseTransaction) SetOutgoing(msgs []*OutgoingMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outgoing = msgs
}

func (t *baseTransaction) ClearOutgoing() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outgoing = nil
}

func (t *baseTransaction) addOutgoing(bus *Bus, payload any, opts []AddOption) (*OutgoingMessage, error) {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}

	info := o.info
	if info == nil {
		resolved, err := bus.Registry().InfoFor(payload)
		if err != nil {
			return nil, err
		}
		info = &resolved
	}

	out := newOutgoingMessage(bus, payload, *info)
	out.Endpoint = o.endpoint
	out.DeliverAt = o.deliverAt

	t.mu.Lock()
	t.outgoing = append(t.outgoing, out)
	t.mu.Unlock()

	return out, nil
}

// Abort is the default no-op hook. It is idempotent: calling it more than
// once is harmless.
func (t *baseTransaction) Abort(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.aborted = true
	return nil
}

// Aborted reports whether Abort has been invoked.
func (t *baseTransaction) Aborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted
}

// IncomingTransaction is created by the bus when a transport delivers an
// IncomingMessage, and additionally owns that triggering message.
type IncomingTransaction struct {
	baseTransaction
	Incoming *IncomingMessage
}

// NewIncomingTransaction constructs an IncomingTransaction for msg.
func NewIncomingTransaction(bus *Bus, msg *IncomingMessage) *IncomingTransaction {
	return &IncomingTransaction{baseTransaction: newBaseTransaction(bus), Incoming: msg}
}

func (t *IncomingTransaction) Variant() Variant { return VariantIncoming }

func (t *IncomingTransaction) Add(payload any, opts ...AddOption) (*OutgoingMessage, error) {
	return t.addOutgoing(t.bus, payload, opts)
}

func (t *IncomingTransaction) Commit(ctx context.Context) error {
	return t.bus.Send(ctx, t)
}

// OutgoingTransaction is created directly by user code via
// Bus.CreateOutgoingTransaction.
type OutgoingTransaction struct {
	baseTransaction
}

// NewOutgoingTransaction constructs an empty OutgoingTransaction.
func NewOutgoingTransaction(bus *Bus) *OutgoingTransaction {
	return &OutgoingTransaction{baseTransaction: newBaseTransaction(bus)}
}

func (t *OutgoingTransaction) Variant() Variant { return VariantOutgoing }

func (t *OutgoingTransaction) Add(payload any, opts ...AddOption) (*OutgoingMessage, error) {
	return t.addOutgoing(t.bus, payload, opts)
}

func (t *OutgoingTransaction) Commit(ctx context.Context) error {
	return t.bus.Send(ctx, t)
}

var (
	_ Transaction = (*IncomingTransaction)(nil)
	_ Transaction = (*OutgoingTransaction)(nil)
)
