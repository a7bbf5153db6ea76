package grpc

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/polybus/polybus"
)

// Transport bridges a Bus to a remote MessageService peer: outgoing
// messages are forwarded with Dispatch, and incoming commands or events
// pushed back by the peer arrive over a Subscribe stream and become
// IncomingTransactions against the local bus.
//
// It does not support delayed commands: scheduling redelivery is the
// remote peer's concern, not this transport's.
type Transport struct {
	Target   string
	DialOpts []grpc.DialOption

	bus    *polybus.Bus
	conn   *grpc.ClientConn
	client MessageServiceClient

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	subscriptions []polybus.MessageInfo
}

// New returns a client Transport that dials target on Start.
func New(target string) *Transport {
	return &Transport{
		Target: target,
		DialOpts: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		},
	}
}

// TransportFactory returns a polybus.TransportFactory binding t to bus.
func (t *Transport) TransportFactory() polybus.TransportFactory {
	return func(builder *polybus.Builder, bus *polybus.Bus) (polybus.Transport, error) {
		t.bus = bus
		return t, nil
	}
}

func (t *Transport) DeadLetterEndpoint() string {
	return t.bus.Name() + ".dead.letters"
}

func (t *Transport) SupportsDelayedCommands() bool  { return false }
func (t *Transport) SupportsCommandMessages() bool   { return true }
func (t *Transport) SupportsSubscriptions() bool     { return true }

// Start dials the remote peer and resumes any subscriptions registered
// before Start was called.
func (t *Transport) Start(ctx context.Context) error {
	conn, err := grpc.NewClient(t.Target, t.DialOpts...)
	if err != nil {
		return fmt.Errorf("dial message service at %s: %w", t.Target, err)
	}
	t.conn = conn
	t.client = NewMessageServiceClient(conn)

	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.mu.Lock()
	subs := append([]polybus.MessageInfo(nil), t.subscriptions...)
	t.mu.Unlock()
	for _, info := range subs {
		t.startSubscription(runCtx, info)
	}
	return nil
}

// Stop cancels all subscription streams, waits for them to drain, and
// closes the underlying connection.
func (t *Transport) Stop(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

// Handle forwards every outgoing message on tx to the remote peer.
func (t *Transport) Handle(ctx context.Context, tx polybus.Transaction) error {
	for _, m := range tx.Outgoing() {
		env, err := encodeEnvelope(m.Info, m.Headers, m.Body)
		if err != nil {
			return polybus.NewSerializationError(err)
		}
		if _, err := t.client.Dispatch(ctx, env); err != nil {
			return polybus.NewHandlerError(err)
		}
	}
	return nil
}

// Subscribe registers interest in info. If the transport has already
// started, the subscription stream opens immediately; otherwise it opens
// when Start runs.
func (t *Transport) Subscribe(ctx context.Context, info polybus.MessageInfo) error {
	t.mu.Lock()
	t.subscriptions = append(t.subscriptions, info)
	running := t.cancel != nil
	t.mu.Unlock()

	if running {
		t.startSubscription(ctx, info)
	}
	return nil
}

func (t *Transport) startSubscription(ctx context.Context, info polybus.MessageInfo) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		req, err := structpb.NewStruct(map[string]any{"info": info.String()})
		if err != nil {
			t.bus.Logger().Error("grpc_subscribe_encode_failed", "error", err.Error())
			return
		}
		stream, err := t.client.Subscribe(ctx, req)
		if err != nil {
			t.bus.Logger().Error("grpc_subscribe_failed", "info", info.String(), "error", err.Error())
			return
		}

		for {
			env, err := stream.Recv()
			if err != nil {
				return
			}
			msgInfo, headers, body, err := decodeEnvelope(env)
			if err != nil {
				t.bus.Logger().Warn("grpc_envelope_decode_failed", "error", err.Error())
				continue
			}

			incoming := polybus.NewIncomingMessage(t.bus, msgInfo, body)
			incoming.Headers = headers

			itx, err := t.bus.CreateIncomingTransaction(ctx, incoming)
			if err != nil {
				t.bus.Logger().Warn("grpc_incoming_transaction_failed", "error", err.Error())
				continue
			}
			if err := t.bus.Send(ctx, itx); err != nil {
				t.bus.Logger().Warn("grpc_incoming_send_failed", "error", err.Error())
			}
		}
	}()
}

var _ polybus.Transport = (*Transport)(nil)

// Server is the peer-facing side of the bridge: it accepts Dispatch calls
// from remote Transports and turns them into IncomingTransactions against
// a local bus, and it fans outgoing messages on that bus back out to any
// remote Subscribe callers whose filter matches.
type Server struct {
	bus *polybus.Bus

	mu          sync.Mutex
	subscribers map[chan *structpb.Struct]polybus.SubscriptionKey
}

// NewServer returns a Server bound to bus.
func NewServer(bus *polybus.Bus) *Server {
	return &Server{
		bus:         bus,
		subscribers: make(map[chan *structpb.Struct]polybus.SubscriptionKey),
	}
}

// Dispatch implements MessageServiceServer.
func (s *Server) Dispatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	info, headers, body, err := decodeEnvelope(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	incoming := polybus.NewIncomingMessage(s.bus, info, body)
	incoming.Headers = headers

	itx, err := s.bus.CreateIncomingTransaction(ctx, incoming)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if err := s.bus.Send(ctx, itx); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return structpb.NewStruct(map[string]any{"ok": true})
}

// Subscribe implements MessageServiceServer: it streams every Publish call
// whose message matches the filter's SubscriptionKey (version-agnostic)
// until the client disconnects.
func (s *Server) Subscribe(in *structpb.Struct, stream MessageService_SubscribeServer) error {
	filterStr := in.GetFields()["info"].GetStringValue()
	filter, ok := polybus.ParseMessageInfo(filterStr)
	if !ok {
		return status.Error(codes.InvalidArgument, "info filter is required")
	}

	ch := make(chan *structpb.Struct, 32)
	s.mu.Lock()
	s.subscribers[ch] = filter.SubscriptionKey()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case env := <-ch:
			if err := stream.Send(env); err != nil {
				return err
			}
		}
	}
}

// Publish pushes m to every registered Subscribe stream whose filter
// matches m's SubscriptionKey (version-agnostic). Call it from the bus's
// outgoing pipeline (see BridgeTransport) to relay locally originated
// traffic to remote peers.
func (s *Server) Publish(m *polybus.OutgoingMessage) {
	env, err := encodeEnvelope(m.Info, m.Headers, m.Body)
	if err != nil {
		s.bus.Logger().Warn("grpc_publish_encode_failed", "error", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch, key := range s.subscribers {
		if key != m.Info.SubscriptionKey() {
			continue
		}
		select {
		case ch <- env:
		default:
			s.bus.Logger().Warn("grpc_subscriber_channel_full")
		}
	}
}

// BridgeTransport adapts a Server to the polybus.Transport interface so a
// Bus can use it directly: outgoing messages are pushed to remote
// subscribers via Server.Publish. Inbound traffic arrives the other way,
// through Dispatch calls a remote Transport makes against this process's
// gRPC listener.
type BridgeTransport struct {
	Server *Server
}

// NewBridgeTransport wraps server as a polybus.Transport.
func NewBridgeTransport(server *Server) *BridgeTransport {
	return &BridgeTransport{Server: server}
}

func (b *BridgeTransport) TransportFactory() polybus.TransportFactory {
	return func(builder *polybus.Builder, bus *polybus.Bus) (polybus.Transport, error) {
		return b, nil
	}
}

func (b *BridgeTransport) DeadLetterEndpoint() string {
	return b.Server.bus.Name() + ".dead.letters"
}

func (b *BridgeTransport) SupportsDelayedCommands() bool { return false }
func (b *BridgeTransport) SupportsCommandMessages() bool  { return true }
func (b *BridgeTransport) SupportsSubscriptions() bool    { return true }
func (b *BridgeTransport) Start(ctx context.Context) error { return nil }
func (b *BridgeTransport) Stop(ctx context.Context) error   { return nil }

func (b *BridgeTransport) Handle(ctx context.Context, tx polybus.Transaction) error {
	for _, m := range tx.Outgoing() {
		b.Server.Publish(m)
	}
	return nil
}

// Subscribe is a no-op: remote interest is expressed by peers calling the
// Subscribe RPC directly, not by this process subscribing to itself.
func (b *BridgeTransport) Subscribe(ctx context.Context, info polybus.MessageInfo) error {
	return nil
}

var _ polybus.Transport = (*BridgeTransport)(nil)
