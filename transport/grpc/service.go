// Package grpc is a second reference polybus.Transport: instead of routing
// messages through an in-process broker, it relays them to a remote peer
// over gRPC. The wire message is a structpb.Struct envelope (info string,
// headers map, base64 body) rather than a protoc-generated type, since the
// envelope shape is the same for every message the registry knows about.
package grpc

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/polybus/polybus"
)

const serviceName = "polybus.MessageService"

// MessageServiceServer is the server-side contract for the gRPC message
// service: deliver a single envelope, or stream envelopes matching a
// subscription filter.
type MessageServiceServer interface {
	Dispatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*structpb.Struct, MessageService_SubscribeServer) error
}

// MessageService_SubscribeServer is the server-side stream handle for
// Subscribe.
type MessageService_SubscribeServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type messageServiceSubscribeServer struct{ grpc.ServerStream }

func (x *messageServiceSubscribeServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func _MessageService_Dispatch_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MessageServiceServer).Dispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Dispatch"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MessageServiceServer).Dispatch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _MessageService_Subscribe_Handler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(MessageServiceServer).Subscribe(m, &messageServiceSubscribeServer{stream})
}

var messageServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MessageServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dispatch", Handler: _MessageService_Dispatch_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: _MessageService_Subscribe_Handler, ServerStreams: true},
	},
	Metadata: "polybus/transport/grpc/message_service.proto",
}

// RegisterMessageServiceServer registers srv on s under the message
// service's name.
func RegisterMessageServiceServer(s grpc.ServiceRegistrar, srv MessageServiceServer) {
	s.RegisterService(&messageServiceDesc, srv)
}

// MessageServiceClient is the client-side contract for the gRPC message
// service.
type MessageServiceClient interface {
	Dispatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Subscribe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (MessageService_SubscribeClient, error)
}

// MessageService_SubscribeClient is the client-side stream handle for
// Subscribe.
type MessageService_SubscribeClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type messageServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewMessageServiceClient wraps cc as a MessageServiceClient.
func NewMessageServiceClient(cc grpc.ClientConnInterface) MessageServiceClient {
	return &messageServiceClient{cc: cc}
}

func (c *messageServiceClient) Dispatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Dispatch", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *messageServiceClient) Subscribe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (MessageService_SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &messageServiceDesc.Streams[0], "/"+serviceName+"/Subscribe", opts...)
	if err != nil {
		return nil, err
	}
	x := &messageServiceSubscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type messageServiceSubscribeClient struct{ grpc.ClientStream }

func (x *messageServiceSubscribeClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// encodeEnvelope packs a message's wire identity, headers, and body into
// the structpb envelope sent over the wire.
func encodeEnvelope(info polybus.MessageInfo, headers polybus.Headers, body []byte) (*structpb.Struct, error) {
	h := make(map[string]any, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	s, err := structpb.NewStruct(map[string]any{
		"info":    info.String(),
		"headers": h,
		"body":    base64.StdEncoding.EncodeToString(body),
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return s, nil
}

func decodeEnvelope(s *structpb.Struct) (polybus.MessageInfo, polybus.Headers, []byte, error) {
	fields := s.GetFields()

	info, ok := polybus.ParseMessageInfo(fields["info"].GetStringValue())
	if !ok {
		return polybus.MessageInfo{}, nil, nil, fmt.Errorf("decode envelope: invalid info %q", fields["info"].GetStringValue())
	}

	headers := polybus.Headers{}
	if hv := fields["headers"].GetStructValue(); hv != nil {
		for k, v := range hv.GetFields() {
			headers[k] = v.GetStringValue()
		}
	}

	body, err := base64.StdEncoding.DecodeString(fields["body"].GetStringValue())
	if err != nil {
		return polybus.MessageInfo{}, nil, nil, fmt.Errorf("decode envelope body: %w", err)
	}

	return info, headers, body, nil
}
