package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "campusnav.v1.NavigationService"

// NavigationServiceServer is the server API for campusnav.v1.NavigationService.
// Requests and responses are google.protobuf.Struct documents.
type NavigationServiceServer interface {
	StartSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EndSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetPermission(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetDestination(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ForceRefresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchRooms(context.Context, *structpb.Struct) (*structpb.Struct, error)
	NearbyRooms(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSessions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchState(*structpb.Struct, grpc.ServerStream) error
}

type unaryCall func(NavigationServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(NavigationServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(NavigationServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchStateHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(NavigationServiceServer).WatchState(in, stream)
}

// NavigationServiceDesc describes the service for grpc.Server registration.
// No .proto file descriptor backs it, so reflection lists the service name
// but cannot describe its methods.
var NavigationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NavigationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("StartSession", NavigationServiceServer.StartSession),
		unaryMethod("EndSession", NavigationServiceServer.EndSession),
		unaryMethod("SetPermission", NavigationServiceServer.SetPermission),
		unaryMethod("SetDestination", NavigationServiceServer.SetDestination),
		unaryMethod("ForceRefresh", NavigationServiceServer.ForceRefresh),
		unaryMethod("GetState", NavigationServiceServer.GetState),
		unaryMethod("SearchRooms", NavigationServiceServer.SearchRooms),
		unaryMethod("NearbyRooms", NavigationServiceServer.NearbyRooms),
		unaryMethod("ListSessions", NavigationServiceServer.ListSessions),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchState",
			Handler:       watchStateHandler,
			ServerStreams: true,
		},
	},
}

// RegisterNavigationServiceServer registers srv on s
func RegisterNavigationServiceServer(s grpc.ServiceRegistrar, srv NavigationServiceServer) {
	s.RegisterService(&NavigationServiceDesc, srv)
}

// FullMethod returns "/campusnav.v1.NavigationService/<method>"
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Client calls NavigationService over a client connection
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes a unary method by name
func (c *Client) Call(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchState opens the snapshot stream for a session
func (c *Client) WatchState(ctx context.Context, sessionID string, opts ...grpc.CallOption) (*StateStream, error) {
	in, err := structpb.NewStruct(map[string]any{"session_id": sessionID})
	if err != nil {
		return nil, err
	}
	stream, err := c.cc.NewStream(ctx, &NavigationServiceDesc.Streams[0], FullMethod("WatchState"), opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &StateStream{stream: stream}, nil
}

// StateStream receives snapshots from WatchState
type StateStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next snapshot
func (s *StateStream) Recv() (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}
