package pluginapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "crane.grpc.plugin.CranePluginD"

const (
	StartHookFullMethodName      = "/" + ServiceName + "/StartHook"
	EndHookFullMethodName        = "/" + ServiceName + "/EndHook"
	JobMonitorHookFullMethodName = "/" + ServiceName + "/JobMonitorHook"
)

// HookServiceClient is the client API for the plugin daemon hook service.
type HookServiceClient interface {
	StartHook(ctx context.Context, in *StartHookRequest, opts ...grpc.CallOption) (*StartHookReply, error)
	EndHook(ctx context.Context, in *EndHookRequest, opts ...grpc.CallOption) (*EndHookReply, error)
	JobMonitorHook(ctx context.Context, in *JobMonitorHookRequest, opts ...grpc.CallOption) (*JobMonitorHookReply, error)
}

type hookServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewHookServiceClient(cc grpc.ClientConnInterface) HookServiceClient {
	return &hookServiceClient{cc}
}

type protoMessage interface {
	Proto() (*structpb.Struct, error)
}

func (c *hookServiceClient) invoke(ctx context.Context, method string, in protoMessage, opts ...grpc.CallOption) error {
	msg, err := in.Proto()
	if err != nil {
		return status.Errorf(codes.Internal, "encode %s: %v", method, err)
	}
	return c.cc.Invoke(ctx, method, msg, new(emptypb.Empty), opts...)
}

func (c *hookServiceClient) StartHook(ctx context.Context, in *StartHookRequest, opts ...grpc.CallOption) (*StartHookReply, error) {
	if err := c.invoke(ctx, StartHookFullMethodName, in, opts...); err != nil {
		return nil, err
	}
	return &StartHookReply{}, nil
}

func (c *hookServiceClient) EndHook(ctx context.Context, in *EndHookRequest, opts ...grpc.CallOption) (*EndHookReply, error) {
	if err := c.invoke(ctx, EndHookFullMethodName, in, opts...); err != nil {
		return nil, err
	}
	return &EndHookReply{}, nil
}

func (c *hookServiceClient) JobMonitorHook(ctx context.Context, in *JobMonitorHookRequest, opts ...grpc.CallOption) (*JobMonitorHookReply, error) {
	if err := c.invoke(ctx, JobMonitorHookFullMethodName, in, opts...); err != nil {
		return nil, err
	}
	return &JobMonitorHookReply{}, nil
}

// HookServiceServer is the server API for the plugin daemon hook service.
type HookServiceServer interface {
	StartHook(context.Context, *StartHookRequest) (*StartHookReply, error)
	EndHook(context.Context, *EndHookRequest) (*EndHookReply, error)
	JobMonitorHook(context.Context, *JobMonitorHookRequest) (*JobMonitorHookReply, error)
}

// UnimplementedHookServiceServer can be embedded to have forward compatible implementations.
type UnimplementedHookServiceServer struct{}

func (UnimplementedHookServiceServer) StartHook(context.Context, *StartHookRequest) (*StartHookReply, error) {
	return nil, status.Error(codes.Unimplemented, "method StartHook not implemented")
}

func (UnimplementedHookServiceServer) EndHook(context.Context, *EndHookRequest) (*EndHookReply, error) {
	return nil, status.Error(codes.Unimplemented, "method EndHook not implemented")
}

func (UnimplementedHookServiceServer) JobMonitorHook(context.Context, *JobMonitorHookRequest) (*JobMonitorHookReply, error) {
	return nil, status.Error(codes.Unimplemented, "method JobMonitorHook not implemented")
}

func RegisterHookServiceServer(s grpc.ServiceRegistrar, srv HookServiceServer) {
	s.RegisterService(&HookService_ServiceDesc, srv)
}

// unaryHandler adapts a typed server method to grpc's method handler shape.
// Requests arrive as structpb.Struct and are decoded before the interceptor chain runs.
func unaryHandler[Req any](
	method string,
	decode func(*structpb.Struct) (*Req, error),
	call func(HookServiceServer, context.Context, *Req) error,
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		req, err := decode(in)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "%s: %v", method, err)
		}
		handler := func(ctx context.Context, r any) (any, error) {
			if err := call(srv.(HookServiceServer), ctx, r.(*Req)); err != nil {
				return nil, err
			}
			return &emptypb.Empty{}, nil
		}
		if interceptor == nil {
			return handler(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, req, info, handler)
	}
}

// HookService_ServiceDesc is the grpc.ServiceDesc for the hook service.
var HookService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HookServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "StartHook",
			Handler: unaryHandler(StartHookFullMethodName, StartHookRequestFromProto,
				func(s HookServiceServer, ctx context.Context, r *StartHookRequest) error {
					_, err := s.StartHook(ctx, r)
					return err
				}),
		},
		{
			MethodName: "EndHook",
			Handler: unaryHandler(EndHookFullMethodName, EndHookRequestFromProto,
				func(s HookServiceServer, ctx context.Context, r *EndHookRequest) error {
					_, err := s.EndHook(ctx, r)
					return err
				}),
		},
		{
			MethodName: "JobMonitorHook",
			Handler: unaryHandler(JobMonitorHookFullMethodName, JobMonitorHookRequestFromProto,
				func(s HookServiceServer, ctx context.Context, r *JobMonitorHookRequest) error {
					_, err := s.JobMonitorHook(ctx, r)
					return err
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "plugin.proto",
}
