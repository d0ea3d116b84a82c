package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "poseassess.AssessService"

// AssessServiceServer 消息统一使用 google.protobuf.Struct / Empty，不需要生成代码
type AssessServiceServer interface {
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Aggregate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EstimatorStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

func unary[Req any, Resp any](method string, call func(AssessServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AssessServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(AssessServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var AssessService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AssessServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Evaluate", AssessServiceServer.Evaluate),
		unary("Aggregate", AssessServiceServer.Aggregate),
		unary("EstimatorStatus", AssessServiceServer.EstimatorStatus),
		unary("Shutdown", AssessServiceServer.Shutdown),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "assess.proto",
}

func RegisterAssessServiceServer(s grpc.ServiceRegistrar, srv AssessServiceServer) {
	s.RegisterService(&AssessService_ServiceDesc, srv)
}

// AssessServiceClient 与服务端方法一一对应
type AssessServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAssessServiceClient(cc grpc.ClientConnInterface) *AssessServiceClient {
	return &AssessServiceClient{cc: cc}
}

func (c *AssessServiceClient) Evaluate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Evaluate", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AssessServiceClient) Aggregate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Aggregate", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AssessServiceClient) EstimatorStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/EstimatorStatus", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AssessServiceClient) Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Shutdown", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
