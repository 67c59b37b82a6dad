// Package inspect serves read-only views of the extension layer over gRPC.
//
// The service is declared without generated stubs: requests and responses
// are well-known protobuf types, so the default proto codec handles the wire
// format.
package inspect

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "roadext.inspect.v1.Inspector"

// Full method names.
const (
	MethodGetSegment    = "/" + ServiceName + "/GetSegment"
	MethodGetSegmentEnd = "/" + ServiceName + "/GetSegmentEnd"
	MethodGetNode       = "/" + ServiceName + "/GetNode"
	MethodGetVehicle    = "/" + ServiceName + "/GetVehicle"
	MethodListRegistry  = "/" + ServiceName + "/ListRegistry"
	MethodGetDirection  = "/" + ServiceName + "/GetDirection"
)

// InspectorServer is the server API of the inspector service.
//
// GetSegmentEnd, ListRegistry and GetDirection take a Struct with "segment"
// (number), "start_end" (bool) and, for GetDirection, "target" (number).
type InspectorServer interface {
	GetSegment(context.Context, *wrapperspb.UInt32Value) (*structpb.Struct, error)
	GetSegmentEnd(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetNode(context.Context, *wrapperspb.UInt32Value) (*structpb.Struct, error)
	GetVehicle(context.Context, *wrapperspb.UInt32Value) (*structpb.Struct, error)
	ListRegistry(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDirection(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the inspector service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InspectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSegment", Handler: idHandler(MethodGetSegment, InspectorServer.GetSegment)},
		{MethodName: "GetSegmentEnd", Handler: structHandler(MethodGetSegmentEnd, InspectorServer.GetSegmentEnd)},
		{MethodName: "GetNode", Handler: idHandler(MethodGetNode, InspectorServer.GetNode)},
		{MethodName: "GetVehicle", Handler: idHandler(MethodGetVehicle, InspectorServer.GetVehicle)},
		{MethodName: "ListRegistry", Handler: structHandler(MethodListRegistry, InspectorServer.ListRegistry)},
		{MethodName: "GetDirection", Handler: structHandler(MethodGetDirection, InspectorServer.GetDirection)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "roadext/inspect/v1/inspector.proto",
}

// RegisterInspectorServer registers srv on s.
func RegisterInspectorServer(s grpc.ServiceRegistrar, srv InspectorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func idHandler(fullMethod string, call func(InspectorServer, context.Context, *wrapperspb.UInt32Value) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.UInt32Value)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(InspectorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(InspectorServer), ctx, req.(*wrapperspb.UInt32Value))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func structHandler(fullMethod string, call func(InspectorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(InspectorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(InspectorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Client calls the inspector service over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetSegment(ctx context.Context, id uint32, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetSegment, wrapperspb.UInt32(id), opts)
}

func (c *Client) GetSegmentEnd(ctx context.Context, segment uint32, startEnd bool, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetSegmentEnd, endRequest(segment, startEnd, nil), opts)
}

func (c *Client) GetNode(ctx context.Context, id uint32, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetNode, wrapperspb.UInt32(id), opts)
}

func (c *Client) GetVehicle(ctx context.Context, id uint32, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetVehicle, wrapperspb.UInt32(id), opts)
}

func (c *Client) ListRegistry(ctx context.Context, segment uint32, startEnd bool, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListRegistry, endRequest(segment, startEnd, nil), opts)
}

func (c *Client) GetDirection(ctx context.Context, segment uint32, startEnd bool, target uint32, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetDirection, endRequest(segment, startEnd, &target), opts)
}

func (c *Client) invoke(ctx context.Context, method string, in any, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func endRequest(segment uint32, startEnd bool, target *uint32) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"segment":   structpb.NewNumberValue(float64(segment)),
		"start_end": structpb.NewBoolValue(startEnd),
	}
	if target != nil {
		fields["target"] = structpb.NewNumberValue(float64(*target))
	}
	return &structpb.Struct{Fields: fields}
}

func numberField(in *structpb.Struct, key string) (uint32, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidID, key)
	}
	num, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || num.NumberValue < 0 || num.NumberValue != float64(uint32(num.NumberValue)) {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidID, key)
	}
	return uint32(num.NumberValue), nil
}
