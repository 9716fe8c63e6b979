package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName: полное имя gRPC-сервиса.
const ServiceName = "checkout.v1.CheckoutService"

const (
	methodPlaceOrder        = "/" + ServiceName + "/PlaceOrder"
	methodCancelOrder       = "/" + ServiceName + "/CancelOrder"
	methodCheckAvailability = "/" + ServiceName + "/CheckAvailability"
	methodGetOrder          = "/" + ServiceName + "/GetOrder"
	methodListOrders        = "/" + ServiceName + "/ListOrders"
)

// CheckoutServer: серверная сторона checkout.v1.CheckoutService.
// Сообщения передаются как google.protobuf.Struct с JSON-полями.
type CheckoutServer interface {
	PlaceOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CheckAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterCheckoutServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterCheckoutServiceServer(s grpc.ServiceRegistrar, srv CheckoutServer) {
	s.RegisterService(&serviceDesc, srv)
}

func unaryHandler(fullMethod string, call func(CheckoutServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CheckoutServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CheckoutServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CheckoutServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrder", Handler: unaryHandler(methodPlaceOrder, CheckoutServer.PlaceOrder)},
		{MethodName: "CancelOrder", Handler: unaryHandler(methodCancelOrder, CheckoutServer.CancelOrder)},
		{MethodName: "CheckAvailability", Handler: unaryHandler(methodCheckAvailability, CheckoutServer.CheckAvailability)},
		{MethodName: "GetOrder", Handler: unaryHandler(methodGetOrder, CheckoutServer.GetOrder)},
		{MethodName: "ListOrders", Handler: unaryHandler(methodListOrders, CheckoutServer.ListOrders)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "checkout/v1/checkout.proto",
}

// CheckoutClient: клиент checkout.v1.CheckoutService.
type CheckoutClient struct {
	cc grpc.ClientConnInterface
}

// NewCheckoutClient создаёт клиента поверх соединения.
func NewCheckoutClient(cc grpc.ClientConnInterface) *CheckoutClient {
	return &CheckoutClient{cc: cc}
}

func (c *CheckoutClient) invoke(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CheckoutClient) PlaceOrder(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodPlaceOrder, req, opts...)
}

func (c *CheckoutClient) CancelOrder(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodCancelOrder, req, opts...)
}

func (c *CheckoutClient) CheckAvailability(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodCheckAvailability, req, opts...)
}

func (c *CheckoutClient) GetOrder(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetOrder, req, opts...)
}

func (c *CheckoutClient) ListOrders(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodListOrders, req, opts...)
}
