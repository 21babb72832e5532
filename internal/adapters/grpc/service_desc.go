package grpc

import (
	"context"

	"storefront/internal/checkout"

	grpcpkg "google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "storefront.checkout.v1.CheckoutService"

// CheckoutServiceServer is the server API of the checkout service.
type CheckoutServiceServer interface {
	Reserve(context.Context, *ReserveRequest) (*ReserveResponse, error)
	Settle(context.Context, *SettleRequest) (*SettleResponse, error)
	Release(context.Context, *ReleaseRequest) (*ReleaseResponse, error)
	ListMine(context.Context, *ListMineRequest) (*ListMineResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*checkout.Order, error)
	Cancel(context.Context, *CancelRequest) (*checkout.Order, error)
}

// RegisterCheckoutServiceServer registers srv on s.
func RegisterCheckoutServiceServer(s grpcpkg.ServiceRegistrar, srv CheckoutServiceServer) {
	s.RegisterService(&CheckoutServiceDesc, srv)
}

// CheckoutServiceDesc describes the checkout service for grpc.Server.
var CheckoutServiceDesc = grpcpkg.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CheckoutServiceServer)(nil),
	Methods: []grpcpkg.MethodDesc{
		{MethodName: "Reserve", Handler: unaryHandler("Reserve", func(s CheckoutServiceServer, ctx context.Context, in *ReserveRequest) (any, error) {
			return s.Reserve(ctx, in)
		})},
		{MethodName: "Settle", Handler: unaryHandler("Settle", func(s CheckoutServiceServer, ctx context.Context, in *SettleRequest) (any, error) {
			return s.Settle(ctx, in)
		})},
		{MethodName: "Release", Handler: unaryHandler("Release", func(s CheckoutServiceServer, ctx context.Context, in *ReleaseRequest) (any, error) {
			return s.Release(ctx, in)
		})},
		{MethodName: "ListMine", Handler: unaryHandler("ListMine", func(s CheckoutServiceServer, ctx context.Context, in *ListMineRequest) (any, error) {
			return s.ListMine(ctx, in)
		})},
		{MethodName: "GetOrder", Handler: unaryHandler("GetOrder", func(s CheckoutServiceServer, ctx context.Context, in *GetOrderRequest) (any, error) {
			return s.GetOrder(ctx, in)
		})},
		{MethodName: "Cancel", Handler: unaryHandler("Cancel", func(s CheckoutServiceServer, ctx context.Context, in *CancelRequest) (any, error) {
			return s.Cancel(ctx, in)
		})},
	},
	Streams:  []grpcpkg.StreamDesc{},
	Metadata: "storefront/checkout/v1/checkout.json",
}

// unaryHandler adapts a typed method to grpc's MethodHandler, running interceptors when present.
func unaryHandler[Req any](name string, call func(CheckoutServiceServer, context.Context, *Req) (any, error)) grpcpkg.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpcpkg.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(CheckoutServiceServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpcpkg.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*Req))
		})
	}
}

// CheckoutClient calls the checkout service with the JSON codec.
type CheckoutClient struct {
	cc grpcpkg.ClientConnInterface
}

// NewCheckoutClient constructs a client over cc.
func NewCheckoutClient(cc grpcpkg.ClientConnInterface) *CheckoutClient {
	return &CheckoutClient{cc: cc}
}

func (c *CheckoutClient) Reserve(ctx context.Context, in *ReserveRequest, opts ...grpcpkg.CallOption) (*ReserveResponse, error) {
	out := new(ReserveResponse)
	return out, c.invoke(ctx, "Reserve", in, out, opts)
}

func (c *CheckoutClient) Settle(ctx context.Context, in *SettleRequest, opts ...grpcpkg.CallOption) (*SettleResponse, error) {
	out := new(SettleResponse)
	return out, c.invoke(ctx, "Settle", in, out, opts)
}

func (c *CheckoutClient) Release(ctx context.Context, in *ReleaseRequest, opts ...grpcpkg.CallOption) (*ReleaseResponse, error) {
	out := new(ReleaseResponse)
	return out, c.invoke(ctx, "Release", in, out, opts)
}

func (c *CheckoutClient) ListMine(ctx context.Context, in *ListMineRequest, opts ...grpcpkg.CallOption) (*ListMineResponse, error) {
	out := new(ListMineResponse)
	return out, c.invoke(ctx, "ListMine", in, out, opts)
}

func (c *CheckoutClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpcpkg.CallOption) (*checkout.Order, error) {
	out := new(checkout.Order)
	return out, c.invoke(ctx, "GetOrder", in, out, opts)
}

func (c *CheckoutClient) Cancel(ctx context.Context, in *CancelRequest, opts ...grpcpkg.CallOption) (*checkout.Order, error) {
	out := new(checkout.Order)
	return out, c.invoke(ctx, "Cancel", in, out, opts)
}

func (c *CheckoutClient) invoke(ctx context.Context, method string, in, out any, opts []grpcpkg.CallOption) error {
	opts = append([]grpcpkg.CallOption{grpcpkg.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}
