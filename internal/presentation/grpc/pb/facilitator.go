// Package pb x402.facilitator.v1.Facilitatorサービスの定義
//
// メッセージはgoogle.protobuf.Structで、REST APIと同じJSON形を運ぶ。
package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName 完全修飾サービス名
	ServiceName = "x402.facilitator.v1.Facilitator"

	MethodVerify    = "/" + ServiceName + "/Verify"
	MethodSettle    = "/" + ServiceName + "/Settle"
	MethodSupported = "/" + ServiceName + "/Supported"
)

// FacilitatorServer サーバー側で実装するインターフェース
type FacilitatorServer interface {
	Verify(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Settle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Supported(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterFacilitatorServer サービスを登録
func RegisterFacilitatorServer(s grpc.ServiceRegistrar, srv FacilitatorServer) {
	s.RegisterService(&FacilitatorServiceDesc, srv)
}

// FacilitatorServiceDesc サービス記述子
var FacilitatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FacilitatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Verify", Handler: verifyHandler},
		{MethodName: "Settle", Handler: settleHandler},
		{MethodName: "Supported", Handler: supportedHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "x402/facilitator/v1/facilitator.proto",
}

func verifyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FacilitatorServer).Verify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodVerify}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FacilitatorServer).Verify(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func settleHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FacilitatorServer).Settle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodSettle}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FacilitatorServer).Settle(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func supportedHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FacilitatorServer).Supported(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodSupported}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FacilitatorServer).Supported(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// FacilitatorClient クライアント
type FacilitatorClient struct {
	cc grpc.ClientConnInterface
}

// NewFacilitatorClient 新しいFacilitatorClientを作成
func NewFacilitatorClient(cc grpc.ClientConnInterface) *FacilitatorClient {
	return &FacilitatorClient{cc: cc}
}

// Verify 送金許可を検証
func (c *FacilitatorClient) Verify(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodVerify, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Settle 送金許可を決済
func (c *FacilitatorClient) Settle(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodSettle, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Supported 対応している支払い方式
func (c *FacilitatorClient) Supported(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodSupported, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
