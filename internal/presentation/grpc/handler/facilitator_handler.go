package handler

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	facilitatorapp "x402-gateway/internal/application/facilitator"
	"x402-gateway/internal/domain/payment"
	"x402-gateway/internal/infrastructure/chain"
	"x402-gateway/internal/infrastructure/codec"
	"x402-gateway/internal/presentation/grpc/pb"
)

// FacilitatorHandler gRPCファシリテーターサービスハンドラー
type FacilitatorHandler struct {
	service *facilitatorapp.Service
}

var _ pb.FacilitatorServer = (*FacilitatorHandler)(nil)

// NewFacilitatorHandler 新しいFacilitatorHandlerを作成
func NewFacilitatorHandler(service *facilitatorapp.Service) *FacilitatorHandler {
	return &FacilitatorHandler{
		service: service,
	}
}

// Verify 送金許可を検証
func (h *FacilitatorHandler) Verify(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, auth, err := decodeRequest(in)
	if err != nil {
		return nil, h.handleError(err)
	}

	result, err := h.service.Verify(ctx, req, auth)
	if err != nil {
		return nil, h.handleError(err)
	}

	return toStruct(codec.VerificationToWire(result))
}

// Settle 送金許可を決済
func (h *FacilitatorHandler) Settle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, auth, err := decodeRequest(in)
	if err != nil {
		return nil, h.handleError(err)
	}

	receipt, err := h.service.Settle(ctx, req, auth)
	if err != nil {
		return nil, h.handleError(err)
	}

	return toStruct(codec.ReceiptToWire(receipt))
}

// Supported 対応している支払い方式
func (h *FacilitatorHandler) Supported(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	kinds := h.service.Supported()
	resp := codec.SupportedWire{Kinds: make([]codec.SupportedKindWire, 0, len(kinds))}
	for _, k := range kinds {
		resp.Kinds = append(resp.Kinds, codec.SupportedKindWire{
			X402Version: k.X402Version,
			Scheme:      k.Scheme,
			Network:     k.Network,
		})
	}
	return toStruct(resp)
}

// handleError エラーをgRPCステータスに変換
func (h *FacilitatorHandler) handleError(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}

	var decodeErr *codec.DecodeError
	if errors.As(err, &decodeErr) {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	if errors.Is(err, payment.ErrInvalidRequirements) || errors.Is(err, payment.ErrInvalidAmount) {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	if chain.IsNetworkError(err) {
		return status.Error(codes.Unavailable, "blockchain endpoint is unavailable")
	}

	return status.Error(codes.Internal, "internal error")
}

// decodeRequest Structからリクエストボディを復元
func decodeRequest(in *structpb.Struct) (payment.Requirements, payment.Authorization, error) {
	var body codec.FacilitatorRequestWire
	if err := FromStruct(in, &body); err != nil {
		return payment.Requirements{}, payment.Authorization{}, status.Error(codes.InvalidArgument, "invalid request")
	}
	return codec.DecodeFacilitatorRequest(body)
}

// ToStruct ワイヤ表現をStructに変換
func ToStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	s, err := ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return s, nil
}

// FromStruct Structをワイヤ表現に変換
//
// AsMapを経由して、数値をencoding/jsonの10進表記で書き出す。
func FromStruct(s *structpb.Struct, v interface{}) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
