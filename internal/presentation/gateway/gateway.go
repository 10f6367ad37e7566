// Package gateway リソースサーバーのハンドラーを支払い必須にするゲートウェイ
//
// コアのProcessがフレームワーク非依存の状態遷移を持ち、echo・gin・net/http用のアダプターがそれを呼ぶ。
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"x402-gateway/internal/domain/payment"
	"x402-gateway/internal/infrastructure/codec"
	otelinfra "x402-gateway/internal/infrastructure/observability/otel"
)

// Facilitator 検証と決済を依頼する先
type Facilitator interface {
	Verify(ctx context.Context, req payment.Requirements, auth payment.Authorization) (payment.VerificationResult, error)
	Settle(ctx context.Context, req payment.Requirements, auth payment.Authorization) (payment.SettlementReceipt, error)
}

// Config 全ルート共通の設定
type Config struct {
	Network       payment.Network
	Asset         common.Address
	TokenName     string
	TokenVersion  string
	TokenDecimals int32
	PayTo         common.Address
	MaxTimeout    time.Duration
}

// Route エンドポイントごとの価格設定
type Route struct {
	// Price トークン単位の価格 ("0.05" または "$0.05")
	Price       string
	PayTo       common.Address // 空ならConfig.PayTo
	Description string
	MimeType    string
	MaxTimeout  time.Duration // 0ならConfig.MaxTimeout
}

// Status 支払いが通らなかったときの状態
type Status string

const (
	StatusPaymentRequired   Status = "payment_required"
	StatusPaymentRejected   Status = "payment_rejected"
	StatusPaymentFailed     Status = "payment_failed"
	StatusSettlementPending Status = "settlement_pending"
	StatusInternalError     Status = "internal_error"
)

// ReasonMalformedAuthorization X-PAYMENTをデコードできなかった
const ReasonMalformedAuthorization = "malformed_authorization"

// Outcome 1リクエストの処理結果
//
// Paidならヘッダーを付けてハンドラーを呼び、そうでなければStatusCodeとBodyをそのまま返す。
type Outcome struct {
	Paid       bool
	StatusCode int
	Header     http.Header
	Body       *codec.PaymentRequiredWire
	Receipt    *payment.SettlementReceipt
}

// Gateway 支払いゲートウェイ
type Gateway struct {
	facilitator Facilitator
	cfg         Config
	logger      *otelinfra.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// New 新しいGatewayを作成
func New(facilitator Facilitator, cfg Config, logger *otelinfra.Logger) *Gateway {
	return &Gateway{
		facilitator: facilitator,
		cfg:         cfg,
		logger:      logger,
		tracer:      otel.Tracer("payment-gateway"),
		now:         time.Now,
	}
}

// WithClock 時刻の取得元を差し替える
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

// Requirements リクエストに対する支払い条件を毎回新しく作る
func (g *Gateway) Requirements(r *http.Request, route Route) (payment.Requirements, error) {
	amount, err := ParsePrice(route.Price, g.cfg.TokenDecimals)
	if err != nil {
		return payment.Requirements{}, err
	}

	payTo := route.PayTo
	if payTo == (common.Address{}) {
		payTo = g.cfg.PayTo
	}
	maxTimeout := route.MaxTimeout
	if maxTimeout <= 0 {
		maxTimeout = g.cfg.MaxTimeout
	}
	mimeType := route.MimeType
	if mimeType == "" {
		mimeType = "application/json"
	}

	req := payment.Requirements{
		Scheme:       payment.SchemeExact,
		Network:      g.cfg.Network,
		Amount:       amount,
		PayTo:        payTo,
		Asset:        g.cfg.Asset,
		Resource:     r.URL.Path,
		Description:  route.Description,
		MimeType:     mimeType,
		MaxTimeout:   maxTimeout,
		ExpiresAt:    g.now().Add(maxTimeout).Truncate(time.Second),
		TokenName:    g.cfg.TokenName,
		TokenVersion: g.cfg.TokenVersion,
	}
	if err := req.Validate(); err != nil {
		return payment.Requirements{}, err
	}
	return req, nil
}

// Process 支払いの状態遷移を1回実行
//
// ファシリテーターのエラーや内部エラーは内容を隠してinternal_errorにする。
func (g *Gateway) Process(r *http.Request, route Route) Outcome {
	ctx, span := g.tracer.Start(r.Context(), "Gateway.Process")
	defer span.End()
	span.SetAttributes(attribute.String("resource", r.URL.Path))

	req, err := g.Requirements(r, route)
	if err != nil {
		g.logger.Error(ctx, "Failed to build payment requirements", err, map[string]interface{}{
			"path":  r.URL.Path,
			"price": route.Price,
		})
		return internalError()
	}

	header := r.Header.Get(codec.HeaderPayment)
	if header == "" {
		return g.challenge(req, StatusPaymentRequired, string(StatusPaymentRequired))
	}

	auth, err := codec.DecodeAuthorization(header)
	if err != nil {
		g.logger.Warn(ctx, "Malformed payment header", map[string]interface{}{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
		return g.challenge(req, StatusPaymentRequired, ReasonMalformedAuthorization)
	}

	result, err := g.facilitator.Verify(ctx, req, auth)
	if err != nil {
		span.RecordError(err)
		g.logger.Error(ctx, "Payment verification request failed", err, map[string]interface{}{
			"path": r.URL.Path,
		})
		return internalError()
	}
	if !result.IsValid {
		g.logger.Info(ctx, "Payment rejected", map[string]interface{}{
			"path":   r.URL.Path,
			"payer":  auth.From.Hex(),
			"reason": result.InvalidReason.String(),
		})
		return g.challenge(req, StatusPaymentRejected, result.InvalidReason.String())
	}

	receipt, err := g.facilitator.Settle(ctx, req, auth)
	if err != nil {
		span.RecordError(err)
		g.logger.Error(ctx, "Payment settlement request failed", err, map[string]interface{}{
			"path":  r.URL.Path,
			"payer": auth.From.Hex(),
		})
		return internalError()
	}

	encoded, err := codec.EncodeReceipt(receipt)
	if err != nil {
		g.logger.Error(ctx, "Failed to encode settlement receipt", err, nil)
		return internalError()
	}

	if !receipt.Success {
		status, reason := StatusPaymentFailed, receipt.ErrorReason.String()
		if receipt.Pending() {
			// 確認待ちは失敗と区別して返し、運用側で照合できるようにする
			status = StatusSettlementPending
			g.logger.Warn(ctx, "Settlement pending confirmation", map[string]interface{}{
				"path":        r.URL.Path,
				"transaction": receipt.Transaction,
			})
		} else {
			if receipt.InvalidReason != "" {
				reason = receipt.InvalidReason.String()
			}
			g.logger.Warn(ctx, "Settlement failed", map[string]interface{}{
				"path":   r.URL.Path,
				"reason": reason,
			})
		}
		out := g.challenge(req, status, reason)
		out.Header.Set(codec.HeaderPaymentResponse, encoded)
		out.Receipt = &receipt
		return out
	}

	g.logger.Info(ctx, "Payment settled", map[string]interface{}{
		"path":        r.URL.Path,
		"payer":       receipt.Payer.Hex(),
		"transaction": receipt.Transaction,
	})
	span.SetAttributes(attribute.String("transaction", receipt.Transaction))

	h := make(http.Header)
	h.Set(codec.HeaderPaymentResponse, encoded)
	return Outcome{Paid: true, StatusCode: http.StatusOK, Header: h, Receipt: &receipt}
}

// challenge 402応答を作成
func (g *Gateway) challenge(req payment.Requirements, status Status, reason string) Outcome {
	h := make(http.Header)
	if token, err := codec.EncodeRequirements(req); err == nil {
		h.Set(codec.HeaderPaymentRequired, token)
	}
	return Outcome{
		StatusCode: http.StatusPaymentRequired,
		Header:     h,
		Body: &codec.PaymentRequiredWire{
			X402Version: codec.Version,
			Error:       reason,
			Status:      string(status),
			Accepts:     []codec.RequirementsWire{codec.RequirementsToWire(req)},
		},
	}
}

func internalError() Outcome {
	return Outcome{
		StatusCode: http.StatusInternalServerError,
		Header:     make(http.Header),
		Body: &codec.PaymentRequiredWire{
			X402Version: codec.Version,
			Error:       string(StatusInternalError),
			Status:      string(StatusInternalError),
			Accepts:     []codec.RequirementsWire{},
		},
	}
}

