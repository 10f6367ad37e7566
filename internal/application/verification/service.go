package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"x402-gateway/internal/domain/nonce"
	"x402-gateway/internal/domain/payment"
	"x402-gateway/internal/infrastructure/eip3009"
	otelinfra "x402-gateway/internal/infrastructure/observability/otel"
)

// Service 送金許可の受理判定を行うサービス
//
// 判定のみを行い、トランザクションの送信やノンスレジストリの更新はしない。
type Service struct {
	ledger       payment.Ledger
	registry     nonce.Registry
	capabilities *payment.Capabilities
	logger       *otelinfra.Logger
	metrics      *otelinfra.Metrics
	tracer       trace.Tracer
	now          func() time.Time
}

// NewService 新しいServiceを作成
func NewService(
	ledger payment.Ledger,
	registry nonce.Registry,
	capabilities *payment.Capabilities,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *Service {
	return &Service{
		ledger:       ledger,
		registry:     registry,
		capabilities: capabilities,
		logger:       logger,
		metrics:      metrics,
		tracer:       otel.Tracer("verification-service"),
		now:          time.Now,
	}
}

// WithClock 現在時刻の取得元を差し替える
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Verify 支払い条件に対して送金許可を検証
//
// 最初に失敗した検査の理由を返す。チェーンへの問い合わせが失敗した場合はエラーを返す。
func (s *Service) Verify(ctx context.Context, req payment.Requirements, auth payment.Authorization) (payment.VerificationResult, error) {
	ctx, span := s.tracer.Start(ctx, "VerificationService.Verify")
	defer span.End()

	span.SetAttributes(
		attribute.String("network", req.Network.String()),
		attribute.String("payer", auth.From.Hex()),
		attribute.String("nonce", auth.Nonce.Hex()),
	)

	result, err := s.verify(ctx, req, auth)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Verification aborted", err, map[string]interface{}{
			"payer": auth.From.Hex(),
			"nonce": auth.Nonce.Hex(),
		})
		return payment.VerificationResult{}, err
	}

	s.metrics.RecordVerification(ctx, req.Network.String(), result.IsValid, result.InvalidReason.String())
	span.SetAttributes(
		attribute.Bool("valid", result.IsValid),
		attribute.String("invalid_reason", result.InvalidReason.String()),
	)
	if result.IsValid {
		s.logger.Info(ctx, "Payment verified", map[string]interface{}{
			"payer": auth.From.Hex(),
			"nonce": auth.Nonce.Hex(),
			"value": auth.Value.String(),
		})
	} else {
		s.logger.Info(ctx, "Payment rejected", map[string]interface{}{
			"payer":  auth.From.Hex(),
			"nonce":  auth.Nonce.Hex(),
			"reason": result.InvalidReason.String(),
		})
	}
	return result, nil
}

func (s *Service) verify(ctx context.Context, req payment.Requirements, auth payment.Authorization) (payment.VerificationResult, error) {
	payer := auth.From

	// 1. スキームとネットワーク
	capability, ok := s.capabilities.Lookup(req.Scheme, req.Network)
	if !ok || auth.Scheme != req.Scheme || auth.Network != req.Network {
		return payment.Reject(payer, payment.InvalidReasonUnsupportedScheme), nil
	}
	// 設定されたトークン以外の送金にはガスを払わない
	if !capability.AcceptsAsset(req.Asset) {
		return payment.Reject(payer, payment.InvalidReasonUnsupportedScheme), nil
	}

	// 2. 有効期間 (秒単位、両端を含む)
	now := s.now().Unix()
	if now < auth.ValidAfter {
		return payment.Reject(payer, payment.InvalidReasonNotYetValid), nil
	}
	if now > auth.ValidBefore {
		return payment.Reject(payer, payment.InvalidReasonExpired), nil
	}

	// 3. 受取先
	if auth.To != req.PayTo {
		return payment.Reject(payer, payment.InvalidReasonRecipientMismatch), nil
	}

	// 4. 金額
	if auth.Value == nil || req.Amount == nil || auth.Value.Cmp(req.Amount) < 0 {
		return payment.Reject(payer, payment.InvalidReasonAmountMismatch), nil
	}

	// 5. ノンス (レジストリは読み取りのみ)
	seen, err := s.registry.Contains(ctx, auth.Nonce)
	if err != nil {
		return payment.VerificationResult{}, fmt.Errorf("failed to check nonce registry: %w", err)
	}
	if seen {
		return payment.Reject(payer, payment.InvalidReasonNonceReused), nil
	}
	used, err := s.ledger.IsNonceUsedOnChain(ctx, req.Asset, auth.From, auth.Nonce)
	if err != nil {
		return payment.VerificationResult{}, fmt.Errorf("failed to check on-chain nonce state: %w", err)
	}
	if used {
		return payment.Reject(payer, payment.InvalidReasonNonceReused), nil
	}

	// 6. 署名
	if _, err := eip3009.RecoverSigner(auth, eip3009.DomainFor(req, capability)); err != nil {
		var sigErr *eip3009.SignatureError
		if errors.As(err, &sigErr) {
			return payment.Reject(payer, payment.InvalidReasonBadSignature), nil
		}
		return payment.VerificationResult{}, err
	}

	// 7. 残高
	balance, err := s.ledger.GetBalance(ctx, auth.From, req.Asset)
	if err != nil {
		return payment.VerificationResult{}, fmt.Errorf("failed to get payer balance: %w", err)
	}
	if balance.Cmp(auth.Value) < 0 {
		return payment.Reject(payer, payment.InvalidReasonInsufficientBalance), nil
	}

	return payment.Accept(payer), nil
}
