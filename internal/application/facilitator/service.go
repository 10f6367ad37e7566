package facilitator

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"x402-gateway/internal/domain/payment"
	otelinfra "x402-gateway/internal/infrastructure/observability/otel"
)

// Verifier 送金許可の検証
type Verifier interface {
	Verify(ctx context.Context, req payment.Requirements, auth payment.Authorization) (payment.VerificationResult, error)
}

// Settler 送金許可の決済
type Settler interface {
	Settle(ctx context.Context, req payment.Requirements, auth payment.Authorization) (payment.SettlementReceipt, error)
}

// StatusReader トランザクション状態の照会
type StatusReader interface {
	TransactionStatus(ctx context.Context, txHash common.Hash) (payment.Confirmation, error)
}

// HealthCheck 依存先のヘルスチェック関数
type HealthCheck func(ctx context.Context) error

// Service verify・settle・supportedを提供するファシリテーターのアプリケーションサービス
type Service struct {
	verifier     Verifier
	settler      Settler
	status       StatusReader
	capabilities *payment.Capabilities
	checks       map[string]HealthCheck
	logger       *otelinfra.Logger
	tracer       trace.Tracer
}

// NewService 新しいServiceを作成
func NewService(
	verifier Verifier,
	settler Settler,
	status StatusReader,
	capabilities *payment.Capabilities,
	logger *otelinfra.Logger,
) *Service {
	return &Service{
		verifier:     verifier,
		settler:      settler,
		status:       status,
		capabilities: capabilities,
		checks:       make(map[string]HealthCheck),
		logger:       logger,
		tracer:       otel.Tracer("facilitator-service"),
	}
}

// AddHealthCheck ヘルスチェックを登録
func (s *Service) AddHealthCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

// Verify 送金許可を検証
func (s *Service) Verify(ctx context.Context, req payment.Requirements, auth payment.Authorization) (payment.VerificationResult, error) {
	ctx, span := s.tracer.Start(ctx, "FacilitatorService.Verify")
	defer span.End()

	result, err := s.verifier.Verify(ctx, req, auth)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return payment.VerificationResult{}, fmt.Errorf("verify: %w", err)
	}
	span.SetAttributes(attribute.Bool("valid", result.IsValid))
	return result, nil
}

// Settle 検証してから決済する
//
// 検証で拒否された場合はトランザクションを送信せず、invalid_paymentの結果を返す。
// 使用済みのノンスは決済済みとしてalready_settledを返す。
func (s *Service) Settle(ctx context.Context, req payment.Requirements, auth payment.Authorization) (payment.SettlementReceipt, error) {
	ctx, span := s.tracer.Start(ctx, "FacilitatorService.Settle")
	defer span.End()

	result, err := s.verifier.Verify(ctx, req, auth)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return payment.SettlementReceipt{}, fmt.Errorf("verify before settle: %w", err)
	}
	if !result.IsValid {
		s.logger.Info(ctx, "Settlement refused by verification", map[string]interface{}{
			"payer":  auth.From.Hex(),
			"reason": result.InvalidReason.String(),
		})
		span.SetAttributes(attribute.String("invalid_reason", result.InvalidReason.String()))
		receipt := payment.SettlementReceipt{
			Network: req.Network,
			Payer:   result.Payer,
			Amount:  auth.Value,
		}
		if result.InvalidReason == payment.InvalidReasonNonceReused {
			receipt.ErrorReason = payment.ErrorReasonAlreadySettled
			return receipt, nil
		}
		receipt.ErrorReason = payment.ErrorReasonInvalidPayment
		receipt.InvalidReason = result.InvalidReason
		return receipt, nil
	}

	receipt, err := s.settler.Settle(ctx, req, auth)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return payment.SettlementReceipt{}, fmt.Errorf("settle: %w", err)
	}
	span.SetAttributes(
		attribute.Bool("success", receipt.Success),
		attribute.String("transaction", receipt.Transaction),
	)
	return receipt, nil
}

// Supported 対応している支払い方式を返す
func (s *Service) Supported() []SupportedKind {
	caps := s.capabilities.All()
	kinds := make([]SupportedKind, 0, len(caps))
	for _, cp := range caps {
		kinds = append(kinds, SupportedKind{
			X402Version: 1,
			Scheme:      cp.Scheme.String(),
			Network:     cp.Network.String(),
			ChainID:     cp.ChainID,
		})
	}
	return kinds
}

// TransactionStatus 送信済みトランザクションの状態を返す
func (s *Service) TransactionStatus(ctx context.Context, txHash common.Hash) (payment.Confirmation, error) {
	ctx, span := s.tracer.Start(ctx, "FacilitatorService.TransactionStatus")
	defer span.End()
	span.SetAttributes(attribute.String("transaction", txHash.Hex()))

	status, err := s.status.TransactionStatus(ctx, txHash)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return "", fmt.Errorf("transaction status: %w", err)
	}
	return status, nil
}

// Health 登録されたヘルスチェックを実行
func (s *Service) Health(ctx context.Context) HealthReport {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	report := HealthReport{Status: HealthStatusOK, Checks: make(map[string]string, len(names))}
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			report.Status = HealthStatusDegraded
			report.Checks[name] = err.Error()
			s.logger.Warn(ctx, "Health check failed", map[string]interface{}{
				"check": name,
				"error": err.Error(),
			})
			continue
		}
		report.Checks[name] = HealthStatusOK
	}
	return report
}
