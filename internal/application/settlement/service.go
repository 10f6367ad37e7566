package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"x402-gateway/internal/domain/nonce"
	"x402-gateway/internal/domain/payment"
	"x402-gateway/internal/infrastructure/chain"
	otelinfra "x402-gateway/internal/infrastructure/observability/otel"
)

// Config 決済処理の設定
type Config struct {
	ConfirmationTimeout  time.Duration
	SubmitRetries        uint
	RetryInitialInterval time.Duration
}

// Service 検証済みの送金許可をオンチェーンで決済するサービス
type Service struct {
	ledger   payment.Ledger
	registry nonce.Registry
	cfg      Config
	logger   *otelinfra.Logger
	metrics  *otelinfra.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService 新しいServiceを作成
func NewService(
	ledger payment.Ledger,
	registry nonce.Registry,
	cfg Config,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *Service {
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = time.Minute
	}
	if cfg.SubmitRetries == 0 {
		cfg.SubmitRetries = 1
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 500 * time.Millisecond
	}
	return &Service{
		ledger:   ledger,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		tracer:   otel.Tracer("settlement-service"),
		now:      time.Now,
	}
}

// Settle 送金許可を決済して最終結果を返す
//
// 呼び出し元は直前にVerifyで有効と判定されていることを保証する。
// ノンスはここでアトミックに登録され、以後同じノンスは決済されない。
func (s *Service) Settle(ctx context.Context, req payment.Requirements, auth payment.Authorization) (payment.SettlementReceipt, error) {
	ctx, span := s.tracer.Start(ctx, "SettlementService.Settle")
	defer span.End()

	span.SetAttributes(
		attribute.String("network", req.Network.String()),
		attribute.String("payer", auth.From.Hex()),
		attribute.String("nonce", auth.Nonce.Hex()),
	)
	start := s.now()

	// 1. ノンスのtest-and-set
	entry, claimed, err := s.registry.Claim(ctx, auth.Nonce)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to claim nonce", err, map[string]interface{}{
			"nonce": auth.Nonce.Hex(),
		})
		return payment.SettlementReceipt{}, err
	}
	if !claimed {
		receipt := s.baseReceipt(req, auth)
		receipt.ErrorReason = payment.ErrorReasonAlreadySettled
		receipt.Transaction = entry.Receipt.Transaction
		s.logger.Warn(ctx, "Nonce already settled", map[string]interface{}{
			"nonce":       auth.Nonce.Hex(),
			"status":      entry.Status.String(),
			"transaction": entry.Receipt.Transaction,
		})
		s.record(ctx, span, receipt, start)
		return receipt, nil
	}

	receipt := s.settleClaimed(ctx, req, auth)

	// リクエストがキャンセルされても結果は必ず記録する
	if err := s.registry.Resolve(context.WithoutCancel(ctx), auth.Nonce, receipt); err != nil {
		s.logger.Error(ctx, "Failed to record settlement outcome", err, map[string]interface{}{
			"nonce":       auth.Nonce.Hex(),
			"transaction": receipt.Transaction,
		})
	}
	s.record(ctx, span, receipt, start)
	return receipt, nil
}

func (s *Service) settleClaimed(ctx context.Context, req payment.Requirements, auth payment.Authorization) payment.SettlementReceipt {
	receipt := s.baseReceipt(req, auth)

	// 2. 送信 (NetworkErrorのみ再試行)
	txHash, err := s.submit(ctx, req, auth)
	if err != nil {
		s.logger.Error(ctx, "Transfer submission failed", err, map[string]interface{}{
			"nonce": auth.Nonce.Hex(),
			"payer": auth.From.Hex(),
		})
		receipt.ErrorReason = payment.ErrorReasonSubmissionFailed
		return receipt
	}
	receipt.Transaction = txHash.Hex()

	s.logger.Info(ctx, "Transfer submitted", map[string]interface{}{
		"nonce":       auth.Nonce.Hex(),
		"transaction": receipt.Transaction,
	})

	// 3. 確認待ち (再送信はしない)
	confirmation, err := s.ledger.AwaitConfirmation(ctx, txHash, s.cfg.ConfirmationTimeout)
	if err != nil {
		s.logger.Error(ctx, "Confirmation polling failed", err, map[string]interface{}{
			"transaction": receipt.Transaction,
		})
		confirmation = payment.ConfirmationTimedOut
	}

	switch confirmation {
	case payment.ConfirmationConfirmed:
		receipt.Success = true
	case payment.ConfirmationReverted:
		receipt.ErrorReason = payment.ErrorReasonReverted
	default:
		receipt.ErrorReason = payment.ErrorReasonTimeoutAwaitingConfirmation
		s.logger.Warn(ctx, "Settlement not confirmed in time; reconcile by transaction hash", map[string]interface{}{
			"transaction": receipt.Transaction,
			"nonce":       auth.Nonce.Hex(),
			"timeout":     s.cfg.ConfirmationTimeout.String(),
		})
	}
	return receipt
}

func (s *Service) submit(ctx context.Context, req payment.Requirements, auth payment.Authorization) (common.Hash, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitialInterval

	operation := func() (common.Hash, error) {
		hash, err := s.ledger.SubmitTransfer(ctx, auth, req.Asset)
		if err == nil {
			return hash, nil
		}
		// 届いた可能性のある送信は作り直さず、そのハッシュの確認を待つ
		var ambiguous *chain.AmbiguousSendError
		if errors.As(err, &ambiguous) {
			s.logger.Warn(ctx, "Transfer submission outcome unknown, awaiting sent transaction", map[string]interface{}{
				"nonce":   auth.Nonce.Hex(),
				"tx_hash": ambiguous.Hash.Hex(),
				"error":   err.Error(),
			})
			return ambiguous.Hash, nil
		}
		if chain.IsNetworkError(err) {
			return common.Hash{}, err
		}
		return common.Hash{}, backoff.Permanent(err)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.cfg.SubmitRetries),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.metrics.RecordSubmissionRetry(ctx, req.Network.String())
			s.logger.Warn(ctx, "Retrying transfer submission", map[string]interface{}{
				"nonce": auth.Nonce.Hex(),
				"error": err.Error(),
				"next":  next.String(),
			})
		}),
	)
}

func (s *Service) baseReceipt(req payment.Requirements, auth payment.Authorization) payment.SettlementReceipt {
	return payment.SettlementReceipt{
		Amount:  auth.Value,
		Network: req.Network,
		Payer:   auth.From,
	}
}

func (s *Service) record(ctx context.Context, span trace.Span, receipt payment.SettlementReceipt, start time.Time) {
	s.metrics.RecordSettlement(ctx, receipt.Network.String(), receipt.Success, receipt.ErrorReason.String(), s.now().Sub(start))
	span.SetAttributes(
		attribute.Bool("success", receipt.Success),
		attribute.String("transaction", receipt.Transaction),
		attribute.String("error_reason", receipt.ErrorReason.String()),
	)
	if !receipt.Success {
		span.SetStatus(otelcodes.Error, receipt.ErrorReason.String())
	}
}
