package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics メトリクス定義
type Metrics struct {
	// 検証結果数
	VerificationCount metric.Int64Counter

	// 決済結果数
	SettlementCount metric.Int64Counter

	// 決済所要時間
	SettlementDuration metric.Float64Histogram

	// 送信の再試行数
	SubmissionRetryCount metric.Int64Counter

	// リクエスト数
	RequestCount metric.Int64Counter

	// レスポンス時間
	ResponseTime metric.Float64Histogram

	// エラー数
	ErrorCount metric.Int64Counter
}

// NewMetrics 新しいMetricsを作成
func NewMetrics(meterName string) (*Metrics, error) {
	meter := otel.Meter(meterName)

	verificationCount, err := meter.Int64Counter(
		"x402_verifications_total",
		metric.WithDescription("Total number of payment verifications"),
	)
	if err != nil {
		return nil, err
	}

	settlementCount, err := meter.Int64Counter(
		"x402_settlements_total",
		metric.WithDescription("Total number of payment settlements"),
	)
	if err != nil {
		return nil, err
	}

	settlementDuration, err := meter.Float64Histogram(
		"x402_settlement_duration_seconds",
		metric.WithDescription("Time from claim to terminal settlement outcome"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	submissionRetryCount, err := meter.Int64Counter(
		"x402_submission_retries_total",
		metric.WithDescription("Total number of transaction submission retries"),
	)
	if err != nil {
		return nil, err
	}

	requestCount, err := meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of requests"),
	)
	if err != nil {
		return nil, err
	}

	responseTime, err := meter.Float64Histogram(
		"response_time_seconds",
		metric.WithDescription("Response time in seconds"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"errors_total",
		metric.WithDescription("Total number of errors"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		VerificationCount:    verificationCount,
		SettlementCount:      settlementCount,
		SettlementDuration:   settlementDuration,
		SubmissionRetryCount: submissionRetryCount,
		RequestCount:         requestCount,
		ResponseTime:         responseTime,
		ErrorCount:           errorCount,
	}, nil
}

// RecordVerification 検証結果を記録 (有効な場合reasonは空)
func (m *Metrics) RecordVerification(ctx context.Context, network string, valid bool, reason string) {
	m.VerificationCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("network", network),
			attribute.Bool("valid", valid),
			attribute.String("reason", reason),
		),
	)
}

// RecordSettlement 決済結果と所要時間を記録
func (m *Metrics) RecordSettlement(ctx context.Context, network string, success bool, reason string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("network", network),
		attribute.Bool("success", success),
		attribute.String("reason", reason),
	)
	m.SettlementCount.Add(ctx, 1, attrs)
	m.SettlementDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordSubmissionRetry 送信の再試行を記録
func (m *Metrics) RecordSubmissionRetry(ctx context.Context, network string) {
	m.SubmissionRetryCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("network", network),
		),
	)
}

// RecordRequest リクエストを記録
func (m *Metrics) RecordRequest(ctx context.Context, method, path string) {
	m.RequestCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
		),
	)
}

// RecordResponseTime レスポンス時間を記録
func (m *Metrics) RecordResponseTime(ctx context.Context, method, path string, duration float64) {
	m.ResponseTime.Record(ctx, duration,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
		),
	)
}

// RecordError エラーを記録
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	m.ErrorCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error_type", errorType),
		),
	)
}
