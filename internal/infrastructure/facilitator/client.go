// Package facilitator リソースサーバーからファシリテーターを呼び出すHTTPクライアント
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"x402-gateway/internal/domain/payment"
	"x402-gateway/internal/infrastructure/codec"
	otelinfra "x402-gateway/internal/infrastructure/observability/otel"
)

const headerAPIKey = "X-API-Key"

// Config クライアント設定
type Config struct {
	BaseURL string
	APIKey  string

	// JWTSecretが空でなければリクエストごとにHS256トークンを発行する
	JWTSecret string
	JWTIssuer string
	ClientID  string
	TokenTTL  time.Duration

	Timeout              time.Duration
	Retries              uint
	RetryInitialInterval time.Duration
}

// Client ファシリテーターHTTPクライアント
type Client struct {
	cfg    Config
	http   *http.Client
	logger *otelinfra.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewClient 新しいClientを作成
func NewClient(cfg Config, logger *otelinfra.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Minute
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 100 * time.Millisecond
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		tracer: otel.Tracer("facilitator-client"),
		now:    time.Now,
	}
}

// WithHTTPClient HTTPクライアントを差し替える
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// Verify 送金許可の検証を依頼
//
// 到達できない場合と5xxのうち一時的なものは再試行する。
func (c *Client) Verify(ctx context.Context, req payment.Requirements, auth payment.Authorization) (payment.VerificationResult, error) {
	ctx, span := c.tracer.Start(ctx, "FacilitatorClient.Verify")
	defer span.End()

	body := codec.NewFacilitatorRequest(req, auth)
	wire, err := withRetry(ctx, c, "/verify", func() (codec.VerifyResponseWire, error) {
		var resp codec.VerifyResponseWire
		err := c.post(ctx, "/verify", body, &resp)
		return resp, err
	})
	if err != nil {
		span.RecordError(err)
		return payment.VerificationResult{}, err
	}

	result, err := codec.VerificationFromWire(wire)
	if err != nil {
		return payment.VerificationResult{}, fmt.Errorf("decode verify response: %w", err)
	}
	return result, nil
}

// Settle 送金許可の決済を依頼
//
// 決済は一度だけ送る。再送するとファシリテーター側で使用済みノンスとして拒否されるため。
func (c *Client) Settle(ctx context.Context, req payment.Requirements, auth payment.Authorization) (payment.SettlementReceipt, error) {
	ctx, span := c.tracer.Start(ctx, "FacilitatorClient.Settle")
	defer span.End()

	var wire codec.ReceiptWire
	if err := c.post(ctx, "/settle", codec.NewFacilitatorRequest(req, auth), &wire); err != nil {
		span.RecordError(err)
		return payment.SettlementReceipt{}, err
	}

	receipt, err := codec.ReceiptFromWire(wire)
	if err != nil {
		return payment.SettlementReceipt{}, fmt.Errorf("decode settle response: %w", err)
	}
	return receipt, nil
}

// Supported ファシリテーターが対応している支払い方式を取得
func (c *Client) Supported(ctx context.Context) ([]codec.SupportedKindWire, error) {
	resp, err := withRetry(ctx, c, "/supported", func() (codec.SupportedWire, error) {
		var resp codec.SupportedWire
		err := c.do(ctx, http.MethodGet, "/supported", nil, &resp)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return resp.Kinds, nil
}

func withRetry[T any](ctx context.Context, c *Client, path string, call func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitialInterval

	operation := func() (T, error) {
		v, err := call()
		if err == nil || retryable(err) {
			return v, err
		}
		return v, backoff.Permanent(err)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.cfg.Retries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn(ctx, "Retrying facilitator request", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
				"next":  next.String(),
			})
		}),
	)
}

func retryable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Temporary()
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if err := c.authenticate(httpReq); err != nil {
		return err
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// authenticate APIキーとJWTを付与
func (c *Client) authenticate(req *http.Request) error {
	if c.cfg.APIKey != "" {
		req.Header.Set(headerAPIKey, c.cfg.APIKey)
	}
	if c.cfg.JWTSecret == "" {
		return nil
	}

	now := c.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   c.cfg.ClientID,
		Issuer:    c.cfg.JWTIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.cfg.TokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cfg.JWTSecret))
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func parseErrorResponse(resp *http.Response) error {
	statusErr := &StatusError{StatusCode: resp.StatusCode}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) == nil {
		statusErr.Code = body.Error
		statusErr.Message = body.Message
	}
	return statusErr
}
