package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	facilitatorapp "x402-gateway/internal/application/facilitator"
	"x402-gateway/internal/application/settlement"
	"x402-gateway/internal/application/verification"
	"x402-gateway/internal/domain/payment"
	"x402-gateway/internal/infrastructure/chain"
	"x402-gateway/internal/infrastructure/chain/chaintest"
	"x402-gateway/internal/infrastructure/codec"
	otelinfra "x402-gateway/internal/infrastructure/observability/otel"
	"x402-gateway/internal/infrastructure/persistence/memory"
	restmiddleware "x402-gateway/internal/presentation/rest/middleware"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	echo    *echo.Echo
	service *facilitatorapp.Service
	ledger  *chaintest.Ledger
	fixture *chaintest.Fixture
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fixture := chaintest.NewFixture(testNow)
	ledger := chaintest.NewLedger()
	ledger.SetBalance(fixture.Payer, 1_000_000)
	registry := memory.NewNonceRegistry()

	logger := otelinfra.NewLogger(noop.NewTracerProvider().Tracer("test"))
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)

	verifier := verification.NewService(ledger, registry, fixture.Capabilities(), logger, metrics).
		WithClock(func() time.Time { return testNow })
	settler := settlement.NewService(ledger, registry, settlement.Config{
		ConfirmationTimeout:  time.Second,
		SubmitRetries:        1,
		RetryInitialInterval: time.Millisecond,
	}, logger, metrics)
	service := facilitatorapp.NewService(verifier, settler, ledger, fixture.Capabilities(), logger)

	e := echo.New()
	e.Use(restmiddleware.ErrorHandlerMiddleware(logger))
	h := NewFacilitatorHandler(service)
	e.GET("/", h.Info)
	e.POST("/verify", h.Verify)
	e.POST("/settle", h.Settle)
	e.GET("/supported", h.Supported)
	e.GET("/transactions/:hash", h.TransactionStatus)
	e.GET("/health", h.Health)

	return &testEnv{echo: e, service: service, ledger: ledger, fixture: fixture}
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func TestFacilitatorHandler_Verify(t *testing.T) {
	tests := []struct {
		name           string
		body           func(env *testEnv) interface{}
		setup          func(env *testEnv)
		expectedStatus int
		expectedValid  bool
		expectedReason string
		expectedError  string
	}{
		{
			name: "正常系: 有効な送金許可",
			body: func(env *testEnv) interface{} {
				req := env.fixture.Requirements(50000)
				return codec.NewFacilitatorRequest(req, env.fixture.Authorize(req, 50000))
			},
			expectedStatus: http.StatusOK,
			expectedValid:  true,
		},
		{
			name: "正常系: paymentHeaderで渡す",
			body: func(env *testEnv) interface{} {
				req := env.fixture.Requirements(50000)
				header, err := codec.EncodeAuthorization(env.fixture.Authorize(req, 50000))
				if err != nil {
					panic(err)
				}
				return codec.FacilitatorRequestWire{
					X402Version:         codec.Version,
					PaymentHeader:       header,
					PaymentRequirements: codec.RequirementsToWire(req),
				}
			},
			expectedStatus: http.StatusOK,
			expectedValid:  true,
		},
		{
			name: "正常系: 金額不足は無効",
			body: func(env *testEnv) interface{} {
				req := env.fixture.Requirements(50000)
				return codec.NewFacilitatorRequest(req, env.fixture.Authorize(req, 40000))
			},
			expectedStatus: http.StatusOK,
			expectedReason: "amount_mismatch",
		},
		{
			name:           "異常系: JSONが不正",
			body:           func(*testEnv) interface{} { return "{not json" },
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "異常系: 署名の長さが不正",
			body: func(env *testEnv) interface{} {
				req := env.fixture.Requirements(50000)
				w := codec.NewFacilitatorRequest(req, env.fixture.Authorize(req, 50000))
				w.PaymentPayload.Payload.Signature = "0x1234"
				return w
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_payload",
		},
		{
			name: "異常系: チェーンに接続できない",
			body: func(env *testEnv) interface{} {
				req := env.fixture.Requirements(50000)
				return codec.NewFacilitatorRequest(req, env.fixture.Authorize(req, 50000))
			},
			setup: func(env *testEnv) {
				env.ledger.NonceErr = &chain.NetworkError{Op: "authorizationState", Err: errors.New("dial tcp: refused")}
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedError:  "chain_unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.setup != nil {
				tt.setup(env)
			}

			rec := env.do(t, http.MethodPost, "/verify", tt.body(env))
			assert.Equal(t, tt.expectedStatus, rec.Code)

			if tt.expectedStatus == http.StatusOK {
				var resp codec.VerifyResponseWire
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.expectedValid, resp.IsValid)
				assert.Equal(t, tt.expectedReason, resp.InvalidReason)
				assert.Equal(t, env.fixture.Payer.Hex(), resp.Payer)
			}
			if tt.expectedError != "" {
				var resp restmiddleware.ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.expectedError, resp.Error)
			}
			assert.Equal(t, 0, env.ledger.Submits())
		})
	}
}

func TestFacilitatorHandler_Settle(t *testing.T) {
	t.Run("正常系: 決済成功", func(t *testing.T) {
		env := newTestEnv(t)
		req := env.fixture.Requirements(50000)
		body := codec.NewFacilitatorRequest(req, env.fixture.Authorize(req, 50000))

		rec := env.do(t, http.MethodPost, "/settle", body)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp SettleResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.NotEmpty(t, resp.Transaction)
		assert.Equal(t, "test-chain", resp.Network)
		assert.Equal(t, env.fixture.Payer.Hex(), resp.Payer)
		assert.Equal(t, "50000", resp.Amount)
		assert.Equal(t, 1, env.ledger.Submits())
	})

	t.Run("異常系: 同じ送金許可の再送は決済しない", func(t *testing.T) {
		env := newTestEnv(t)
		req := env.fixture.Requirements(50000)
		body := codec.NewFacilitatorRequest(req, env.fixture.Authorize(req, 50000))

		first := env.do(t, http.MethodPost, "/settle", body)
		require.Equal(t, http.StatusOK, first.Code)

		rec := env.do(t, http.MethodPost, "/settle", body)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp SettleResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, "already_settled", resp.ErrorReason)
		assert.Empty(t, resp.InvalidReason)
		assert.Equal(t, 1, env.ledger.Submits())
	})

	t.Run("異常系: 確認待ちタイムアウト", func(t *testing.T) {
		env := newTestEnv(t)
		env.ledger.Confirmation = payment.ConfirmationTimedOut
		req := env.fixture.Requirements(50000)
		body := codec.NewFacilitatorRequest(req, env.fixture.Authorize(req, 50000))

		rec := env.do(t, http.MethodPost, "/settle", body)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp SettleResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, "timeout_awaiting_confirmation", resp.ErrorReason)
		assert.NotEmpty(t, resp.Transaction)
	})
}

func TestFacilitatorHandler_Supported(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/supported", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp codec.SupportedWire
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []codec.SupportedKindWire{{X402Version: 1, Scheme: "exact", Network: "test-chain"}}, resp.Kinds)
}

func TestFacilitatorHandler_TransactionStatus(t *testing.T) {
	env := newTestEnv(t)
	req := env.fixture.Requirements(50000)
	receipt, err := env.service.Settle(context.Background(), req, env.fixture.Authorize(req, 50000))
	require.NoError(t, err)
	require.True(t, receipt.Success)

	tests := []struct {
		name           string
		hash           string
		expectedStatus int
		expectedState  string
	}{
		{
			name:           "正常系: 確認済み",
			hash:           receipt.Transaction,
			expectedStatus: http.StatusOK,
			expectedState:  "confirmed",
		},
		{
			name:           "正常系: 未知のハッシュは未確認",
			hash:           "0x" + "11111111111111111111111111111111" + "11111111111111111111111111111111",
			expectedStatus: http.StatusOK,
			expectedState:  "pending",
		},
		{
			name:           "異常系: 不正なハッシュ",
			hash:           "0x1234",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/transactions/"+tt.hash, nil)
			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedState == "" {
				return
			}
			var resp TransactionStatusResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedState, resp.Status)
		})
	}
}

func TestFacilitatorHandler_Health(t *testing.T) {
	env := newTestEnv(t)
	env.service.AddHealthCheck("chain", func(context.Context) error { return nil })

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.service.AddHealthCheck("registry", func(context.Context) error { return errors.New("db down") })
	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Checks["chain"])
	assert.Equal(t, "db down", resp.Checks["registry"])
}

func TestFacilitatorHandler_Info(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "x402-facilitator", resp.Service)
	assert.Equal(t, 1, resp.X402Version)
	assert.Contains(t, resp.Endpoints, "POST /settle")
}
