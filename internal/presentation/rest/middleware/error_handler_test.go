package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"x402-gateway/internal/domain/payment"
	"x402-gateway/internal/infrastructure/chain"
	"x402-gateway/internal/infrastructure/codec"
	otelinfra "x402-gateway/internal/infrastructure/observability/otel"
)

func TestErrorHandlerMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "正常系: エラーなし",
			err:            nil,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "異常系: デコードエラー",
			err:            &codec.DecodeError{Field: "payload.signature", Reason: "expected 65 bytes"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_payload",
		},
		{
			name:           "異常系: 支払い条件が不正",
			err:            fmt.Errorf("requirements: %w", payment.ErrInvalidRequirements),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_requirements",
		},
		{
			name:           "異常系: チェーンに接続できない",
			err:            fmt.Errorf("verify: %w", &chain.NetworkError{Op: "balanceOf", Err: errors.New("timeout")}),
			expectedStatus: http.StatusServiceUnavailable,
			expectedError:  "chain_unavailable",
		},
		{
			name:           "異常系: EchoのHTTPエラー",
			err:            echo.NewHTTPError(http.StatusBadRequest, "invalid request body"),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Bad Request",
		},
		{
			name:           "異常系: 予期しないエラー",
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal_server_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			logger := otelinfra.NewLogger(noop.NewTracerProvider().Tracer("test"))

			handler := ErrorHandlerMiddleware(logger)(func(c echo.Context) error {
				if tt.err != nil {
					return tt.err
				}
				return c.String(http.StatusOK, "ok")
			})

			rec := httptest.NewRecorder()
			require.NoError(t, handler(e.NewContext(httptest.NewRequest(http.MethodPost, "/verify", nil), rec)))
			assert.Equal(t, tt.expectedStatus, rec.Code)

			if tt.expectedError != "" {
				var body ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.expectedError, body.Error)
				assert.NotContains(t, body.Message, "boom")
			}
		})
	}
}
