package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	otelinfra "x402-gateway/internal/infrastructure/observability/otel"
)

func errorCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "errors_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key("error_type"))
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestMetricsMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantErrors map[string]int64
	}{
		{
			name:       "正常系: 200は記録しない",
			status:     http.StatusOK,
			wantErrors: map[string]int64{},
		},
		{
			name:       "異常系: 4xxはclient_error",
			status:     http.StatusBadRequest,
			wantErrors: map[string]int64{"client_error": 1},
		},
		{
			name:       "異常系: 5xxはserver_error",
			status:     http.StatusServiceUnavailable,
			wantErrors: map[string]int64{"server_error": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := sdkmetric.NewManualReader()
			otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

			metrics, err := otelinfra.NewMetrics("test")
			require.NoError(t, err)

			e := echo.New()
			handler := MetricsMiddleware(metrics)(func(c echo.Context) error {
				return c.NoContent(tt.status)
			})

			rec := httptest.NewRecorder()
			require.NoError(t, handler(e.NewContext(httptest.NewRequest(http.MethodPost, "/settle", nil), rec)))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.wantErrors, errorCounts(t, reader))
		})
	}
}
