package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x402-gateway/internal/infrastructure/config"
)

func TestInitMeter(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.OpenTelemetryConfig
		wantError string
	}{
		{
			name: "正常系: 無効",
			cfg:  config.OpenTelemetryConfig{Enabled: false},
		},
		{
			name: "正常系: 標準出力",
			cfg: config.OpenTelemetryConfig{
				Enabled:         true,
				MetricsExporter: "stdout",
				ServiceName:     "test-service",
				ServiceVersion:  "1.0.0",
			},
		},
		{
			name: "正常系: none",
			cfg:  config.OpenTelemetryConfig{Enabled: true, MetricsExporter: "none"},
		},
		{
			name: "異常系: 未対応のエクスポーター",
			cfg: config.OpenTelemetryConfig{
				Enabled:         true,
				MetricsExporter: "prometheus",
			},
			wantError: "unsupported metrics exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := InitMeter(&tt.cfg)
			if tt.wantError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
				assert.Nil(t, shutdown)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, shutdown)
			assert.NoError(t, shutdown(context.Background()))
		})
	}
}

func TestMeter(t *testing.T) {
	meter := Meter("test-meter")
	require.NotNil(t, meter)

	counter, err := meter.Int64Counter("test_counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
}
