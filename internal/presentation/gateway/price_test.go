package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x402-gateway/internal/domain/payment"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		decimals int32
		want     string
		wantErr  bool
	}{
		{name: "正常系: ドル記号付き", price: "$0.05", decimals: 6, want: "50000"},
		{name: "正常系: 整数", price: "2", decimals: 6, want: "2000000"},
		{name: "正常系: 最小単位", price: "0.000001", decimals: 6, want: "1"},
		{name: "正常系: 前後の空白", price: " 1.5 ", decimals: 2, want: "150"},
		{name: "異常系: 桁数超過", price: "0.0000001", decimals: 6, wantErr: true},
		{name: "異常系: ゼロ", price: "0", decimals: 6, wantErr: true},
		{name: "異常系: 負数", price: "-1", decimals: 6, wantErr: true},
		{name: "異常系: 数値でない", price: "free", decimals: 6, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrice(tt.price, tt.decimals)
			if tt.wantErr {
				assert.ErrorIs(t, err, payment.ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}
