package payment

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAsset = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")

func TestCapability_AcceptsAsset(t *testing.T) {
	tests := []struct {
		name  string
		cp    Capability
		asset common.Address
		want  bool
	}{
		{
			name:  "正常系: 設定されたトークン",
			cp:    Capability{Asset: testAsset},
			asset: testAsset,
			want:  true,
		},
		{
			name:  "正常系: トークン未設定なら限定しない",
			cp:    Capability{},
			asset: common.HexToAddress("0xdead00000000000000000000000000000000beef"),
			want:  true,
		},
		{
			name:  "異常系: 設定外のトークン",
			cp:    Capability{Asset: testAsset},
			asset: common.HexToAddress("0xdead00000000000000000000000000000000beef"),
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cp.AcceptsAsset(tt.asset))
		})
	}
}

func TestNewCapabilities(t *testing.T) {
	exact := Capability{Scheme: SchemeExact, Network: "base-sepolia", ChainID: 84532, Asset: testAsset}

	t.Run("正常系: 登録した機能を引ける", func(t *testing.T) {
		caps, err := NewCapabilities(exact)
		require.NoError(t, err)

		got, ok := caps.Lookup(SchemeExact, "base-sepolia")
		require.True(t, ok)
		assert.Equal(t, testAsset, got.Asset)
		assert.Equal(t, []Capability{exact}, caps.All())
	})

	t.Run("異常系: チェーンIDが0", func(t *testing.T) {
		_, err := NewCapabilities(Capability{Scheme: SchemeExact, Network: "base-sepolia"})
		assert.Error(t, err)
	})

	t.Run("異常系: 重複した組", func(t *testing.T) {
		_, err := NewCapabilities(exact, exact)
		assert.Error(t, err)
	})
}
