package verification

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"x402-gateway/internal/domain/payment"
	"x402-gateway/internal/infrastructure/chain"
	"x402-gateway/internal/infrastructure/chain/chaintest"
	otelinfra "x402-gateway/internal/infrastructure/observability/otel"
	"x402-gateway/internal/infrastructure/persistence/memory"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	service  *Service
	ledger   *chaintest.Ledger
	registry *memory.NonceRegistry
	fixture  *chaintest.Fixture
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

	service := NewService(ledger, registry, fixture.Capabilities(), logger, metrics).
		WithClock(func() time.Time { return testNow })
	return &testEnv{service: service, ledger: ledger, registry: registry, fixture: fixture}
}

func TestService_Verify(t *testing.T) {
	tests := []struct {
		name       string
		amount     int64
		mutate     []func(*payment.Authorization)
		afterSign  func(*payment.Authorization)
		setup      func(env *testEnv, auth payment.Authorization)
		wantValid  bool
		wantReason payment.InvalidReason
	}{
		{
			name:      "正常系: 全条件を満たす",
			amount:    50000,
			wantValid: true,
		},
		{
			name:      "正常系: 要求額を超える金額",
			amount:    60000,
			wantValid: true,
		},
		{
			name:   "正常系: validBeforeが現在時刻と等しい",
			amount: 50000,
			mutate: []func(*payment.Authorization){func(a *payment.Authorization) {
				a.ValidBefore = testNow.Unix()
			}},
			wantValid: true,
		},
		{
			name:   "正常系: validAfterが現在時刻と等しい",
			amount: 50000,
			mutate: []func(*payment.Authorization){func(a *payment.Authorization) {
				a.ValidAfter = testNow.Unix()
			}},
			wantValid: true,
		},
		{
			name:   "異常系: ネットワークが一致しない",
			amount: 50000,
			mutate: []func(*payment.Authorization){func(a *payment.Authorization) {
				a.Network = "other-chain"
			}},
			wantReason: payment.InvalidReasonUnsupportedScheme,
		},
		{
			name:   "異常系: スキームが一致しない",
			amount: 50000,
			mutate: []func(*payment.Authorization){func(a *payment.Authorization) {
				a.Scheme = "upto"
			}},
			wantReason: payment.InvalidReasonUnsupportedScheme,
		},
		{
			name:   "異常系: まだ有効期間前",
			amount: 50000,
			mutate: []func(*payment.Authorization){func(a *payment.Authorization) {
				a.ValidAfter = testNow.Unix() + 1
			}},
			wantReason: payment.InvalidReasonNotYetValid,
		},
		{
			name:   "異常系: validBeforeが1秒前",
			amount: 50000,
			mutate: []func(*payment.Authorization){func(a *payment.Authorization) {
				a.ValidBefore = testNow.Unix() - 1
			}},
			wantReason: payment.InvalidReasonExpired,
		},
		{
			name:   "異常系: 受取先が一致しない",
			amount: 50000,
			mutate: []func(*payment.Authorization){func(a *payment.Authorization) {
				a.To = common.HexToAddress("0xDEF0000000000000000000000000000000000DEF")
			}},
			wantReason: payment.InvalidReasonRecipientMismatch,
		},
		{
			name:       "異常系: 金額不足",
			amount:     40000,
			wantReason: payment.InvalidReasonAmountMismatch,
		},
		{
			name:   "異常系: レジストリ登録済みのノンス",
			amount: 50000,
			setup: func(env *testEnv, auth payment.Authorization) {
				_, _, err := env.registry.Claim(context.Background(), auth.Nonce)
				require.NoError(t, err)
			},
			wantReason: payment.InvalidReasonNonceReused,
		},
		{
			name:   "異常系: オンチェーンで使用済みのノンス",
			amount: 50000,
			setup: func(env *testEnv, auth payment.Authorization) {
				env.ledger.MarkNonceUsed(chaintest.Token, auth.From, auth.Nonce)
			},
			wantReason: payment.InvalidReasonNonceReused,
		},
		{
			name:   "異常系: 署名後に金額を改ざん",
			amount: 50000,
			afterSign: func(a *payment.Authorization) {
				a.Value = big.NewInt(90000)
			},
			wantReason: payment.InvalidReasonBadSignature,
		},
		{
			name:   "異常系: 署名の長さが不正",
			amount: 50000,
			afterSign: func(a *payment.Authorization) {
				a.Signature = a.Signature[:64]
			},
			wantReason: payment.InvalidReasonBadSignature,
		},
		{
			name:   "異常系: 残高不足",
			amount: 50000,
			setup: func(env *testEnv, _ payment.Authorization) {
				env.ledger.SetBalance(env.fixture.Payer, 49999)
			},
			wantReason: payment.InvalidReasonInsufficientBalance,
		},
		{
			name:   "異常系: 期限切れかつ受取先不一致は期限切れを返す",
			amount: 50000,
			mutate: []func(*payment.Authorization){func(a *payment.Authorization) {
				a.ValidBefore = testNow.Unix() - 10
				a.To = common.HexToAddress("0xDEF0000000000000000000000000000000000DEF")
			}},
			wantReason: payment.InvalidReasonExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			req := env.fixture.Requirements(50000)
			auth := env.fixture.Authorize(req, tt.amount, tt.mutate...)
			if tt.afterSign != nil {
				tt.afterSign(&auth)
			}
			if tt.setup != nil {
				tt.setup(env, auth)
			}

			result, err := env.service.Verify(context.Background(), req, auth)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, result.IsValid)
			assert.Equal(t, tt.wantReason, result.InvalidReason)
			assert.Equal(t, env.fixture.Payer, result.Payer)
		})
	}
}

func TestService_Verify_UnknownCapability(t *testing.T) {
	env := newTestEnv(t)
	req := env.fixture.Requirements(50000)
	req.Network = "other-chain"
	auth := env.fixture.Authorize(req, 50000)

	result, err := env.service.Verify(context.Background(), req, auth)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, payment.InvalidReasonUnsupportedScheme, result.InvalidReason)
}

func TestService_Verify_UnconfiguredAsset(t *testing.T) {
	env := newTestEnv(t)
	req := env.fixture.Requirements(50000)
	req.Asset = common.HexToAddress("0xdead00000000000000000000000000000000beef")
	env.ledger.SetBalance(env.fixture.Payer, 1_000_000)
	// 署名自体は指定されたトークンのドメインに対して正しい
	auth := env.fixture.Authorize(req, 50000)

	result, err := env.service.Verify(context.Background(), req, auth)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, payment.InvalidReasonUnsupportedScheme, result.InvalidReason)
}

func TestService_Verify_DoesNotMutateRegistry(t *testing.T) {
	env := newTestEnv(t)
	req := env.fixture.Requirements(50000)

	valid := env.fixture.Authorize(req, 50000)
	result, err := env.service.Verify(context.Background(), req, valid)
	require.NoError(t, err)
	require.True(t, result.IsValid)

	rejected := env.fixture.Authorize(req, 40000)
	result, err = env.service.Verify(context.Background(), req, rejected)
	require.NoError(t, err)
	require.False(t, result.IsValid)

	assert.Equal(t, 0, env.registry.Len())
	assert.Equal(t, 0, env.ledger.Submits())

	// 同じ送金許可は何度でも検証できる
	result, err = env.service.Verify(context.Background(), req, valid)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
}

func TestService_Verify_NetworkError(t *testing.T) {
	tests := []struct {
		name  string
		setup func(l *chaintest.Ledger)
	}{
		{
			name: "異常系: ノンス照会でネットワークエラー",
			setup: func(l *chaintest.Ledger) {
				l.NonceErr = &chain.NetworkError{Op: "authorizationState", Err: errors.New("connection refused")}
			},
		},
		{
			name: "異常系: 残高照会でネットワークエラー",
			setup: func(l *chaintest.Ledger) {
				l.BalanceErr = &chain.NetworkError{Op: "balanceOf", Err: errors.New("i/o timeout")}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.setup(env.ledger)
			req := env.fixture.Requirements(50000)
			auth := env.fixture.Authorize(req, 50000)

			_, err := env.service.Verify(context.Background(), req, auth)
			require.Error(t, err)
			assert.True(t, chain.IsNetworkError(err))
		})
	}
}
