package facilitator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"x402-gateway/internal/application/settlement"
	"x402-gateway/internal/application/verification"
	"x402-gateway/internal/domain/payment"
	"x402-gateway/internal/infrastructure/chain"
	"x402-gateway/internal/infrastructure/chain/chaintest"
	otelinfra "x402-gateway/internal/infrastructure/observability/otel"
	"x402-gateway/internal/infrastructure/persistence/memory"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	service *Service
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
		SubmitRetries:        2,
		RetryInitialInterval: time.Millisecond,
	}, logger, metrics)

	return &testEnv{
		service: NewService(verifier, settler, ledger, fixture.Capabilities(), logger),
		ledger:  ledger,
		fixture: fixture,
	}
}

func TestService_EndToEnd(t *testing.T) {
	t.Run("正常系: 検証して決済", func(t *testing.T) {
		env := newTestEnv(t)
		req := env.fixture.Requirements(50000)
		auth := env.fixture.Authorize(req, 50000)

		result, err := env.service.Verify(context.Background(), req, auth)
		require.NoError(t, err)
		assert.True(t, result.IsValid)
		assert.Equal(t, env.fixture.Payer, result.Payer)

		receipt, err := env.service.Settle(context.Background(), req, auth)
		require.NoError(t, err)
		assert.True(t, receipt.Success)
		assert.NotEmpty(t, receipt.Transaction)
		assert.Equal(t, 1, env.ledger.Submits())
		assert.Equal(t, int64(50000), env.ledger.BalanceOf(chaintest.PayTo).Int64())
	})

	t.Run("異常系: 金額不足は決済しない", func(t *testing.T) {
		env := newTestEnv(t)
		req := env.fixture.Requirements(50000)
		auth := env.fixture.Authorize(req, 40000)

		result, err := env.service.Verify(context.Background(), req, auth)
		require.NoError(t, err)
		assert.False(t, result.IsValid)
		assert.Equal(t, payment.InvalidReasonAmountMismatch, result.InvalidReason)

		receipt, err := env.service.Settle(context.Background(), req, auth)
		require.NoError(t, err)
		assert.False(t, receipt.Success)
		assert.Equal(t, payment.ErrorReasonInvalidPayment, receipt.ErrorReason)
		assert.Equal(t, payment.InvalidReasonAmountMismatch, receipt.InvalidReason)
		assert.Equal(t, 0, env.ledger.Submits())
	})

	t.Run("異常系: 決済済みの送金許可の再利用", func(t *testing.T) {
		env := newTestEnv(t)
		req := env.fixture.Requirements(50000)
		auth := env.fixture.Authorize(req, 50000)

		receipt, err := env.service.Settle(context.Background(), req, auth)
		require.NoError(t, err)
		require.True(t, receipt.Success)

		result, err := env.service.Verify(context.Background(), req, auth)
		require.NoError(t, err)
		assert.False(t, result.IsValid)
		assert.Equal(t, payment.InvalidReasonNonceReused, result.InvalidReason)

		replay, err := env.service.Settle(context.Background(), req, auth)
		require.NoError(t, err)
		assert.False(t, replay.Success)
		assert.Equal(t, payment.ErrorReasonAlreadySettled, replay.ErrorReason)
		assert.Empty(t, replay.InvalidReason)
		assert.Equal(t, env.fixture.Payer, replay.Payer)
		assert.Equal(t, 1, env.ledger.Submits())
	})
}

func TestService_Settle_VerifyError(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.NonceErr = &chain.NetworkError{Op: "authorizationState", Err: errors.New("dial tcp: refused")}
	req := env.fixture.Requirements(50000)
	auth := env.fixture.Authorize(req, 50000)

	_, err := env.service.Settle(context.Background(), req, auth)
	require.Error(t, err)
	assert.True(t, chain.IsNetworkError(err))
	assert.Equal(t, 0, env.ledger.Submits())
}

func TestService_Supported(t *testing.T) {
	env := newTestEnv(t)

	kinds := env.service.Supported()
	require.Len(t, kinds, 1)
	assert.Equal(t, SupportedKind{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "test-chain",
		ChainID:     chaintest.ChainID,
	}, kinds[0])
}

func TestService_TransactionStatus(t *testing.T) {
	env := newTestEnv(t)
	req := env.fixture.Requirements(50000)
	auth := env.fixture.Authorize(req, 50000)

	receipt, err := env.service.Settle(context.Background(), req, auth)
	require.NoError(t, err)

	status, err := env.service.TransactionStatus(context.Background(), common.HexToHash(receipt.Transaction))
	require.NoError(t, err)
	assert.Equal(t, payment.ConfirmationConfirmed, status)

	status, err = env.service.TransactionStatus(context.Background(), common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Equal(t, payment.ConfirmationPending, status)
}

func TestService_Health(t *testing.T) {
	env := newTestEnv(t)
	env.service.AddHealthCheck("chain", func(context.Context) error { return nil })

	report := env.service.Health(context.Background())
	assert.True(t, report.Healthy())
	assert.Equal(t, map[string]string{"chain": "ok"}, report.Checks)

	env.service.AddHealthCheck("registry", func(context.Context) error { return errors.New("db down") })
	report = env.service.Health(context.Background())
	assert.False(t, report.Healthy())
	assert.Equal(t, HealthStatusDegraded, report.Status)
	assert.Equal(t, "db down", report.Checks["registry"])
}
