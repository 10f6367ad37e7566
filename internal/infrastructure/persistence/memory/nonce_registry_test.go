package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x402-gateway/internal/domain/nonce"
	"x402-gateway/internal/domain/payment"
)

func TestNonceRegistry_Claim(t *testing.T) {
	ctx := context.Background()
	r := NewNonceRegistry()
	n := payment.Nonce{1}

	entry, claimed, err := r.Claim(ctx, n)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, nonce.StatusPending, entry.Status)

	_, claimed, err = r.Claim(ctx, n)
	require.NoError(t, err)
	assert.False(t, claimed)

	ok, err := r.Contains(ctx, n)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Contains(ctx, payment.Nonce{2})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNonceRegistry_Resolve(t *testing.T) {
	ctx := context.Background()
	r := NewNonceRegistry()
	n := payment.Nonce{1}
	receipt := payment.SettlementReceipt{Success: true, Transaction: "0xabc"}

	assert.ErrorIs(t, r.Resolve(ctx, n, receipt), nonce.ErrNotClaimed)

	_, _, err := r.Claim(ctx, n)
	require.NoError(t, err)
	require.NoError(t, r.Resolve(ctx, n, receipt))

	// 確定済みの結果は上書きできない
	err = r.Resolve(ctx, n, payment.SettlementReceipt{ErrorReason: payment.ErrorReasonReverted})
	assert.ErrorIs(t, err, nonce.ErrAlreadyResolved)

	entry, claimed, err := r.Claim(ctx, n)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.True(t, entry.Resolved())
	assert.Equal(t, receipt, entry.Receipt)
}

func TestNonceRegistry_ConcurrentClaim(t *testing.T) {
	ctx := context.Background()
	r := NewNonceRegistry()
	n := payment.Nonce{7}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, claimed, err := r.Claim(ctx, n)
			if err == nil && claimed {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, 1, r.Len())
}
