package memory

import (
	"context"
	"sync"
	"time"

	"x402-gateway/internal/domain/nonce"
	"x402-gateway/internal/domain/payment"
)

// NonceRegistry プロセス内のノンスレジストリ
//
// エントリはプロセスが終了するまで削除しない。
type NonceRegistry struct {
	mu      sync.Mutex
	entries map[payment.Nonce]nonce.Entry
	now     func() time.Time
}

// NewNonceRegistry 新しいNonceRegistryを作成
func NewNonceRegistry() *NonceRegistry {
	return &NonceRegistry{
		entries: make(map[payment.Nonce]nonce.Entry),
		now:     time.Now,
	}
}

// Claim ノンスをアトミックに登録
func (r *NonceRegistry) Claim(ctx context.Context, n payment.Nonce) (nonce.Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[n]; ok {
		return existing, false, nil
	}
	entry := nonce.Entry{
		Nonce:     n,
		Status:    nonce.StatusPending,
		ClaimedAt: r.now(),
	}
	r.entries[n] = entry
	return entry, true, nil
}

// Resolve 処理中のエントリに結果を記録
func (r *NonceRegistry) Resolve(ctx context.Context, n payment.Nonce, receipt payment.SettlementReceipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[n]
	if !ok {
		return nonce.ErrNotClaimed
	}
	if entry.Resolved() {
		return nonce.ErrAlreadyResolved
	}
	entry.Status = nonce.StatusResolved
	entry.Receipt = receipt
	r.entries[n] = entry
	return nil
}

// Contains ノンスが登録済みかどうかを返す
func (r *NonceRegistry) Contains(ctx context.Context, n payment.Nonce) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.entries[n]
	return ok, nil
}

// Len 登録済みのノンス数を返す
func (r *NonceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
