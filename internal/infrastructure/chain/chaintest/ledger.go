// Package chaintest はテスト用のインメモリ台帳を提供する。
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"x402-gateway/internal/domain/payment"
	"x402-gateway/internal/infrastructure/chain"
)

type nonceKey struct {
	token common.Address
	payer common.Address
	nonce payment.Nonce
}

// Ledger payment.Ledgerのインメモリ実装
//
// SubmitTransferが成功するとノンスを使用済みにし、残高を移動する。
type Ledger struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
	used     map[nonceKey]bool
	txs      map[common.Hash]payment.Confirmation

	// SubmitErrs 先頭から順にSubmitTransferのエラーとして返す
	SubmitErrs []error
	// Confirmation AwaitConfirmationが返す結果 (空ならConfirmed)
	Confirmation payment.Confirmation
	// BalanceErr GetBalanceのエラー
	BalanceErr error
	// NonceErr IsNonceUsedOnChainのエラー
	NonceErr error
	// SubmitDelay SubmitTransferの処理時間
	SubmitDelay time.Duration
	// LoseReply 次の送金は実行するが応答が失われたものとして返す
	LoseReply bool

	submits atomic.Int64
}

// NewLedger 新しいLedgerを作成
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]*big.Int),
		used:     make(map[nonceKey]bool),
		txs:      make(map[common.Hash]payment.Confirmation),
	}
}

// SetBalance 残高を設定
func (l *Ledger) SetBalance(account common.Address, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = big.NewInt(amount)
}

// MarkNonceUsed ノンスをオンチェーンで使用済みにする
func (l *Ledger) MarkNonceUsed(token, payer common.Address, n payment.Nonce) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.used[nonceKey{token: token, payer: payer, nonce: n}] = true
}

// Submits SubmitTransferが呼ばれた回数
func (l *Ledger) Submits() int {
	return int(l.submits.Load())
}

// GetBalance トークン残高を取得
func (l *Ledger) GetBalance(_ context.Context, account, _ common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.BalanceErr != nil {
		return nil, l.BalanceErr
	}
	if b, ok := l.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// IsNonceUsedOnChain ノンスが使用済みかどうかを取得
func (l *Ledger) IsNonceUsedOnChain(_ context.Context, token, payer common.Address, n payment.Nonce) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.NonceErr != nil {
		return false, l.NonceErr
	}
	return l.used[nonceKey{token: token, payer: payer, nonce: n}], nil
}

// SubmitTransfer 送金を実行
func (l *Ledger) SubmitTransfer(ctx context.Context, auth payment.Authorization, token common.Address) (common.Hash, error) {
	count := l.submits.Add(1)
	if l.SubmitDelay > 0 {
		select {
		case <-time.After(l.SubmitDelay):
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.SubmitErrs) > 0 {
		err := l.SubmitErrs[0]
		l.SubmitErrs = l.SubmitErrs[1:]
		if err != nil {
			return common.Hash{}, err
		}
	}

	key := nonceKey{token: token, payer: auth.From, nonce: auth.Nonce}
	if l.used[key] {
		return common.Hash{}, fmt.Errorf("authorization is used or canceled")
	}
	l.used[key] = true

	if from, ok := l.balances[auth.From]; ok && auth.Value != nil {
		from.Sub(from, auth.Value)
		to, ok := l.balances[auth.To]
		if !ok {
			to = new(big.Int)
			l.balances[auth.To] = to
		}
		to.Add(to, auth.Value)
	}

	hash := crypto.Keccak256Hash(auth.Nonce[:], big.NewInt(count).Bytes())
	conf := l.Confirmation
	if conf == "" {
		conf = payment.ConfirmationConfirmed
	}
	l.txs[hash] = conf
	if l.LoseReply {
		l.LoseReply = false
		return common.Hash{}, &chain.AmbiguousSendError{
			Hash: hash,
			Err:  &chain.NetworkError{Op: "send_transaction", Err: context.DeadlineExceeded},
		}
	}
	return hash, nil
}

// AwaitConfirmation 送金結果を返す
func (l *Ledger) AwaitConfirmation(_ context.Context, txHash common.Hash, _ time.Duration) (payment.Confirmation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conf, ok := l.txs[txHash]
	if !ok {
		return payment.ConfirmationTimedOut, nil
	}
	return conf, nil
}

// TransactionStatus 送金の状態を返す
func (l *Ledger) TransactionStatus(_ context.Context, txHash common.Hash) (payment.Confirmation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conf, ok := l.txs[txHash]
	if !ok || conf == payment.ConfirmationTimedOut {
		return payment.ConfirmationPending, nil
	}
	return conf, nil
}

// BalanceOf 残高を返す
func (l *Ledger) BalanceOf(account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}
