package payment

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger 決済に使用するブロックチェーン台帳へのアクセス
type Ledger interface {
	// GetBalance トークン残高を取得
	GetBalance(ctx context.Context, account, token common.Address) (*big.Int, error)

	// IsNonceUsedOnChain ノンスがオンチェーンで使用済みかどうかを取得
	IsNonceUsedOnChain(ctx context.Context, token, payer common.Address, nonce Nonce) (bool, error)

	// SubmitTransfer 送金許可をトランザクションとして送信 (確認は待たない)
	SubmitTransfer(ctx context.Context, auth Authorization, token common.Address) (common.Hash, error)

	// AwaitConfirmation トランザクションの確認を待つ
	AwaitConfirmation(ctx context.Context, txHash common.Hash, timeout time.Duration) (Confirmation, error)
}
