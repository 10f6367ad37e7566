package nonce

import (
	"context"

	"x402-gateway/internal/domain/payment"
)

// Registry 決済に受理されたノンスを記録するレジストリ
//
// 書き込みはClaimによるアトミックなtest-and-setのみで行う。
// 検査と挿入を分けた操作は提供しない。
type Registry interface {
	// Claim ノンスが未登録なら処理中として登録しclaimed=trueを返す。
	// 登録済みなら既存のエントリとclaimed=falseを返す。
	Claim(ctx context.Context, n payment.Nonce) (entry Entry, claimed bool, err error)

	// Resolve 処理中のエントリに最終結果を一度だけ記録
	Resolve(ctx context.Context, n payment.Nonce, receipt payment.SettlementReceipt) error

	// Contains ノンスが登録済みかどうかを返す (読み取りのみ)
	Contains(ctx context.Context, n payment.Nonce) (bool, error)
}
