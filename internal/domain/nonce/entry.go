package nonce

import (
	"time"

	"x402-gateway/internal/domain/payment"
)

// Status レジストリエントリの状態
type Status string

const (
	StatusPending  Status = "pending"  // 決済処理中
	StatusResolved Status = "resolved" // 結果確定
)

// String 文字列表現を返す
func (s Status) String() string {
	return string(s)
}

// Entry ノンスに対応する決済結果
type Entry struct {
	Nonce     payment.Nonce
	Status    Status
	Receipt   payment.SettlementReceipt
	ClaimedAt time.Time
}

// Resolved 結果が確定しているかどうかを返す
func (e Entry) Resolved() bool {
	return e.Status == StatusResolved
}
