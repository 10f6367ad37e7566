package payment

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrorReason 決済失敗理由
type ErrorReason string

const (
	ErrorReasonSubmissionFailed            ErrorReason = "submission_failed"
	ErrorReasonTimeoutAwaitingConfirmation ErrorReason = "timeout_awaiting_confirmation"
	ErrorReasonReverted                    ErrorReason = "reverted"
	ErrorReasonAlreadySettled              ErrorReason = "already_settled"
	// ErrorReasonInvalidPayment 決済前の再検証で拒否された
	ErrorReasonInvalidPayment ErrorReason = "invalid_payment"
)

// String 文字列表現を返す
func (r ErrorReason) String() string {
	return string(r)
}

// SettlementReceipt 1つの送金許可に対する最終的な決済結果
type SettlementReceipt struct {
	Success       bool
	Transaction   string
	Amount        *big.Int
	Network       Network
	Payer         common.Address
	ErrorReason   ErrorReason
	InvalidReason InvalidReason
}

// Pending 確認待ちのままタイムアウトした結果かどうかを返す
func (r SettlementReceipt) Pending() bool {
	return r.ErrorReason == ErrorReasonTimeoutAwaitingConfirmation
}

// Confirmation オンチェーン確認の結果
type Confirmation string

const (
	ConfirmationConfirmed Confirmation = "confirmed"
	ConfirmationReverted  Confirmation = "reverted"
	ConfirmationTimedOut  Confirmation = "timed_out"
	// ConfirmationPending まだブロックに含まれていない (状態照会のみで使用)
	ConfirmationPending Confirmation = "pending"
)

// String 文字列表現を返す
func (c Confirmation) String() string {
	return string(c)
}
