package payment

import "github.com/ethereum/go-ethereum/common"

// InvalidReason 検証失敗理由
type InvalidReason string

const (
	InvalidReasonUnsupportedScheme   InvalidReason = "unsupported_scheme"
	InvalidReasonNotYetValid         InvalidReason = "not_yet_valid"
	InvalidReasonExpired             InvalidReason = "expired"
	InvalidReasonRecipientMismatch   InvalidReason = "recipient_mismatch"
	InvalidReasonAmountMismatch      InvalidReason = "amount_mismatch"
	InvalidReasonNonceReused         InvalidReason = "nonce_reused"
	InvalidReasonBadSignature        InvalidReason = "bad_signature"
	InvalidReasonInsufficientBalance InvalidReason = "insufficient_balance"
)

// String 文字列表現を返す
func (r InvalidReason) String() string {
	return string(r)
}

// Valid 定義済みの理由かどうかを返す
func (r InvalidReason) Valid() bool {
	switch r {
	case InvalidReasonUnsupportedScheme, InvalidReasonNotYetValid, InvalidReasonExpired,
		InvalidReasonRecipientMismatch, InvalidReasonAmountMismatch, InvalidReasonNonceReused,
		InvalidReasonBadSignature, InvalidReasonInsufficientBalance:
		return true
	default:
		return false
	}
}

// VerificationResult 検証結果
type VerificationResult struct {
	IsValid       bool
	Payer         common.Address
	InvalidReason InvalidReason
}

// Accept 有効な検証結果を作成
func Accept(payer common.Address) VerificationResult {
	return VerificationResult{IsValid: true, Payer: payer}
}

// Reject 無効な検証結果を作成
func Reject(payer common.Address, reason InvalidReason) VerificationResult {
	return VerificationResult{IsValid: false, Payer: payer, InvalidReason: reason}
}
