package payer

import "errors"

var (
	// ErrNoAcceptableRequirements 署名できる支払い条件が提示されていない
	ErrNoAcceptableRequirements = errors.New("no acceptable payment requirements")
	// ErrChallengeExpired 支払い条件が失効している
	ErrChallengeExpired = errors.New("payment requirements expired")
	// ErrAmountExceedsLimit 要求額が上限を超えている
	ErrAmountExceedsLimit = errors.New("requested amount exceeds limit")
	// ErrNoPaymentResponse X-PAYMENT-RESPONSEヘッダーがない
	ErrNoPaymentResponse = errors.New("no payment response header")
)
