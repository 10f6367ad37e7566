package payment

import "errors"

var (
	// ErrInvalidRequirements 支払い条件が不正
	ErrInvalidRequirements = errors.New("invalid payment requirements")
	// ErrInvalidAmount 金額が不正
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidNonce ノンスが不正
	ErrInvalidNonce = errors.New("invalid nonce")
	// ErrUnsupportedScheme 未対応のスキームまたはネットワーク
	ErrUnsupportedScheme = errors.New("unsupported scheme or network")
)
