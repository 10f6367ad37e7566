package payment

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Requirements リソースサーバーが支払いを要求する際の条件
type Requirements struct {
	Scheme      Scheme
	Network     Network
	Amount      *big.Int
	PayTo       common.Address
	Asset       common.Address
	Resource    string
	Description string
	MimeType    string
	MaxTimeout  time.Duration
	ExpiresAt   time.Time

	// トークンのEIP-712ドメイン
	TokenName    string
	TokenVersion string
}

// Expired 指定時刻に要求が失効しているかどうかを返す
func (r Requirements) Expired(now time.Time) bool {
	if r.ExpiresAt.IsZero() {
		return false
	}
	return now.After(r.ExpiresAt)
}

// Validate 要求の必須項目を検証
func (r Requirements) Validate() error {
	if r.Scheme == "" || r.Network == "" {
		return ErrInvalidRequirements
	}
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if r.PayTo == (common.Address{}) || r.Asset == (common.Address{}) {
		return ErrInvalidRequirements
	}
	return nil
}
