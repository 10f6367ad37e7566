package gateway

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"x402-gateway/internal/domain/payment"
)

// ParsePrice 価格表記 ("0.05", "$0.05") をトークンの最小単位に変換
//
// 最小単位で割り切れない価格は受け付けない。
func ParsePrice(price string, decimals int32) (*big.Int, error) {
	s := strings.TrimSpace(price)
	s = strings.TrimPrefix(s, "$")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: price %q", payment.ErrInvalidAmount, price)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("%w: price %q must be positive", payment.ErrInvalidAmount, price)
	}

	units := d.Shift(decimals)
	if !units.IsInteger() {
		return nil, fmt.Errorf("%w: price %q has more than %d decimal places", payment.ErrInvalidAmount, price, decimals)
	}
	return units.BigInt(), nil
}
