package payment

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NonceLength EIP-3009ノンスのバイト長
const NonceLength = 32

// SignatureLength 署名 (r || s || v) のバイト長
const SignatureLength = 65

// Nonce 一度だけ使用できるランダムな32バイト値
type Nonce [NonceLength]byte

// ParseNonce 0x付き16進文字列からNonceを作成
func ParseNonce(s string) (Nonce, error) {
	var n Nonce
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrInvalidNonce, err)
	}
	if len(b) != NonceLength {
		return n, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidNonce, NonceLength, len(b))
	}
	copy(n[:], b)
	return n, nil
}

// Hex 0x付き小文字16進表現を返す
func (n Nonce) Hex() string {
	return "0x" + hex.EncodeToString(n[:])
}

// String 文字列表現を返す
func (n Nonce) String() string {
	return n.Hex()
}

// Authorization 支払者が署名した送金許可
type Authorization struct {
	Scheme      Scheme
	Network     Network
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  int64
	ValidBefore int64
	Nonce       Nonce
	Signature   []byte
}

// ValidAfterTime validAfterを時刻として返す
func (a Authorization) ValidAfterTime() time.Time {
	return time.Unix(a.ValidAfter, 0)
}

// ValidBeforeTime validBeforeを時刻として返す
func (a Authorization) ValidBeforeTime() time.Time {
	return time.Unix(a.ValidBefore, 0)
}

// Clone 署名を含む深いコピーを返す
func (a Authorization) Clone() Authorization {
	out := a
	if a.Value != nil {
		out.Value = new(big.Int).Set(a.Value)
	}
	if a.Signature != nil {
		out.Signature = append([]byte(nil), a.Signature...)
	}
	return out
}
