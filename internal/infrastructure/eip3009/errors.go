package eip3009

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrMalformedSignature 署名の形式が不正
	ErrMalformedSignature = errors.New("malformed signature")
	// ErrSignerMismatch 復元したアドレスが支払者と一致しない
	ErrSignerMismatch = errors.New("signer does not match payer")
)

// SignatureError 署名検証の失敗
type SignatureError struct {
	Claimed   common.Address
	Recovered common.Address
	Err       error
}

func (e *SignatureError) Error() string {
	if errors.Is(e.Err, ErrSignerMismatch) {
		return fmt.Sprintf("signature error: recovered %s, claimed %s", e.Recovered.Hex(), e.Claimed.Hex())
	}
	return fmt.Sprintf("signature error: %v", e.Err)
}

func (e *SignatureError) Unwrap() error {
	return e.Err
}
