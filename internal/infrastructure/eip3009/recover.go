package eip3009

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"x402-gateway/internal/domain/payment"
)

// RecoverSigner 署名から署名者のアドレスを復元し、支払者と一致することを確認
func RecoverSigner(auth payment.Authorization, d Domain) (common.Address, error) {
	if len(auth.Signature) != payment.SignatureLength {
		return common.Address{}, &SignatureError{
			Claimed: auth.From,
			Err:     fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, payment.SignatureLength, len(auth.Signature)),
		}
	}

	digest, err := Digest(auth, d)
	if err != nil {
		return common.Address{}, &SignatureError{Claimed: auth.From, Err: err}
	}

	// 呼び出し元の署名を書き換えないようにコピーしてvを0/1に正規化
	sig := make([]byte, payment.SignatureLength)
	copy(sig, auth.Signature)
	if sig[64] == 27 || sig[64] == 28 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, &SignatureError{
			Claimed: auth.From,
			Err:     fmt.Errorf("%w: invalid recovery id %d", ErrMalformedSignature, sig[64]),
		}
	}

	pubkey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, &SignatureError{
			Claimed: auth.From,
			Err:     fmt.Errorf("%w: %v", ErrMalformedSignature, err),
		}
	}

	recovered := crypto.PubkeyToAddress(*pubkey)
	if recovered != auth.From {
		return recovered, &SignatureError{Claimed: auth.From, Recovered: recovered, Err: ErrSignerMismatch}
	}
	return recovered, nil
}
