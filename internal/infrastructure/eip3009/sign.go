package eip3009

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"x402-gateway/internal/domain/payment"
)

// Sign 送金許可にEIP-712署名を付与する (vは27/28)
func Sign(key *ecdsa.PrivateKey, auth payment.Authorization, d Domain) ([]byte, error) {
	digest, err := Digest(auth, d)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign authorization: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// NewNonce 暗号学的に安全なランダムノンスを生成
func NewNonce() (payment.Nonce, error) {
	var n payment.Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return n, nil
}
