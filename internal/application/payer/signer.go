// Package payer 402応答に対して送金許可を作成し、リクエストを再送するクライアント側の実装
package payer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"x402-gateway/internal/domain/payment"
	"x402-gateway/internal/infrastructure/eip3009"
)

// Signer 支払者の鍵で送金許可に署名する
type Signer struct {
	key          *ecdsa.PrivateKey
	address      common.Address
	capabilities *payment.Capabilities
	window       time.Duration
	maxAmount    *big.Int
	now          func() time.Time
}

// NewSigner 新しいSignerを作成
//
// windowは送金許可の有効期間 (validBefore - validAfter)。
func NewSigner(key *ecdsa.PrivateKey, capabilities *payment.Capabilities, window time.Duration) *Signer {
	return &Signer{
		key:          key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		capabilities: capabilities,
		window:       window,
		now:          time.Now,
	}
}

// NewSignerFromHex 16進の秘密鍵からSignerを作成
func NewSignerFromHex(hexKey string, capabilities *payment.Capabilities, window time.Duration) (*Signer, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(hexKey))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewSigner(key, capabilities, window), nil
}

// WithClock 時刻の取得元を差し替える
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// WithMaxAmount 1回の支払いの上限額を設定 (最小単位)
func (s *Signer) WithMaxAmount(limit *big.Int) *Signer {
	s.maxAmount = limit
	return s
}

// Address 支払者のアドレス
func (s *Signer) Address() common.Address {
	return s.address
}

// Choose 署名できる最初の支払い条件を返す
func (s *Signer) Choose(accepts []payment.Requirements) (payment.Requirements, error) {
	var lastErr error = ErrNoAcceptableRequirements
	for _, req := range accepts {
		if err := s.check(req); err != nil {
			lastErr = err
			continue
		}
		return req, nil
	}
	return payment.Requirements{}, lastErr
}

// Sign 支払い条件に対する署名済み送金許可を作成
func (s *Signer) Sign(req payment.Requirements) (payment.Authorization, error) {
	if err := s.check(req); err != nil {
		return payment.Authorization{}, err
	}
	capability, _ := s.capabilities.Lookup(req.Scheme, req.Network)

	nonce, err := eip3009.NewNonce()
	if err != nil {
		return payment.Authorization{}, err
	}

	now := s.now()
	auth := payment.Authorization{
		Scheme:      req.Scheme,
		Network:     req.Network,
		From:        s.address,
		To:          req.PayTo,
		Value:       new(big.Int).Set(req.Amount),
		ValidAfter:  now.Unix(),
		ValidBefore: now.Add(s.window).Unix(),
		Nonce:       nonce,
	}

	sig, err := eip3009.Sign(s.key, auth, eip3009.DomainFor(req, capability))
	if err != nil {
		return payment.Authorization{}, err
	}
	auth.Signature = sig
	return auth, nil
}

func (s *Signer) check(req payment.Requirements) error {
	cp, ok := s.capabilities.Lookup(req.Scheme, req.Network)
	if !ok {
		return fmt.Errorf("%w: %s/%s", payment.ErrUnsupportedScheme, req.Scheme, req.Network)
	}
	if !cp.AcceptsAsset(req.Asset) {
		return fmt.Errorf("%w: asset %s", payment.ErrUnsupportedScheme, req.Asset.Hex())
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if req.Expired(s.now()) {
		return ErrChallengeExpired
	}
	if s.maxAmount != nil && req.Amount.Cmp(s.maxAmount) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrAmountExceedsLimit, req.Amount, s.maxAmount)
	}
	return nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
