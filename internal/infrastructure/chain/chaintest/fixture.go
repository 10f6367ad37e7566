package chaintest

import (
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"x402-gateway/internal/domain/payment"
	"x402-gateway/internal/infrastructure/eip3009"
)

const (
	// Network テスト用ネットワーク
	Network payment.Network = "test-chain"
	// ChainID テスト用チェーンID
	ChainID int64 = 1337

	payerKeyHex = "8f2a55949038a9610f50fb23b5883af3b4ecb3c3bb792cbcefbd1542c692be63"
)

var (
	// PayTo テスト用の受取先
	PayTo = common.HexToAddress("0xABC0000000000000000000000000000000000ABC")
	// Token テスト用のトークンコントラクト
	Token = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
)

// Fixture 署名済み送金許可を作るためのテストデータ
type Fixture struct {
	Key   *ecdsa.PrivateKey
	Payer common.Address
	Now   time.Time
}

// NewFixture 固定鍵のFixtureを作成
func NewFixture(now time.Time) *Fixture {
	key, err := crypto.HexToECDSA(payerKeyHex)
	if err != nil {
		panic(err)
	}
	return &Fixture{
		Key:   key,
		Payer: crypto.PubkeyToAddress(key.PublicKey),
		Now:   now,
	}
}

// Capability テスト用の機能
func (f *Fixture) Capability() payment.Capability {
	return payment.Capability{Scheme: payment.SchemeExact, Network: Network, ChainID: ChainID, Asset: Token}
}

// Capabilities テスト用の対応表
func (f *Fixture) Capabilities() *payment.Capabilities {
	caps, err := payment.NewCapabilities(f.Capability())
	if err != nil {
		panic(err)
	}
	return caps
}

// Requirements 指定金額の支払い条件
func (f *Fixture) Requirements(amount int64) payment.Requirements {
	return payment.Requirements{
		Scheme:       payment.SchemeExact,
		Network:      Network,
		Amount:       big.NewInt(amount),
		PayTo:        PayTo,
		Asset:        Token,
		Resource:     "/weather",
		Description:  "weather report",
		MimeType:     "application/json",
		MaxTimeout:   time.Minute,
		ExpiresAt:    f.Now.Add(time.Minute),
		TokenName:    "USDC",
		TokenVersion: "2",
	}
}

// Domain 支払い条件に対応するEIP-712ドメイン
func (f *Fixture) Domain(req payment.Requirements) eip3009.Domain {
	return eip3009.DomainFor(req, f.Capability())
}

// Authorize 支払い条件に対する署名済み送金許可を作成
//
// mutateは署名前に適用される。
func (f *Fixture) Authorize(req payment.Requirements, amount int64, mutate ...func(*payment.Authorization)) payment.Authorization {
	n, err := eip3009.NewNonce()
	if err != nil {
		panic(err)
	}
	auth := payment.Authorization{
		Scheme:      req.Scheme,
		Network:     req.Network,
		From:        f.Payer,
		To:          req.PayTo,
		Value:       big.NewInt(amount),
		ValidAfter:  f.Now.Unix(),
		ValidBefore: f.Now.Add(300 * time.Second).Unix(),
		Nonce:       n,
	}
	for _, m := range mutate {
		m(&auth)
	}
	sig, err := eip3009.Sign(f.Key, auth, f.Domain(req))
	if err != nil {
		panic(err)
	}
	auth.Signature = sig
	return auth
}
