package eip3009

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x402-gateway/internal/domain/payment"
)

var (
	testRecipient = common.HexToAddress("0xABC0000000000000000000000000000000000abc")
	testToken     = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
)

func testDomain() Domain {
	return Domain{
		Name:              "USDC",
		Version:           "2",
		ChainID:           1337,
		VerifyingContract: testToken,
	}
}

func signedAuthorization(t *testing.T) payment.Authorization {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	nonce, err := NewNonce()
	require.NoError(t, err)

	auth := payment.Authorization{
		Scheme:      payment.SchemeExact,
		Network:     "test-chain",
		From:        crypto.PubkeyToAddress(key.PublicKey),
		To:          testRecipient,
		Value:       big.NewInt(50000),
		ValidAfter:  1700000000,
		ValidBefore: 1700000300,
		Nonce:       nonce,
	}
	sig, err := Sign(key, auth, testDomain())
	require.NoError(t, err)
	auth.Signature = sig
	return auth
}

func TestSignAndRecover(t *testing.T) {
	auth := signedAuthorization(t)

	assert.Len(t, auth.Signature, payment.SignatureLength)
	assert.Contains(t, []byte{27, 28}, auth.Signature[64])

	recovered, err := RecoverSigner(auth, testDomain())
	require.NoError(t, err)
	assert.Equal(t, auth.From, recovered)
}

func TestRecoverSigner_AcceptsZeroBasedRecoveryID(t *testing.T) {
	auth := signedAuthorization(t)
	auth.Signature[64] -= 27

	recovered, err := RecoverSigner(auth, testDomain())
	require.NoError(t, err)
	assert.Equal(t, auth.From, recovered)
}

func TestRecoverSigner_DoesNotMutateSignature(t *testing.T) {
	auth := signedAuthorization(t)
	before := append([]byte(nil), auth.Signature...)

	_, err := RecoverSigner(auth, testDomain())
	require.NoError(t, err)
	assert.Equal(t, before, auth.Signature)
}

func TestRecoverSigner_MutatedFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *payment.Authorization, d *Domain)
	}{
		{
			name:   "金額の改ざん",
			mutate: func(a *payment.Authorization, d *Domain) { a.Value = big.NewInt(50001) },
		},
		{
			name: "受取人の改ざん",
			mutate: func(a *payment.Authorization, d *Domain) {
				a.To = common.HexToAddress("0x0000000000000000000000000000000000000bad")
			},
		},
		{
			name:   "ノンスの改ざん",
			mutate: func(a *payment.Authorization, d *Domain) { a.Nonce[0] ^= 0xff },
		},
		{
			name:   "validAfterの改ざん",
			mutate: func(a *payment.Authorization, d *Domain) { a.ValidAfter-- },
		},
		{
			name:   "validBeforeの改ざん",
			mutate: func(a *payment.Authorization, d *Domain) { a.ValidBefore += 3600 },
		},
		{
			name:   "チェーンIDの違い",
			mutate: func(a *payment.Authorization, d *Domain) { d.ChainID = 1 },
		},
		{
			name: "トークンコントラクトの違い",
			mutate: func(a *payment.Authorization, d *Domain) {
				d.VerifyingContract = common.HexToAddress("0x1111111111111111111111111111111111111111")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := signedAuthorization(t)
			d := testDomain()
			tt.mutate(&auth, &d)

			recovered, err := RecoverSigner(auth, d)
			require.Error(t, err)
			assert.NotEqual(t, auth.From, recovered)

			var sigErr *SignatureError
			require.True(t, errors.As(err, &sigErr))
			assert.Equal(t, auth.From, sigErr.Claimed)
		})
	}
}

func TestRecoverSigner_MalformedSignature(t *testing.T) {
	tests := []struct {
		name      string
		signature func(sig []byte) []byte
	}{
		{
			name:      "長さ不足",
			signature: func(sig []byte) []byte { return sig[:64] },
		},
		{
			name:      "空の署名",
			signature: func(sig []byte) []byte { return nil },
		},
		{
			name: "不正なリカバリID",
			signature: func(sig []byte) []byte {
				out := append([]byte(nil), sig...)
				out[64] = 35
				return out
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := signedAuthorization(t)
			auth.Signature = tt.signature(auth.Signature)

			_, err := RecoverSigner(auth, testDomain())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedSignature))
		})
	}
}

func TestDigest_Deterministic(t *testing.T) {
	auth := signedAuthorization(t)

	d1, err := Digest(auth, testDomain())
	require.NoError(t, err)
	d2, err := Digest(auth.Clone(), testDomain())
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 32)
}

func TestNewNonce_Unique(t *testing.T) {
	seen := make(map[payment.Nonce]struct{})
	for i := 0; i < 100; i++ {
		n, err := NewNonce()
		require.NoError(t, err)
		_, dup := seen[n]
		require.False(t, dup)
		seen[n] = struct{}{}
	}
}

func TestDomainFor(t *testing.T) {
	req := payment.Requirements{
		Asset:        testToken,
		TokenName:    "USDC",
		TokenVersion: "2",
	}
	d := DomainFor(req, payment.Capability{Scheme: payment.SchemeExact, Network: "test-chain", ChainID: 1337})

	assert.Equal(t, testDomain(), d)
}
