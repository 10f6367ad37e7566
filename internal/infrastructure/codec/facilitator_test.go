package codec

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x402-gateway/internal/domain/payment"
)

func TestDecodeFacilitatorRequest(t *testing.T) {
	auth := testAuthorization(t)
	req := testRequirements()
	header, err := EncodeAuthorization(auth)
	require.NoError(t, err)

	tests := []struct {
		name      string
		wire      func() FacilitatorRequestWire
		wantField string
	}{
		{
			name: "正常系: paymentPayload",
			wire: func() FacilitatorRequestWire { return NewFacilitatorRequest(req, auth) },
		},
		{
			name: "正常系: paymentHeader",
			wire: func() FacilitatorRequestWire {
				return FacilitatorRequestWire{
					X402Version:         Version,
					PaymentHeader:       header,
					PaymentRequirements: RequirementsToWire(req),
				}
			},
		},
		{
			name: "異常系: バージョン違い",
			wire: func() FacilitatorRequestWire {
				w := NewFacilitatorRequest(req, auth)
				w.X402Version = 2
				return w
			},
			wantField: "x402Version",
		},
		{
			name: "異常系: 送金許可がない",
			wire: func() FacilitatorRequestWire {
				w := NewFacilitatorRequest(req, auth)
				w.PaymentPayload = nil
				return w
			},
			wantField: "paymentPayload",
		},
		{
			name: "異常系: 支払い条件の金額が不正",
			wire: func() FacilitatorRequestWire {
				w := NewFacilitatorRequest(req, auth)
				w.PaymentRequirements.MaxAmountRequired = "abc"
				return w
			},
			wantField: "maxAmountRequired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// JSONを経由してもそのまま復元できること
			data, err := json.Marshal(tt.wire())
			require.NoError(t, err)
			var w FacilitatorRequestWire
			require.NoError(t, json.Unmarshal(data, &w))

			gotReq, gotAuth, err := DecodeFacilitatorRequest(w)
			if tt.wantField != "" {
				var decodeErr *DecodeError
				require.True(t, errors.As(err, &decodeErr))
				assert.Equal(t, tt.wantField, decodeErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, auth, gotAuth)
			assert.Equal(t, req.Amount, gotReq.Amount)
			assert.Equal(t, req.PayTo, gotReq.PayTo)
			assert.Equal(t, req.ExpiresAt.Unix(), gotReq.ExpiresAt.Unix())
			assert.Equal(t, req.TokenName, gotReq.TokenName)
		})
	}
}

func TestVerificationWire(t *testing.T) {
	payer := common.HexToAddress("0x1230000000000000000000000000000000000123")

	t.Run("正常系: 有効", func(t *testing.T) {
		w := VerificationToWire(payment.Accept(payer))
		assert.Equal(t, VerifyResponseWire{IsValid: true, Payer: payer.Hex()}, w)

		r, err := VerificationFromWire(w)
		require.NoError(t, err)
		assert.Equal(t, payment.Accept(payer), r)
	})

	t.Run("正常系: 無効", func(t *testing.T) {
		w := VerificationToWire(payment.Reject(payer, payment.InvalidReasonExpired))
		assert.Equal(t, "expired", w.InvalidReason)

		r, err := VerificationFromWire(w)
		require.NoError(t, err)
		assert.Equal(t, payment.Reject(payer, payment.InvalidReasonExpired), r)
	})

	t.Run("異常系: 未知の理由コード", func(t *testing.T) {
		_, err := VerificationFromWire(VerifyResponseWire{IsValid: false, InvalidReason: "whatever"})
		var decodeErr *DecodeError
		require.True(t, errors.As(err, &decodeErr))
		assert.Equal(t, "invalidReason", decodeErr.Field)
	})
}
