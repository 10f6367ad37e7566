package codec

import (
	"github.com/ethereum/go-ethereum/common"

	"x402-gateway/internal/domain/payment"
)

// NewFacilitatorRequest 支払い条件と送金許可からリクエストボディを作成
func NewFacilitatorRequest(req payment.Requirements, auth payment.Authorization) FacilitatorRequestWire {
	payload := AuthorizationToWire(auth)
	return FacilitatorRequestWire{
		X402Version:         Version,
		PaymentPayload:      &payload,
		PaymentRequirements: RequirementsToWire(req),
	}
}

// DecodeFacilitatorRequest リクエストボディから支払い条件と送金許可を復元
func DecodeFacilitatorRequest(w FacilitatorRequestWire) (payment.Requirements, payment.Authorization, error) {
	if w.X402Version != Version {
		return payment.Requirements{}, payment.Authorization{}, decodeErrf("x402Version", "unsupported version %d", w.X402Version)
	}

	req, err := RequirementsFromWire(w.PaymentRequirements)
	if err != nil {
		return payment.Requirements{}, payment.Authorization{}, err
	}

	var auth payment.Authorization
	switch {
	case w.PaymentPayload != nil:
		auth, err = AuthorizationFromWire(*w.PaymentPayload)
	case w.PaymentHeader != "":
		auth, err = DecodeAuthorization(w.PaymentHeader)
	default:
		err = decodeErr("paymentPayload", "missing", nil)
	}
	if err != nil {
		return payment.Requirements{}, payment.Authorization{}, err
	}
	return req, auth, nil
}

// VerificationToWire 検証結果をワイヤ表現に変換
func VerificationToWire(r payment.VerificationResult) VerifyResponseWire {
	w := VerifyResponseWire{
		IsValid:       r.IsValid,
		InvalidReason: r.InvalidReason.String(),
	}
	if r.Payer != (common.Address{}) {
		w.Payer = r.Payer.Hex()
	}
	return w
}

// VerificationFromWire ワイヤ表現から検証結果を復元
//
// 未知の理由コードはDecodeErrorとして扱う。
func VerificationFromWire(w VerifyResponseWire) (payment.VerificationResult, error) {
	r := payment.VerificationResult{
		IsValid:       w.IsValid,
		InvalidReason: payment.InvalidReason(w.InvalidReason),
	}
	if !r.IsValid && !r.InvalidReason.Valid() {
		return payment.VerificationResult{}, decodeErrf("invalidReason", "unknown reason %q", w.InvalidReason)
	}
	if w.Payer != "" {
		payer, err := parseAddress("payer", w.Payer)
		if err != nil {
			return payment.VerificationResult{}, err
		}
		r.Payer = payer
	}
	return r, nil
}
