package codec

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"x402-gateway/internal/domain/payment"
)

// RequirementsToWire 支払い条件をワイヤ表現に変換
func RequirementsToWire(r payment.Requirements) RequirementsWire {
	w := RequirementsWire{
		Scheme:            r.Scheme.String(),
		Network:           r.Network.String(),
		MaxAmountRequired: bigString(r.Amount),
		Resource:          r.Resource,
		Description:       r.Description,
		MimeType:          r.MimeType,
		PayTo:             r.PayTo.Hex(),
		MaxTimeoutSeconds: int64(r.MaxTimeout / time.Second),
		Asset:             r.Asset.Hex(),
	}
	if !r.ExpiresAt.IsZero() {
		w.ExpiresAt = r.ExpiresAt.Unix()
	}
	if r.TokenName != "" || r.TokenVersion != "" {
		w.Extra = &ExtraWire{Name: r.TokenName, Version: r.TokenVersion}
	}
	return w
}

// RequirementsFromWire ワイヤ表現から支払い条件を復元
func RequirementsFromWire(w RequirementsWire) (payment.Requirements, error) {
	amount, err := parseAmount("maxAmountRequired", w.MaxAmountRequired)
	if err != nil {
		return payment.Requirements{}, err
	}
	payTo, err := parseAddress("payTo", w.PayTo)
	if err != nil {
		return payment.Requirements{}, err
	}
	asset, err := parseAddress("asset", w.Asset)
	if err != nil {
		return payment.Requirements{}, err
	}
	if w.Scheme == "" {
		return payment.Requirements{}, decodeErr("scheme", "missing", nil)
	}
	if w.Network == "" {
		return payment.Requirements{}, decodeErr("network", "missing", nil)
	}
	if w.MaxTimeoutSeconds < 0 {
		return payment.Requirements{}, decodeErr("maxTimeoutSeconds", "negative", nil)
	}

	r := payment.Requirements{
		Scheme:      payment.Scheme(w.Scheme),
		Network:     payment.Network(w.Network),
		Amount:      amount,
		PayTo:       payTo,
		Asset:       asset,
		Resource:    w.Resource,
		Description: w.Description,
		MimeType:    w.MimeType,
		MaxTimeout:  time.Duration(w.MaxTimeoutSeconds) * time.Second,
	}
	if w.ExpiresAt > 0 {
		r.ExpiresAt = time.Unix(w.ExpiresAt, 0)
	}
	if w.Extra != nil {
		r.TokenName = w.Extra.Name
		r.TokenVersion = w.Extra.Version
	}
	return r, nil
}

// AuthorizationToWire 送金許可をワイヤ表現に変換
func AuthorizationToWire(a payment.Authorization) PayloadWire {
	return PayloadWire{
		X402Version: Version,
		Scheme:      a.Scheme.String(),
		Network:     a.Network.String(),
		Payload: ExactPayloadWire{
			Signature: "0x" + hex.EncodeToString(a.Signature),
			Authorization: AuthorizationWire{
				From:        a.From.Hex(),
				To:          a.To.Hex(),
				Value:       bigString(a.Value),
				ValidAfter:  strconv.FormatInt(a.ValidAfter, 10),
				ValidBefore: strconv.FormatInt(a.ValidBefore, 10),
				Nonce:       a.Nonce.Hex(),
			},
		},
	}
}

// AuthorizationFromWire ワイヤ表現から送金許可を復元
func AuthorizationFromWire(w PayloadWire) (payment.Authorization, error) {
	if w.X402Version != Version {
		return payment.Authorization{}, decodeErrf("x402Version", "unsupported version %d", w.X402Version)
	}
	if w.Scheme == "" {
		return payment.Authorization{}, decodeErr("scheme", "missing", nil)
	}
	if w.Network == "" {
		return payment.Authorization{}, decodeErr("network", "missing", nil)
	}

	aw := w.Payload.Authorization
	from, err := parseAddress("authorization.from", aw.From)
	if err != nil {
		return payment.Authorization{}, err
	}
	to, err := parseAddress("authorization.to", aw.To)
	if err != nil {
		return payment.Authorization{}, err
	}
	value, err := parseAmount("authorization.value", aw.Value)
	if err != nil {
		return payment.Authorization{}, err
	}
	validAfter, err := parseTimestamp("authorization.validAfter", aw.ValidAfter)
	if err != nil {
		return payment.Authorization{}, err
	}
	validBefore, err := parseTimestamp("authorization.validBefore", aw.ValidBefore)
	if err != nil {
		return payment.Authorization{}, err
	}
	nonce, err := payment.ParseNonce(aw.Nonce)
	if err != nil {
		return payment.Authorization{}, decodeErr("authorization.nonce", "", err)
	}
	sig, err := parseSignature(w.Payload.Signature)
	if err != nil {
		return payment.Authorization{}, err
	}

	return payment.Authorization{
		Scheme:      payment.Scheme(w.Scheme),
		Network:     payment.Network(w.Network),
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
		Signature:   sig,
	}, nil
}

// ReceiptToWire 決済結果をワイヤ表現に変換
func ReceiptToWire(r payment.SettlementReceipt) ReceiptWire {
	w := ReceiptWire{
		Success:       r.Success,
		Transaction:   r.Transaction,
		Network:       r.Network.String(),
		ErrorReason:   r.ErrorReason.String(),
		InvalidReason: r.InvalidReason.String(),
	}
	if r.Payer != (common.Address{}) {
		w.Payer = r.Payer.Hex()
	}
	if r.Amount != nil {
		w.Amount = r.Amount.String()
	}
	return w
}

// ReceiptFromWire ワイヤ表現から決済結果を復元
func ReceiptFromWire(w ReceiptWire) (payment.SettlementReceipt, error) {
	r := payment.SettlementReceipt{
		Success:       w.Success,
		Transaction:   w.Transaction,
		Network:       payment.Network(w.Network),
		ErrorReason:   payment.ErrorReason(w.ErrorReason),
		InvalidReason: payment.InvalidReason(w.InvalidReason),
	}
	if w.Payer != "" {
		payer, err := parseAddress("payer", w.Payer)
		if err != nil {
			return payment.SettlementReceipt{}, err
		}
		r.Payer = payer
	}
	if w.Amount != "" {
		amount, err := parseAmount("amount", w.Amount)
		if err != nil {
			return payment.SettlementReceipt{}, err
		}
		r.Amount = amount
	}
	return r, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, decodeErrf(field, "invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, decodeErr(field, "missing", nil)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, decodeErrf(field, "invalid integer %q", s)
	}
	if v.Sign() < 0 {
		return nil, decodeErr(field, "negative", nil)
	}
	return v, nil
}

func parseTimestamp(field, s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, decodeErr(field, "invalid timestamp", err)
	}
	if v < 0 {
		return 0, decodeErr(field, "negative", nil)
	}
	return v, nil
}

func parseSignature(s string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, decodeErr("payload.signature", "invalid hex", err)
	}
	if len(b) != payment.SignatureLength {
		return nil, decodeErrf("payload.signature", "expected %d bytes, got %d", payment.SignatureLength, len(b))
	}
	return b, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
