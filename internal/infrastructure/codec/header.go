package codec

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"x402-gateway/internal/domain/payment"
)

const (
	// HeaderPayment クライアントが送金許可を載せるヘッダー
	HeaderPayment = "X-PAYMENT"
	// HeaderPaymentResponse 決済結果を返すヘッダー
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
	// HeaderPaymentRequired 支払い条件を返すヘッダー
	HeaderPaymentRequired = "X-PAYMENT-REQUIRED"
)

// EncodeRequirements 支払い条件をヘッダー用トークンにエンコード
func EncodeRequirements(r payment.Requirements) (string, error) {
	return encode(requirementsEnvelope{X402Version: Version, Requirements: RequirementsToWire(r)})
}

// DecodeRequirements ヘッダー用トークンから支払い条件をデコード
func DecodeRequirements(token string) (payment.Requirements, error) {
	var env requirementsEnvelope
	if err := decode(token, &env); err != nil {
		return payment.Requirements{}, err
	}
	if env.X402Version != Version {
		return payment.Requirements{}, decodeErrf("x402Version", "unsupported version %d", env.X402Version)
	}
	return RequirementsFromWire(env.Requirements)
}

// EncodeAuthorization 送金許可をX-PAYMENTヘッダー用トークンにエンコード
func EncodeAuthorization(a payment.Authorization) (string, error) {
	return encode(AuthorizationToWire(a))
}

// DecodeAuthorization X-PAYMENTヘッダー用トークンから送金許可をデコード
func DecodeAuthorization(token string) (payment.Authorization, error) {
	var w PayloadWire
	if err := decode(token, &w); err != nil {
		return payment.Authorization{}, err
	}
	return AuthorizationFromWire(w)
}

// EncodeReceipt 決済結果をX-PAYMENT-RESPONSEヘッダー用トークンにエンコード
func EncodeReceipt(r payment.SettlementReceipt) (string, error) {
	return encode(receiptEnvelope{X402Version: Version, ReceiptWire: ReceiptToWire(r)})
}

// DecodeReceipt X-PAYMENT-RESPONSEヘッダー用トークンから決済結果をデコード
func DecodeReceipt(token string) (payment.SettlementReceipt, error) {
	var env receiptEnvelope
	if err := decode(token, &env); err != nil {
		return payment.SettlementReceipt{}, err
	}
	if env.X402Version != Version {
		return payment.SettlementReceipt{}, decodeErrf("x402Version", "unsupported version %d", env.X402Version)
	}
	return ReceiptFromWire(env.ReceiptWire)
}

func encode(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decode(token string, v interface{}) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return decodeErr("", "empty token", nil)
	}
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return decodeErr("", "invalid base64", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return decodeErr("", "malformed payload", err)
	}
	return nil
}
