package codec

// Version サポートするプロトコルバージョン
const Version = 1

// ExtraWire トークンのEIP-712ドメイン情報
type ExtraWire struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RequirementsWire 支払い条件のワイヤ表現
type RequirementsWire struct {
	Scheme            string     `json:"scheme"`
	Network           string     `json:"network"`
	MaxAmountRequired string     `json:"maxAmountRequired"`
	Resource          string     `json:"resource"`
	Description       string     `json:"description"`
	MimeType          string     `json:"mimeType"`
	PayTo             string     `json:"payTo"`
	MaxTimeoutSeconds int64      `json:"maxTimeoutSeconds"`
	Asset             string     `json:"asset"`
	ExpiresAt         int64      `json:"expiresAt,omitempty"`
	Extra             *ExtraWire `json:"extra,omitempty"`
}

// AuthorizationWire EIP-3009送金許可のワイヤ表現
type AuthorizationWire struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactPayloadWire exactスキームのペイロード
type ExactPayloadWire struct {
	Signature     string            `json:"signature"`
	Authorization AuthorizationWire `json:"authorization"`
}

// PayloadWire X-PAYMENTヘッダーに載る支払いペイロード
type PayloadWire struct {
	X402Version int              `json:"x402Version"`
	Scheme      string           `json:"scheme"`
	Network     string           `json:"network"`
	Payload     ExactPayloadWire `json:"payload"`
}

// ReceiptWire X-PAYMENT-RESPONSEヘッダーに載る決済結果
type ReceiptWire struct {
	Success       bool   `json:"success"`
	Transaction   string `json:"transaction,omitempty"`
	Network       string `json:"network"`
	Payer         string `json:"payer,omitempty"`
	Amount        string `json:"amount,omitempty"`
	ErrorReason   string `json:"errorReason,omitempty"`
	InvalidReason string `json:"invalidReason,omitempty"`
}

// PaymentRequiredWire 402応答のボディ
type PaymentRequiredWire struct {
	X402Version int                `json:"x402Version"`
	Error       string             `json:"error"`
	Status      string             `json:"status,omitempty"`
	Accepts     []RequirementsWire `json:"accepts"`
}

type requirementsEnvelope struct {
	X402Version  int              `json:"x402Version"`
	Requirements RequirementsWire `json:"requirements"`
}

type receiptEnvelope struct {
	X402Version int `json:"x402Version"`
	ReceiptWire
}

// FacilitatorRequestWire ファシリテーターの/verify・/settleに送るリクエストボディ
//
// 送金許可はpaymentHeader (X-PAYMENTの値そのまま) かpaymentPayloadのどちらかで渡す。
type FacilitatorRequestWire struct {
	X402Version         int              `json:"x402Version"`
	PaymentHeader       string           `json:"paymentHeader,omitempty"`
	PaymentPayload      *PayloadWire     `json:"paymentPayload,omitempty"`
	PaymentRequirements RequirementsWire `json:"paymentRequirements"`
}

// VerifyResponseWire /verifyのレスポンス
type VerifyResponseWire struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SupportedKindWire 対応している支払い方式
type SupportedKindWire struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// SupportedWire /supportedのレスポンス
type SupportedWire struct {
	Kinds []SupportedKindWire `json:"kinds"`
}
