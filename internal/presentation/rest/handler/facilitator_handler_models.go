package handler

// SettleResponse /settleのレスポンス
// @Description 決済結果 (X-PAYMENT-RESPONSEと同じ形)
type SettleResponse struct {
	Success       bool   `json:"success" example:"true"`
	ErrorReason   string `json:"errorReason,omitempty" example:"timeout_awaiting_confirmation"`
	InvalidReason string `json:"invalidReason,omitempty" example:"amount_mismatch"`
	Transaction   string `json:"transaction,omitempty" example:"0x5f2c..."`
	Network       string `json:"network" example:"base-sepolia"`
	Payer         string `json:"payer,omitempty" example:"0x1230000000000000000000000000000000000123"`
	Amount        string `json:"amount,omitempty" example:"50000"`
}

// TransactionStatusResponse トランザクション状態レスポンス
// @Description トランザクション状態
type TransactionStatusResponse struct {
	Transaction string `json:"transaction" example:"0x5f2c..."`
	Status      string `json:"status" example:"confirmed" enums:"pending,confirmed,reverted"`
}

// HealthResponse ヘルスチェックレスポンス
// @Description ヘルスチェック結果
type HealthResponse struct {
	Status string            `json:"status" example:"ok" enums:"ok,degraded"`
	Checks map[string]string `json:"checks,omitempty"`
}

// InfoResponse サービス情報レスポンス
// @Description サービス情報
type InfoResponse struct {
	Service     string   `json:"service" example:"x402-facilitator"`
	X402Version int      `json:"x402Version" example:"1"`
	Endpoints   []string `json:"endpoints"`
}
