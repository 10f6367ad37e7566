package handler

import (
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"

	facilitatorapp "x402-gateway/internal/application/facilitator"
	"x402-gateway/internal/infrastructure/codec"
)

// FacilitatorHandler ファシリテーターAPIハンドラー
type FacilitatorHandler struct {
	service *facilitatorapp.Service
}

// NewFacilitatorHandler 新しいFacilitatorHandlerを作成
func NewFacilitatorHandler(service *facilitatorapp.Service) *FacilitatorHandler {
	return &FacilitatorHandler{
		service: service,
	}
}

// Verify 送金許可の検証ハンドラー
// @Summary 送金許可を検証
// @Description 署名・期限・金額・受取先・ノンス・残高を検証します。トランザクションは送信しません
// @Tags facilitator
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body codec.FacilitatorRequestWire true "検証リクエスト"
// @Success 200 {object} codec.VerifyResponseWire "検証結果"
// @Failure 400 {object} middleware.ErrorResponse "不正なリクエスト"
// @Failure 401 {object} middleware.ErrorResponse "認証エラー"
// @Failure 503 {object} middleware.ErrorResponse "チェーンに接続できない"
// @Router /verify [post]
func (h *FacilitatorHandler) Verify(c echo.Context) error {
	var body codec.FacilitatorRequestWire
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	req, auth, err := codec.DecodeFacilitatorRequest(body)
	if err != nil {
		return err
	}

	result, err := h.service.Verify(c.Request().Context(), req, auth)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, codec.VerificationToWire(result))
}

// Settle 送金許可の決済ハンドラー
// @Summary 送金許可を決済
// @Description 再検証した上でtransferWithAuthorizationを送信し、確認を待ちます
// @Tags facilitator
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body codec.FacilitatorRequestWire true "決済リクエスト"
// @Success 200 {object} SettleResponse "決済結果"
// @Failure 400 {object} middleware.ErrorResponse "不正なリクエスト"
// @Failure 401 {object} middleware.ErrorResponse "認証エラー"
// @Failure 503 {object} middleware.ErrorResponse "チェーンに接続できない"
// @Router /settle [post]
func (h *FacilitatorHandler) Settle(c echo.Context) error {
	var body codec.FacilitatorRequestWire
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	req, auth, err := codec.DecodeFacilitatorRequest(body)
	if err != nil {
		return err
	}

	receipt, err := h.service.Settle(c.Request().Context(), req, auth)
	if err != nil {
		return err
	}

	w := codec.ReceiptToWire(receipt)
	return c.JSON(http.StatusOK, SettleResponse{
		Success:       w.Success,
		ErrorReason:   w.ErrorReason,
		InvalidReason: w.InvalidReason,
		Transaction:   w.Transaction,
		Network:       w.Network,
		Payer:         w.Payer,
		Amount:        w.Amount,
	})
}

// Supported 対応方式一覧ハンドラー
// @Summary 対応している支払い方式
// @Tags facilitator
// @Produce json
// @Success 200 {object} codec.SupportedWire "対応方式一覧"
// @Router /supported [get]
func (h *FacilitatorHandler) Supported(c echo.Context) error {
	kinds := h.service.Supported()
	resp := codec.SupportedWire{Kinds: make([]codec.SupportedKindWire, 0, len(kinds))}
	for _, k := range kinds {
		resp.Kinds = append(resp.Kinds, codec.SupportedKindWire{
			X402Version: k.X402Version,
			Scheme:      k.Scheme,
			Network:     k.Network,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// TransactionStatus トランザクション状態ハンドラー
// @Summary 送信済みトランザクションの状態
// @Description 確認待ちでタイムアウトした決済の追跡に使います
// @Tags facilitator
// @Produce json
// @Param hash path string true "トランザクションハッシュ"
// @Success 200 {object} TransactionStatusResponse "状態"
// @Failure 400 {object} middleware.ErrorResponse "不正なハッシュ"
// @Router /transactions/{hash} [get]
func (h *FacilitatorHandler) TransactionStatus(c echo.Context) error {
	param := c.Param("hash")
	if !isTxHash(param) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid transaction hash")
	}
	hash := common.HexToHash(param)

	status, err := h.service.TransactionStatus(c.Request().Context(), hash)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, TransactionStatusResponse{
		Transaction: hash.Hex(),
		Status:      status.String(),
	})
}

// Health ヘルスチェックハンドラー
// @Summary ヘルスチェック
// @Tags system
// @Produce json
// @Success 200 {object} HealthResponse "正常"
// @Failure 503 {object} HealthResponse "依存先の異常"
// @Router /health [get]
func (h *FacilitatorHandler) Health(c echo.Context) error {
	report := h.service.Health(c.Request().Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, HealthResponse{
		Status: report.Status,
		Checks: report.Checks,
	})
}

// Info サービス情報ハンドラー
// @Summary サービス情報
// @Tags system
// @Produce json
// @Success 200 {object} InfoResponse "サービス情報"
// @Router / [get]
func (h *FacilitatorHandler) Info(c echo.Context) error {
	return c.JSON(http.StatusOK, InfoResponse{
		Service:     "x402-facilitator",
		X402Version: codec.Version,
		Endpoints: []string{
			"POST /verify",
			"POST /settle",
			"GET /supported",
			"GET /transactions/:hash",
			"GET /health",
		},
	})
}

func isTxHash(s string) bool {
	raw := strings.TrimPrefix(s, "0x")
	if len(raw) != common.HashLength*2 {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}
