package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"

	"x402-gateway/internal/domain/payment"
)

type contextKey string

const receiptKey contextKey = "x402_receipt"

// ContextKeyReceipt echo・ginのコンテキストに決済結果を格納するキー
const ContextKeyReceipt = "x402_receipt"

// ReceiptFromContext net/httpハンドラーで決済結果を取得
func ReceiptFromContext(ctx context.Context) (payment.SettlementReceipt, bool) {
	r, ok := ctx.Value(receiptKey).(payment.SettlementReceipt)
	return r, ok
}

// apply ヘッダーを書き込み、支払い済みでなければ本文も返す
func apply(w http.ResponseWriter, out Outcome) bool {
	for k, vs := range out.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if out.Paid {
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(out.StatusCode)
	_ = json.NewEncoder(w).Encode(out.Body)
	return false
}

// Handler net/http用: 支払いが済んだ場合だけnextを呼ぶ
func (g *Gateway) Handler(route Route, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := g.Process(r, route)
		if !apply(w, out) {
			return
		}
		ctx := context.WithValue(r.Context(), receiptKey, *out.Receipt)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Middleware echo用のミドルウェア
func (g *Gateway) Middleware(route Route) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			out := g.Process(c.Request(), route)
			if !apply(c.Response(), out) {
				return nil
			}
			c.Set(ContextKeyReceipt, *out.Receipt)
			return next(c)
		}
	}
}

// GinMiddleware gin用のミドルウェア
func (g *Gateway) GinMiddleware(route Route) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := g.Process(c.Request, route)
		if !apply(c.Writer, out) {
			c.Abort()
			return
		}
		c.Set(ContextKeyReceipt, *out.Receipt)
		c.Next()
	}
}
