package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	facilitatorapp "x402-gateway/internal/application/facilitator"
	"x402-gateway/internal/infrastructure/codec"
	"x402-gateway/internal/infrastructure/config"
	otelinfra "x402-gateway/internal/infrastructure/observability/otel"
	"x402-gateway/internal/presentation/rest/handler"
	restmiddleware "x402-gateway/internal/presentation/rest/middleware"
)

// Router ファシリテーターREST APIルーター
type Router struct {
	echo    *echo.Echo
	handler *handler.FacilitatorHandler
}

// NewRouter 新しいRouterを作成
func NewRouter(
	cfg *config.Config,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
	service *facilitatorapp.Service,
) *Router {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// ミドルウェアを通らなかったエラー (404など) のみ既定のハンドラーで返す
	defaultHandler := e.DefaultHTTPErrorHandler
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		defaultHandler(err, c)
	}

	setupMiddleware(e, cfg, logger, metrics)

	facilitatorHandler := handler.NewFacilitatorHandler(service)
	setupRoutes(e, cfg, logger, facilitatorHandler)

	// Swagger UI / ReDoc統合
	SetupSwagger(e)

	return &Router{
		echo:    e,
		handler: facilitatorHandler,
	}
}

// setupMiddleware ミドルウェアを設定
func setupMiddleware(e *echo.Echo, cfg *config.Config, logger *otelinfra.Logger, metrics *otelinfra.Metrics) {
	// リカバリーミドルウェア
	e.Use(middleware.Recover())

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			restmiddleware.HeaderAPIKey,
			codec.HeaderPayment,
		},
		ExposeHeaders: []string{codec.HeaderPaymentResponse},
	}))

	// リクエストIDの設定
	e.Use(middleware.RequestID())

	e.Use(restmiddleware.TracingMiddleware(cfg.OpenTelemetry.ServiceName))
	e.Use(restmiddleware.LoggingMiddleware(logger))
	e.Use(restmiddleware.MetricsMiddleware(metrics))
	e.Use(restmiddleware.SecurityHeadersMiddleware())

	// エラーハンドリングミドルウェア
	e.Use(restmiddleware.ErrorHandlerMiddleware(logger))
}

// setupRoutes ルーティングを設定
func setupRoutes(
	e *echo.Echo,
	cfg *config.Config,
	logger *otelinfra.Logger,
	h *handler.FacilitatorHandler,
) {
	// 認証不要のエンドポイント
	e.GET("/", h.Info)
	e.GET("/health", h.Health)
	e.GET("/supported", h.Supported)
	e.GET("/transactions/:hash", h.TransactionStatus)

	// verify・settleはAPIキーとJWTで保護 (いずれも設定で無効化できる)
	protected := e.Group("",
		restmiddleware.APIKeyMiddleware(&cfg.APIKey, logger),
		restmiddleware.AuthMiddleware(&cfg.JWT, logger),
	)
	protected.POST("/verify", h.Verify)
	protected.POST("/settle", h.Settle)
}

// ServeHTTP http.Handlerを実装
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.echo.ServeHTTP(w, req)
}

// Start サーバーを起動
//
// Shutdownによる停止はエラーとして扱わない。
func (r *Router) Start(address string) error {
	if err := r.echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 処理中のリクエストを待ってサーバーを停止
func (r *Router) Shutdown(ctx context.Context) error {
	return r.echo.Shutdown(ctx)
}
