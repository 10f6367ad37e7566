package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"x402-gateway/internal/domain/payment"
	"x402-gateway/internal/infrastructure/codec"
	"x402-gateway/internal/infrastructure/config"
	"x402-gateway/internal/infrastructure/facilitator"
	otelinfra "x402-gateway/internal/infrastructure/observability/otel"
	"x402-gateway/internal/presentation/gateway"
	restmiddleware "x402-gateway/internal/presentation/rest/middleware"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateResourceServer(); err != nil {
		log.Fatalf("Invalid resource server config: %v", err)
	}
	if !common.IsHexAddress(cfg.Gateway.PayTo) {
		log.Fatalf("GATEWAY_PAY_TO is not an address: %q", cfg.Gateway.PayTo)
	}

	// OpenTelemetryの初期化
	tracerShutdown, err := otelinfra.InitTracer(&cfg.OpenTelemetry)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(ctx); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	meterShutdown, err := otelinfra.InitMeter(&cfg.OpenTelemetry)
	if err != nil {
		log.Fatalf("Failed to initialize meter: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterShutdown(ctx); err != nil {
			log.Printf("Failed to shutdown meter: %v", err)
		}
	}()

	logger := otelinfra.NewLogger(otelinfra.Tracer("x402-resource-server"))
	metrics, err := otelinfra.NewMetrics("x402-resource-server")
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	// ファシリテータークライアントの初期化
	client := facilitator.NewClient(facilitator.Config{
		BaseURL:   cfg.Gateway.FacilitatorURL,
		APIKey:    cfg.Gateway.FacilitatorAPIKey,
		JWTSecret: cfg.Gateway.FacilitatorJWTSecret,
		JWTIssuer: cfg.JWT.Issuer,
		ClientID:  cfg.Gateway.FacilitatorClientID,
		TokenTTL:  cfg.JWT.Expiration,
		Timeout:   cfg.Gateway.FacilitatorTimeout,
		Retries:   cfg.Gateway.FacilitatorRetries,
	}, logger)

	supportCtx, supportCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if kinds, err := client.Supported(supportCtx); err != nil {
		log.Printf("Facilitator is not reachable yet: %v", err)
	} else if !supports(kinds, cfg.Chain.Network) {
		log.Printf("Facilitator does not advertise exact/%s", cfg.Chain.Network)
	}
	supportCancel()

	gw := gateway.New(client, gateway.Config{
		Network:       payment.Network(cfg.Chain.Network),
		Asset:         common.HexToAddress(cfg.Chain.TokenAddress),
		TokenName:     cfg.Chain.TokenName,
		TokenVersion:  cfg.Chain.TokenVersion,
		TokenDecimals: cfg.Chain.TokenDecimals,
		PayTo:         common.HexToAddress(cfg.Gateway.PayTo),
		MaxTimeout:    cfg.Gateway.MaxTimeout,
	}, logger)

	route := gateway.Route{
		Price:       cfg.Gateway.Price,
		Description: cfg.Gateway.Description,
		MimeType:    "application/json",
	}
	if _, err := gateway.ParsePrice(route.Price, cfg.Chain.TokenDecimals); err != nil {
		log.Fatalf("Invalid GATEWAY_PRICE: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	// 決済の確認待ちを含むため書き込みタイムアウトは長めに取る
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowHeaders:  []string{echo.HeaderContentType, codec.HeaderPayment},
		ExposeHeaders: []string{codec.HeaderPaymentResponse, codec.HeaderPaymentRequired},
	}))
	e.Use(middleware.RequestID())
	e.Use(restmiddleware.TracingMiddleware(cfg.OpenTelemetry.ServiceName))
	e.Use(restmiddleware.LoggingMiddleware(logger))
	e.Use(restmiddleware.MetricsMiddleware(metrics))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// echoアダプター
	e.GET("/weather", func(c echo.Context) error {
		receipt, _ := c.Get(gateway.ContextKeyReceipt).(payment.SettlementReceipt)
		return c.JSON(http.StatusOK, map[string]interface{}{
			"forecast":    "sunny",
			"temperature": 22,
			"paid_by":     receipt.Payer.Hex(),
			"transaction": receipt.Transaction,
		})
	}, gw.Middleware(route))

	// net/httpアダプター
	report := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receipt, _ := gateway.ReceiptFromContext(r.Context())
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "premium report for %s\n", receipt.Payer.Hex())
	})
	reportRoute := route
	reportRoute.MimeType = "text/plain"
	e.GET("/report", echo.WrapHandler(gw.Handler(reportRoute, report)))

	address := fmt.Sprintf(":%d", cfg.Gateway.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Resource server starting on %s (price %s, pay to %s)", address, route.Price, cfg.Gateway.PayTo)
		if err := e.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Resource server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down resource server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.FacilitatorTimeout+5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down resource server: %v", err)
	}

	log.Println("Resource server stopped")
}

// supports ファシリテーターが指定ネットワークのexactスキームに対応しているか
func supports(kinds []codec.SupportedKindWire, network string) bool {
	for _, k := range kinds {
		if k.Scheme == string(payment.SchemeExact) && k.Network == network {
			return true
		}
	}
	return false
}
