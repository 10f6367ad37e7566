package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"x402-gateway/internal/application/facilitator"
	"x402-gateway/internal/application/settlement"
	"x402-gateway/internal/application/verification"
	"x402-gateway/internal/domain/nonce"
	"x402-gateway/internal/domain/payment"
	"x402-gateway/internal/infrastructure/chain"
	"x402-gateway/internal/infrastructure/config"
	otelinfra "x402-gateway/internal/infrastructure/observability/otel"
	"x402-gateway/internal/infrastructure/persistence/memory"
	"x402-gateway/internal/infrastructure/persistence/mysql"
	grpcserver "x402-gateway/internal/presentation/grpc"
	"x402-gateway/internal/presentation/rest"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateFacilitator(); err != nil {
		log.Fatalf("Invalid facilitator config: %v", err)
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

	// ロガーとメトリクスの初期化
	tracer := otelinfra.Tracer("x402-facilitator")
	logger := otelinfra.NewLogger(tracer)
	metrics, err := otelinfra.NewMetrics("x402-facilitator")
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	// チェーンクライアントの初期化
	dialCtx, dialCancel := context.WithTimeout(context.Background(), cfg.Chain.RPCTimeout)
	eth, err := chain.NewEthClient(dialCtx, cfg.Chain.RPCURL)
	dialCancel()
	if err != nil {
		log.Fatalf("Failed to connect to chain RPC: %v", err)
	}

	chainCfg := chain.Config{
		ChainID:      cfg.Chain.ChainID,
		PrivateKey:   cfg.Chain.PrivateKey,
		RPCTimeout:   cfg.Chain.RPCTimeout,
		PollInterval: cfg.Chain.PollInterval,
		GasLimitCap:  cfg.Chain.GasLimitCap,
	}
	if cfg.Chain.MaxFeeCapWei != "" {
		feeCap, ok := new(big.Int).SetString(cfg.Chain.MaxFeeCapWei, 10)
		if !ok {
			log.Fatalf("Invalid CHAIN_MAX_FEE_CAP_WEI: %q", cfg.Chain.MaxFeeCapWei)
		}
		chainCfg.MaxFeeCap = feeCap
	}
	ledger, err := chain.NewClient(eth, chainCfg)
	if err != nil {
		log.Fatalf("Failed to create chain client: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), cfg.Chain.RPCTimeout)
	if err := ledger.Ping(pingCtx); err != nil {
		log.Printf("Chain RPC is not ready: %v", err)
	}
	pingCancel()

	capabilities, err := payment.NewCapabilities(payment.Capability{
		Scheme:  payment.SchemeExact,
		Network: payment.Network(cfg.Chain.Network),
		ChainID: cfg.Chain.ChainID,
		Asset:   common.HexToAddress(cfg.Chain.TokenAddress),
	})
	if err != nil {
		log.Fatalf("Failed to configure capabilities: %v", err)
	}

	// ノンスレジストリの初期化
	var registry nonce.Registry
	var db *mysql.DB
	switch cfg.Registry.Backend {
	case "mysql":
		db, err = mysql.NewDB(&cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		mysqlRegistry := mysql.NewNonceRegistry(db)
		schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := mysqlRegistry.EnsureSchema(schemaCtx); err != nil {
			schemaCancel()
			log.Fatalf("Failed to prepare nonce registry: %v", err)
		}
		schemaCancel()
		registry = mysqlRegistry
	default:
		registry = memory.NewNonceRegistry()
	}

	// アプリケーションサービスの初期化
	verifier := verification.NewService(ledger, registry, capabilities, logger, metrics)
	settler := settlement.NewService(ledger, registry, settlement.Config{
		ConfirmationTimeout:  cfg.Settlement.ConfirmationTimeout,
		SubmitRetries:        cfg.Settlement.SubmitRetries,
		RetryInitialInterval: cfg.Settlement.RetryInitialInterval,
	}, logger, metrics)
	service := facilitator.NewService(verifier, settler, ledger, capabilities, logger)
	service.AddHealthCheck("chain", ledger.Ping)
	if db != nil {
		service.AddHealthCheck("database", db.HealthCheck)
	}

	// REST APIルーターの初期化
	router := rest.NewRouter(cfg, logger, metrics, service)

	// gRPCサーバーの初期化
	grpcSrv, err := grpcserver.NewServer(cfg, logger, service)
	if err != nil {
		log.Fatalf("Failed to create gRPC server: %v", err)
	}

	// サーバーアドレスの設定
	address := fmt.Sprintf(":%d", cfg.Server.Port)

	// グレースフルシャットダウンの設定
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	logger.Info(context.Background(), "Facilitator starting", map[string]interface{}{
		"network":   cfg.Chain.Network,
		"chain_id":  cfg.Chain.ChainID,
		"submitter": ledger.Address().Hex(),
		"registry":  cfg.Registry.Backend,
	})

	// REST APIサーバーを別ゴルーチンで起動
	go func() {
		log.Printf("REST API server starting on %s", address)
		if err := router.Start(address); err != nil {
			log.Printf("REST API server error: %v", err)
		}
	}()

	// gRPCサーバーを別ゴルーチンで起動
	go func() {
		log.Printf("gRPC server starting on port %d", grpcSrv.Port())
		if err := grpcSrv.Start(); err != nil {
			log.Printf("gRPC server error: %v", err)
		}
	}()

	// シグナルを待機
	<-quit
	log.Println("Shutting down servers...")

	// 決済中のリクエストが確認を待てるよう、確認タイムアウト分は待つ
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Settlement.ConfirmationTimeout+10*time.Second)
	defer cancel()

	// REST APIサーバーのシャットダウン
	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down REST API server: %v", err)
	}

	// gRPCサーバーのシャットダウン
	if err := grpcSrv.Stop(shutdownCtx); err != nil {
		log.Printf("Error shutting down gRPC server: %v", err)
	}

	log.Println("Servers stopped")
}
