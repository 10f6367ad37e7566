package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config アプリケーション全体の設定
type Config struct {
	Server        ServerConfig
	Chain         ChainConfig
	Settlement    SettlementConfig
	Registry      RegistryConfig
	Database      DatabaseConfig
	APIKey        APIKeyConfig
	JWT           JWTConfig
	Gateway       GatewayConfig
	Client        ClientConfig
	OpenTelemetry OpenTelemetryConfig
	Environment   string
}

// ServerConfig サーバー設定
type ServerConfig struct {
	Port         int
	GRPCPort     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// ChainConfig ブロックチェーン接続設定
type ChainConfig struct {
	RPCURL        string
	Network       string
	ChainID       int64
	PrivateKey    string
	TokenAddress  string
	TokenName     string
	TokenVersion  string
	TokenDecimals int32
	RPCTimeout    time.Duration
	PollInterval  time.Duration
	GasLimitCap   uint64
	MaxFeeCapWei  string
}

// SettlementConfig 決済処理の設定
type SettlementConfig struct {
	ConfirmationTimeout  time.Duration
	SubmitRetries        uint
	RetryInitialInterval time.Duration
}

// RegistryConfig ノンスレジストリの設定
type RegistryConfig struct {
	Backend string // "memory", "mysql"
}

// DatabaseConfig データベース設定
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// APIKeyConfig APIキー認証設定
type APIKeyConfig struct {
	Enabled    bool
	APIKey     string
	AllowedIPs []string
}

// JWTConfig JWT設定
type JWTConfig struct {
	Enabled    bool
	Secret     string
	Expiration time.Duration
	Issuer     string
}

// GatewayConfig リソースサーバー側の設定
type GatewayConfig struct {
	Port              int
	FacilitatorURL    string
	FacilitatorAPIKey string
	// FacilitatorJWTSecretが設定されていればファシリテーター呼び出しにJWTを付与する
	FacilitatorJWTSecret string
	FacilitatorClientID  string
	FacilitatorTimeout   time.Duration
	FacilitatorRetries   uint
	PayTo                string
	Price                string
	Description          string
	MaxTimeout           time.Duration
}

// ClientConfig 支払いクライアントの設定
type ClientConfig struct {
	PrivateKey     string
	ValidityWindow time.Duration
	Timeout        time.Duration
}

// OpenTelemetryConfig OpenTelemetry設定
type OpenTelemetryConfig struct {
	Enabled         bool
	ServiceName     string
	ServiceVersion  string
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceExporter   string // "otlp", "stdout", "none"
	MetricsExporter string // "otlp", "stdout", "none"
}

// Load 設定を読み込む
//
// 必須項目はバイナリごとに異なるため、検証はValidate*で行う。
func Load() (*Config, error) {
	// .envファイルを読み込む（存在しない場合は無視）
	_ = godotenv.Load()

	env := getEnv("ENVIRONMENT", "development")
	port := getEnvAsInt("SERVER_PORT", 8080)

	cfg := &Config{
		Environment: env,
		Server: ServerConfig{
			Port:         port,
			GRPCPort:     getEnvAsInt("SERVER_GRPC_PORT", port+1),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Chain: ChainConfig{
			RPCURL:        getEnv("CHAIN_RPC_URL", "http://localhost:8545"),
			Network:       getEnv("CHAIN_NETWORK", "base-sepolia"),
			ChainID:       getEnvAsInt64("CHAIN_ID", 84532),
			PrivateKey:    getEnv("CHAIN_PRIVATE_KEY", ""),
			TokenAddress:  getEnv("CHAIN_TOKEN_ADDRESS", "0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
			TokenName:     getEnv("CHAIN_TOKEN_NAME", "USDC"),
			TokenVersion:  getEnv("CHAIN_TOKEN_VERSION", "2"),
			TokenDecimals: int32(getEnvAsInt("CHAIN_TOKEN_DECIMALS", 6)),
			RPCTimeout:    getEnvAsDuration("CHAIN_RPC_TIMEOUT", 10*time.Second),
			PollInterval:  getEnvAsDuration("CHAIN_POLL_INTERVAL", 2*time.Second),
			GasLimitCap:   uint64(getEnvAsInt64("CHAIN_GAS_LIMIT_CAP", 0)),
			MaxFeeCapWei:  getEnv("CHAIN_MAX_FEE_CAP_WEI", ""),
		},
		Settlement: SettlementConfig{
			ConfirmationTimeout:  getEnvAsDuration("SETTLEMENT_CONFIRMATION_TIMEOUT", 60*time.Second),
			SubmitRetries:        uint(getEnvAsInt("SETTLEMENT_SUBMIT_RETRIES", 3)),
			RetryInitialInterval: getEnvAsDuration("SETTLEMENT_RETRY_INITIAL_INTERVAL", 500*time.Millisecond),
		},
		Registry: RegistryConfig{
			Backend: getEnv("REGISTRY_BACKEND", "memory"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 3306),
			User:            getEnv("DB_USER", "root"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "x402_db"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 10*time.Minute),
		},
		APIKey: APIKeyConfig{
			Enabled:    getEnvAsBool("API_KEY_ENABLED", false),
			APIKey:     getEnv("API_KEY", ""),
			AllowedIPs: getEnvAsList("API_KEY_ALLOWED_IPS"),
		},
		JWT: JWTConfig{
			Enabled:    getEnvAsBool("JWT_ENABLED", false),
			Secret:     getEnv("JWT_SECRET", ""),
			Expiration: getEnvAsDuration("JWT_EXPIRATION", 5*time.Minute),
			Issuer:     getEnv("JWT_ISSUER", "x402-gateway"),
		},
		Gateway: GatewayConfig{
			Port:                 getEnvAsInt("GATEWAY_PORT", 8000),
			FacilitatorURL:       getEnv("GATEWAY_FACILITATOR_URL", "http://localhost:8080"),
			FacilitatorAPIKey:    getEnv("GATEWAY_FACILITATOR_API_KEY", ""),
			FacilitatorJWTSecret: getEnv("GATEWAY_FACILITATOR_JWT_SECRET", ""),
			FacilitatorClientID:  getEnv("GATEWAY_FACILITATOR_CLIENT_ID", "resource-server"),
			FacilitatorTimeout:   getEnvAsDuration("GATEWAY_FACILITATOR_TIMEOUT", 90*time.Second),
			FacilitatorRetries:   uint(getEnvAsInt("GATEWAY_FACILITATOR_RETRIES", 2)),
			PayTo:                getEnv("GATEWAY_PAY_TO", ""),
			Price:                getEnv("GATEWAY_PRICE", "$0.01"),
			Description:          getEnv("GATEWAY_DESCRIPTION", ""),
			MaxTimeout:           getEnvAsDuration("GATEWAY_MAX_TIMEOUT", 60*time.Second),
		},
		Client: ClientConfig{
			PrivateKey:     getEnv("CLIENT_PRIVATE_KEY", ""),
			ValidityWindow: getEnvAsDuration("CLIENT_VALIDITY_WINDOW", 5*time.Minute),
			Timeout:        getEnvAsDuration("CLIENT_TIMEOUT", 2*time.Minute),
		},
		OpenTelemetry: OpenTelemetryConfig{
			Enabled:         getEnvAsBool("OTEL_ENABLED", false),
			ServiceName:     getEnv("OTEL_SERVICE_NAME", "x402-gateway"),
			ServiceVersion:  getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
			OTLPInsecure:    getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			TraceExporter:   getEnv("OTEL_TRACES_EXPORTER", "otlp"),
			MetricsExporter: getEnv("OTEL_METRICS_EXPORTER", "otlp"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate 全バイナリ共通の検証
func (c *Config) validate() error {
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive")
	}
	if c.Chain.Network == "" {
		return fmt.Errorf("CHAIN_NETWORK is required")
	}
	if c.Chain.TokenDecimals < 0 {
		return fmt.Errorf("CHAIN_TOKEN_DECIMALS must not be negative")
	}
	return nil
}

// ValidateFacilitator ファシリテーター起動に必要な設定を検証
func (c *Config) ValidateFacilitator() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("CHAIN_RPC_URL is required")
	}
	if c.Chain.PrivateKey == "" {
		return fmt.Errorf("CHAIN_PRIVATE_KEY is required")
	}
	if !common.IsHexAddress(c.Chain.TokenAddress) {
		return fmt.Errorf("CHAIN_TOKEN_ADDRESS must be a hex address")
	}
	if c.Settlement.ConfirmationTimeout <= 0 {
		return fmt.Errorf("SETTLEMENT_CONFIRMATION_TIMEOUT must be positive")
	}
	if c.Settlement.SubmitRetries == 0 {
		return fmt.Errorf("SETTLEMENT_SUBMIT_RETRIES must be at least 1")
	}
	switch c.Registry.Backend {
	case "memory":
	case "mysql":
		if c.Database.Host == "" || c.Database.Database == "" {
			return fmt.Errorf("DB_HOST and DB_NAME are required for the mysql registry")
		}
	default:
		return fmt.Errorf("unknown REGISTRY_BACKEND %q", c.Registry.Backend)
	}
	if c.APIKey.Enabled && c.APIKey.APIKey == "" {
		return fmt.Errorf("API_KEY is required when API_KEY_ENABLED is set")
	}
	if c.JWT.Enabled && c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required when JWT_ENABLED is set")
	}
	return nil
}

// ValidateResourceServer リソースサーバー起動に必要な設定を検証
func (c *Config) ValidateResourceServer() error {
	if c.Gateway.FacilitatorURL == "" {
		return fmt.Errorf("GATEWAY_FACILITATOR_URL is required")
	}
	if c.Gateway.PayTo == "" {
		return fmt.Errorf("GATEWAY_PAY_TO is required")
	}
	if c.Gateway.Price == "" {
		return fmt.Errorf("GATEWAY_PRICE is required")
	}
	if c.Gateway.MaxTimeout <= 0 {
		return fmt.Errorf("GATEWAY_MAX_TIMEOUT must be positive")
	}
	if c.Chain.TokenAddress == "" {
		return fmt.Errorf("CHAIN_TOKEN_ADDRESS is required")
	}
	return nil
}

// ValidateClient 支払いクライアントに必要な設定を検証
func (c *Config) ValidateClient() error {
	if c.Client.PrivateKey == "" {
		return fmt.Errorf("CLIENT_PRIVATE_KEY is required")
	}
	if c.Client.ValidityWindow <= 0 {
		return fmt.Errorf("CLIENT_VALIDITY_WINDOW must be positive")
	}
	return nil
}

// IsDevelopment 開発環境かどうかを返す
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// DSN データベース接続文字列を返す
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// getEnv 環境変数を取得（デフォルト値付き）
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt 環境変数を整数として取得
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 環境変数を64ビット整数として取得
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool 環境変数を真偽値として取得
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration 環境変数を時間として取得
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList カンマ区切りの環境変数をスライスとして取得
func getEnvAsList(key string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
