package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Payment    PaymentConfig
	Gateway    GatewayConfig
	Commission CommissionConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Firebase   FirebaseConfig
	Cloudinary CloudinaryConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Driver          string // mysql, postgres, sqlite, or memory (no database)
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
	Issuer       string
}

type PaymentConfig struct {
	// TokenSecret keys the MAC used for per-request payment tokens. Never leaves the server.
	TokenSecret     string
	WebhookSecret   string
	RequestLifetime time.Duration
	AmountTolerance string
	Currency        string
	SweepInterval   time.Duration
	SweepBatchSize  int
	IdempotencyDB   string // bolt file for processed gateway payment ids; empty = in-memory
	WebhookWorkers  int
	PollInterval    time.Duration
}

// GatewayConfig for the QR payment gateway. PublicKey is the only value exposed to clients.
type GatewayConfig struct {
	Mode            string // http or stub
	BaseURL         string
	TokenURL        string
	ClientID        string
	ClientSecret    string
	PublicKey       string
	NotificationURL string
	Timeout         time.Duration
}

type CommissionConfig struct {
	RatesFile     string
	GatewayQRRate string
	WalletRate    string
}

type RedisConfig struct {
	Addr      string // empty disables the status cache and the asynq queue
	Password  string
	DB        int
	StatusTTL time.Duration
}

type KafkaConfig struct {
	Brokers         []string // empty = log-only settlement notifier
	SettlementTopic string
}

type FirebaseConfig struct {
	ServiceAccountPath string
}

type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	QRFolder  string
}

func Load() *Config {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8099"),
			Env:          getEnv("APP_ENV", "development"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "mysql"),
			DSN:             getEnv("DB_DSN", "pedix:pedix@tcp(localhost:3306)/pedix?charset=utf8mb4&parseTime=True&loc=UTC"),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			AccessSecret: getEnv("JWT_ACCESS_SECRET", "change-me-in-production"),
			AccessExpiry: getDuration("JWT_ACCESS_EXPIRY", 24*time.Hour),
			Issuer:       getEnv("JWT_ISSUER", "pedix"),
		},
		Payment: PaymentConfig{
			TokenSecret:     getEnv("PAYMENT_TOKEN_SECRET", "change-me-token-secret"),
			WebhookSecret:   getEnv("PAYMENT_WEBHOOK_SECRET", ""),
			RequestLifetime: getDuration("PAYMENT_REQUEST_LIFETIME", 15*time.Minute),
			AmountTolerance: getEnv("PAYMENT_AMOUNT_TOLERANCE", "0.01"),
			Currency:        getEnv("PAYMENT_CURRENCY", "BRL"),
			SweepInterval:   getDuration("PAYMENT_SWEEP_INTERVAL", 30*time.Second),
			SweepBatchSize:  getInt("PAYMENT_SWEEP_BATCH", 200),
			IdempotencyDB:   getEnv("PAYMENT_IDEMPOTENCY_DB", "processed_payments.db"),
			WebhookWorkers:  getInt("PAYMENT_WEBHOOK_WORKERS", 4),
			PollInterval:    getDuration("PAYMENT_POLL_INTERVAL", 3*time.Second),
		},
		Gateway: GatewayConfig{
			Mode:            getEnv("GATEWAY_MODE", "stub"),
			BaseURL:         getEnv("GATEWAY_BASE_URL", "https://api.mercadopago.com"),
			TokenURL:        getEnv("GATEWAY_TOKEN_URL", "https://api.mercadopago.com/oauth/token"),
			ClientID:        getEnv("GATEWAY_CLIENT_ID", ""),
			ClientSecret:    getEnv("GATEWAY_CLIENT_SECRET", ""),
			PublicKey:       getEnv("GATEWAY_PUBLIC_KEY", ""),
			NotificationURL: getEnv("GATEWAY_NOTIFICATION_URL", ""),
			Timeout:         getDuration("GATEWAY_TIMEOUT", 30*time.Second),
		},
		Commission: CommissionConfig{
			RatesFile:     getEnv("COMMISSION_RATES_FILE", ""),
			GatewayQRRate: getEnv("COMMISSION_GATEWAY_QR_RATE", "0.15"),
			WalletRate:    getEnv("COMMISSION_WALLET_RATE", "0.10"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getInt("REDIS_DB", 0),
			StatusTTL: getDuration("REDIS_STATUS_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:         splitList(getEnv("KAFKA_BROKERS", "")),
			SettlementTopic: getEnv("KAFKA_SETTLEMENT_TOPIC", "payment.settled"),
		},
		Firebase: FirebaseConfig{
			ServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		},
		Cloudinary: CloudinaryConfig{
			CloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
			APIKey:    getEnv("CLOUDINARY_API_KEY", ""),
			APISecret: getEnv("CLOUDINARY_API_SECRET", ""),
			QRFolder:  getEnv("CLOUDINARY_QR_FOLDER", "payment-qr"),
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
