package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBDriver string // sqlite | postgres
	DBDSN    string

	RedisAddr string
	RedisDB   int

	// Kafka 集群地址（逗号分隔）、Topic、消费者组
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Redis Stream outbox（API 原子入流，Relay 异步转 Kafka）
	EventStream   string
	EventGroup    string
	EventConsumer string

	JWTSecret  string
	AdminToken string

	// 结算流程：会话有效期、商品锁有效期、结算接口限流
	CheckoutSessionTTL time.Duration
	ProductLockTTL     time.Duration
	CheckoutRateLimit  int
	CheckoutRateWindow time.Duration

	// 支付网关
	PaymentGateway     string // http | stub
	PaymentAPIURL      string
	PaymentAPIKey      string
	PaymentCurrency    string
	PaymentDescription string
	PaymentTimeout     time.Duration
	// TimeoutAsDecline 为 true 时把超时当作拒付处理（旧行为），默认区分。
	TimeoutAsDecline bool

	// 卖家到账比例，向下取整
	SellerShareRate decimal.Decimal
}

// Load 读取并校验配置，缺失时使用默认值。
// 当前目录存在 .env 时先加载，已存在的环境变量优先。
func Load() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := AppConfig{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		DBDriver:           getEnv("DB_DRIVER", "sqlite"),
		DBDSN:              getEnv("DB_DSN", "flea_market.db"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:            0,
		KafkaBrokers:       splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "flea-market-events"),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "flea-market-reconciler"),
		EventStream:        getEnv("EVENT_STREAM", "flea_market:events"),
		EventGroup:         getEnv("EVENT_GROUP", "flea-market-relay-group"),
		EventConsumer:      getEnv("EVENT_CONSUMER", "flea-market-relay-1"),
		JWTSecret:          getEnv("JWT_SECRET", "dev-jwt-secret"),
		AdminToken:         getEnv("ADMIN_TOKEN", "dev-admin-token"),
		CheckoutSessionTTL: time.Hour,
		ProductLockTTL:     30 * time.Second,
		CheckoutRateLimit:  10,
		CheckoutRateWindow: time.Second,
		PaymentGateway:     getEnv("PAYMENT_GATEWAY", "stub"),
		PaymentAPIURL:      getEnv("PAYMENT_API_URL", "https://api.stripe.com"),
		PaymentAPIKey:      getEnv("PAYMENT_API_KEY", ""),
		PaymentCurrency:    getEnv("PAYMENT_CURRENCY", "jpy"),
		PaymentDescription: getEnv("PAYMENT_DESCRIPTION", "FreeMa"),
		PaymentTimeout:     10 * time.Second,
		SellerShareRate:    decimal.RequireFromString("0.9"),
	}

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	ttlMin, err := getEnvInt("CHECKOUT_SESSION_TTL_MIN", int(cfg.CheckoutSessionTTL.Minutes()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CHECKOUT_SESSION_TTL_MIN: %w", err)
	}
	if ttlMin <= 0 {
		return AppConfig{}, fmt.Errorf("CHECKOUT_SESSION_TTL_MIN must be > 0")
	}
	cfg.CheckoutSessionTTL = time.Duration(ttlMin) * time.Minute

	lockSec, err := getEnvInt("PRODUCT_LOCK_TTL_SEC", int(cfg.ProductLockTTL.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid PRODUCT_LOCK_TTL_SEC: %w", err)
	}
	if lockSec <= 0 {
		return AppConfig{}, fmt.Errorf("PRODUCT_LOCK_TTL_SEC must be > 0")
	}
	cfg.ProductLockTTL = time.Duration(lockSec) * time.Second

	rateLimit, err := getEnvInt("CHECKOUT_RATE_LIMIT", cfg.CheckoutRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CHECKOUT_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("CHECKOUT_RATE_LIMIT must be > 0")
	}
	cfg.CheckoutRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("CHECKOUT_RATE_WINDOW_SEC", int(cfg.CheckoutRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CHECKOUT_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("CHECKOUT_RATE_WINDOW_SEC must be > 0")
	}
	cfg.CheckoutRateWindow = time.Duration(rateWindowSec) * time.Second

	timeoutSec, err := getEnvInt("PAYMENT_TIMEOUT_SEC", int(cfg.PaymentTimeout.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid PAYMENT_TIMEOUT_SEC: %w", err)
	}
	if timeoutSec <= 0 {
		return AppConfig{}, fmt.Errorf("PAYMENT_TIMEOUT_SEC must be > 0")
	}
	cfg.PaymentTimeout = time.Duration(timeoutSec) * time.Second
	// 扣款进行中商品锁不能先过期
	if cfg.ProductLockTTL <= cfg.PaymentTimeout {
		return AppConfig{}, fmt.Errorf("PRODUCT_LOCK_TTL_SEC (%d) must be greater than PAYMENT_TIMEOUT_SEC (%d)", lockSec, timeoutSec)
	}

	asDecline, err := getEnvBool("TIMEOUT_AS_DECLINE", false)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid TIMEOUT_AS_DECLINE: %w", err)
	}
	cfg.TimeoutAsDecline = asDecline

	if v := getEnv("SELLER_SHARE_RATE", ""); v != "" {
		rate, err := decimal.NewFromString(v)
		if err != nil {
			return AppConfig{}, fmt.Errorf("invalid SELLER_SHARE_RATE: %w", err)
		}
		cfg.SellerShareRate = rate
	}
	// 0 在结算服务里等同于未设置，这里直接拒绝
	if !cfg.SellerShareRate.IsPositive() || cfg.SellerShareRate.GreaterThan(decimal.NewFromInt(1)) {
		return AppConfig{}, fmt.Errorf("SELLER_SHARE_RATE must be within (0, 1]")
	}

	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return AppConfig{}, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver)
	}
	switch cfg.PaymentGateway {
	case "stub":
	case "http":
		if cfg.PaymentAPIKey == "" {
			return AppConfig{}, fmt.Errorf("PAYMENT_API_KEY is required when PAYMENT_GATEWAY=http")
		}
	default:
		return AppConfig{}, fmt.Errorf("PAYMENT_GATEWAY must be http or stub, got %q", cfg.PaymentGateway)
	}

	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if cfg.KafkaGroupID == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_GROUP_ID must not be empty")
	}
	if cfg.EventStream == "" {
		return AppConfig{}, fmt.Errorf("EVENT_STREAM must not be empty")
	}
	if cfg.EventGroup == "" {
		return AppConfig{}, fmt.Errorf("EVENT_GROUP must not be empty")
	}
	if cfg.EventConsumer == "" {
		return AppConfig{}, fmt.Errorf("EVENT_CONSUMER must not be empty")
	}
	if cfg.PaymentCurrency == "" {
		return AppConfig{}, fmt.Errorf("PAYMENT_CURRENCY must not be empty")
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
