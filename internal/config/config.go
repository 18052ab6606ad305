package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

const (
	TokenStoreRedis    = "redis"
	TokenStorePostgres = "postgres"

	RelayLocal = "local"
	RelayRedis = "redis"
)

// Configはアプリ全体の設定
type Config struct {
	Port string // サーバーポート（8080）

	DatabaseURL      string // あればPOSTGRES_*より優先
	PostgresUser     string // DBユーザー
	PostgresPassword string // DBパスワード
	PostgresDB       string // DB名
	PostgresHost     string // DBホスト（localhost）
	PostgresPort     int    // DBポート（5432）
	PostgresSSLMode  string

	RedisURL      string
	TokenStore    string // redis / postgres
	RealtimeRelay string // local / redis

	JWTSecret  string        // JWT署名シークレット
	AccessTTL  time.Duration // アクセストークン
	RefreshTTL time.Duration // リフレッシュトークン

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIURL        string // テスト用に差し替え
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
	Currency            string
	PaymentTimeout      time.Duration

	TaxRate      decimal.Decimal // 0.1 = 10%
	ShippingCost decimal.Decimal

	NotifySweepInterval time.Duration
	NotifyGracePeriod   time.Duration

	LogLevel string
	GoEnv    string // dev/prod
}

// Loadは環境変数
func Load() (Config, error) {
	var err error
	cfg := Config{
		Port: getenv("PORT", "8080"),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PostgresUser:     getenv("POSTGRES_USER", "postgres"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       getenv("POSTGRES_DB", "bookshop"),
		PostgresHost:     getenv("POSTGRES_HOST", "localhost"),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),

		RedisURL:      os.Getenv("REDIS_URL"),
		TokenStore:    getenv("TOKEN_STORE", TokenStoreRedis),
		RealtimeRelay: getenv("REALTIME_RELAY", RelayLocal),

		JWTSecret: os.Getenv("JWT_SECRET"),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeAPIURL:        os.Getenv("STRIPE_API_URL"),
		CheckoutSuccessURL:  getenv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/orders/success?session_id={CHECKOUT_SESSION_ID}"),
		CheckoutCancelURL:   getenv("CHECKOUT_CANCEL_URL", "http://localhost:3000/cart"),
		Currency:            getenv("CURRENCY", "usd"),

		LogLevel: getenv("LOG_LEVEL", "INFO"),
		GoEnv:    getenv("GO_ENV", "dev"),
	}

	if cfg.PostgresPort, err = atoi("POSTGRES_PORT", 5432); err != nil {
		return Config{}, err
	}
	if cfg.AccessTTL, err = duration("ACCESS_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = duration("REFRESH_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.PaymentTimeout, err = duration("PAYMENT_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.NotifySweepInterval, err = duration("NOTIFY_SWEEP_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.NotifyGracePeriod, err = duration("NOTIFY_GRACE_PERIOD", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Currency, err = isoCurrency("CURRENCY", cfg.Currency); err != nil {
		return Config{}, err
	}
	if cfg.TaxRate, err = money("TAX_RATE", "0.10"); err != nil {
		return Config{}, err
	}
	if cfg.ShippingCost, err = money("SHIPPING_COST", "5.00"); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

//必須チェック
func (c Config) validate() error {
	if c.DatabaseURL == "" && c.PostgresPassword == "" {
		return fmt.Errorf("DATABASE_URL or POSTGRES_PASSWORD is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}

	switch c.TokenStore {
	case TokenStoreRedis, TokenStorePostgres:
	default:
		return fmt.Errorf("TOKEN_STORE must be %q or %q", TokenStoreRedis, TokenStorePostgres)
	}
	switch c.RealtimeRelay {
	case RelayLocal, RelayRedis:
	default:
		return fmt.Errorf("REALTIME_RELAY must be %q or %q", RelayLocal, RelayRedis)
	}
	if c.NeedsRedis() && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.TaxRate.IsNegative() || c.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("TAX_RATE must be in [0, 1)")
	}
	if c.ShippingCost.IsNegative() {
		return fmt.Errorf("SHIPPING_COST must not be negative")
	}
	return nil
}

func (c Config) NeedsRedis() bool {
	return c.TokenStore == TokenStoreRedis || c.RealtimeRelay == RelayRedis
}

func (c Config) IsProd() bool {
	return c.GoEnv == "prod"
}

func getenv(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func atoi(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be duration: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func money(key string, def string) (decimal.Decimal, error) {
	v := getenv(key, def)
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be decimal: %w", key, err)
	}
	return d, nil
}

// 金額はセント単位で扱うので小数2桁の通貨だけ。Stripeには小文字で渡す
func isoCurrency(key string, v string) (string, error) {
	unit, err := currency.ParseISO(strings.ToUpper(v))
	if err != nil {
		return "", fmt.Errorf("%s must be an ISO 4217 code: %w", key, err)
	}
	if scale, _ := currency.Standard.Rounding(unit); scale != 2 {
		return "", fmt.Errorf("%s must use 2 decimal places (%s uses %d)", key, unit, scale)
	}
	return strings.ToLower(unit.String()), nil
}
