package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mobilbillet/payments/internal/domain/payment"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Payments      PaymentsConfig      `mapstructure:"payments"`
	Retry         RetryConfig         `mapstructure:"retry"`
	APIClient     APIClientConfig     `mapstructure:"api_client"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       int           `mapstructure:"rate_limit"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// PaymentsConfig configures the orchestrator and its providers.
// A provider section left out of the file stays nil.
type PaymentsConfig struct {
	SupportedProviders  []string         `mapstructure:"supported_providers"`
	ConfirmOrderURL     string           `mapstructure:"confirm_order_url"`
	AttemptTimeout      time.Duration    `mapstructure:"attempt_timeout"`
	ConfirmationLockTTL time.Duration    `mapstructure:"confirmation_lock_ttl"`
	SessionTTL          time.Duration    `mapstructure:"session_ttl"`
	EventBuffer         int              `mapstructure:"event_buffer"`
	DIBS                *DIBSConfig      `mapstructure:"dibs"`
	Epay                *EpayConfig      `mapstructure:"epay"`
	MobilePay           *MobilePayConfig `mapstructure:"mobilepay"`
}

type DIBSConfig struct {
	MerchantID           string         `mapstructure:"merchant_id"`
	HMACKey              string         `mapstructure:"hmac_key"`
	CurrencyCode         string         `mapstructure:"currency_code"`
	PayTypes             []string       `mapstructure:"pay_types"`
	Language             string         `mapstructure:"language"`
	OrderIDURL           string         `mapstructure:"order_id_url"`
	OrderConfirmationURL string         `mapstructure:"order_confirmation_url"`
	CriticalErrorMax     int            `mapstructure:"critical_error_max"`
	TestMode             bool           `mapstructure:"test_mode"`
	Version              string         `mapstructure:"version"`
	Appearance           DIBSAppearance `mapstructure:"appearance"`
}

type DIBSAppearance struct {
	AppBackgroundColor       string `mapstructure:"app_background_color"`
	PayButtonBackgroundColor string `mapstructure:"pay_button_background_color"`
	PayButtonFontColor       string `mapstructure:"pay_button_font_color"`
}

type EpayConfig struct {
	MerchantID           string   `mapstructure:"merchant_id"`
	CurrencyCode         string   `mapstructure:"currency_code"`
	PayTypes             []string `mapstructure:"pay_types"`
	Language             string   `mapstructure:"language"`
	OrderIDURL           string   `mapstructure:"order_id_url"`
	OrderConfirmationURL string   `mapstructure:"order_confirmation_url"`
	CustomerMobileNumber string   `mapstructure:"customer_mobile_number"`
	CustomerName         string   `mapstructure:"customer_name"`
	DeclineText          string   `mapstructure:"decline_text"`
	MobileCSSURL         string   `mapstructure:"mobile_css_url"`
	NoInternetCode       int      `mapstructure:"no_internet_code"`
}

type MobilePayConfig struct {
	MerchantID           string `mapstructure:"merchant_id"`
	MerchantURLScheme    string `mapstructure:"merchant_url_scheme"`
	Country              string `mapstructure:"country"`
	CaptureType          string `mapstructure:"capture_type"`
	ReturnSeconds        int    `mapstructure:"return_seconds"`
	AppSwitchURL         string `mapstructure:"app_switch_url"`
	OrderConfirmationURL string `mapstructure:"order_confirmation_url"`
}

// RetryConfig tunes the confirmation retry policy.
type RetryConfig struct {
	MaxAttempts  uint          `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// APIClientConfig tunes outbound backend calls and their circuit breakers.
type APIClientConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	BreakerMaxRequests  uint32        `mapstructure:"breaker_max_requests"`
	BreakerInterval     time.Duration `mapstructure:"breaker_interval"`
	BreakerTimeout      time.Duration `mapstructure:"breaker_timeout"`
	BreakerMinRequests  uint32        `mapstructure:"breaker_min_requests"`
	BreakerFailureRatio float64       `mapstructure:"breaker_failure_ratio"`
}

type WorkerConfig struct {
	Stream          string        `mapstructure:"stream"`
	BatchSize       int64         `mapstructure:"batch_size"`
	BlockDuration   time.Duration `mapstructure:"block_duration"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	ClaimMinIdle    time.Duration `mapstructure:"claim_min_idle"`
	ConsumerGroup   string        `mapstructure:"consumer_group"`
	IdempotencyTTL  time.Duration `mapstructure:"idempotency_ttl"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("PAYMENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/payments")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}

	errs = append(errs, c.Payments.validate()...)
	errs = append(errs, c.Retry.validate()...)

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
	}

	// JWT secret length validation
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func (p *PaymentsConfig) validate() []error {
	var errs []error

	if p.ConfirmationLockTTL <= 0 {
		errs = append(errs, fmt.Errorf("payments.confirmation_lock_ttl must be positive"))
	}
	if p.AttemptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("payments.attempt_timeout must be positive"))
	}

	providers, err := p.Providers()
	if err != nil {
		return append(errs, err)
	}
	if len(providers) == 0 {
		errs = append(errs, fmt.Errorf("payments.supported_providers must name at least one provider"))
	}

	for _, prov := range providers {
		if !p.HasSection(prov) {
			errs = append(errs, fmt.Errorf("payments.%s section is required when %s is supported", prov, prov))
			continue
		}
		if p.ConfirmationURL(prov) == "" {
			errs = append(errs, fmt.Errorf("payments.confirm_order_url or payments.%s.order_confirmation_url is required", prov))
		}
		switch prov {
		case payment.ProviderDIBS:
			if p.DIBS.MerchantID == "" {
				errs = append(errs, fmt.Errorf("payments.dibs.merchant_id is required"))
			}
			if _, err := hex.DecodeString(p.DIBS.HMACKey); err != nil || p.DIBS.HMACKey == "" {
				errs = append(errs, fmt.Errorf("payments.dibs.hmac_key must be a non-empty hex string"))
			}
		case payment.ProviderEpay:
			if p.Epay.MerchantID == "" {
				errs = append(errs, fmt.Errorf("payments.epay.merchant_id is required"))
			}
			if p.Epay.OrderIDURL == "" {
				errs = append(errs, fmt.Errorf("payments.epay.order_id_url is required"))
			}
		case payment.ProviderMobilePay:
			if p.MobilePay.MerchantID == "" {
				errs = append(errs, fmt.Errorf("payments.mobilepay.merchant_id is required"))
			}
			if p.MobilePay.MerchantURLScheme == "" {
				errs = append(errs, fmt.Errorf("payments.mobilepay.merchant_url_scheme is required"))
			}
		}
	}
	return errs
}

func (r *RetryConfig) validate() []error {
	var errs []error
	if r.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1"))
	}
	if r.InitialDelay < 0 || r.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("retry delays must not be negative"))
	}
	if r.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("retry.multiplier must be at least 1"))
	}
	return errs
}

// Providers parses the supported provider list.
func (p *PaymentsConfig) Providers() ([]payment.Provider, error) {
	out := make([]payment.Provider, 0, len(p.SupportedProviders))
	for _, s := range p.SupportedProviders {
		prov, err := payment.ParseProvider(s)
		if err != nil {
			return nil, fmt.Errorf("payments.supported_providers: %w", err)
		}
		out = append(out, prov)
	}
	return out, nil
}

// HasSection reports whether the provider's configuration was supplied.
func (p *PaymentsConfig) HasSection(prov payment.Provider) bool {
	switch prov {
	case payment.ProviderDIBS:
		return p.DIBS != nil
	case payment.ProviderEpay:
		return p.Epay != nil
	case payment.ProviderMobilePay:
		return p.MobilePay != nil
	}
	return false
}

// ConfirmationURL returns the provider's confirm endpoint, falling back to the shared one.
func (p *PaymentsConfig) ConfirmationURL(prov payment.Provider) string {
	var u string
	switch prov {
	case payment.ProviderDIBS:
		if p.DIBS != nil {
			u = p.DIBS.OrderConfirmationURL
		}
	case payment.ProviderEpay:
		if p.Epay != nil {
			u = p.Epay.OrderConfirmationURL
		}
	case payment.ProviderMobilePay:
		if p.MobilePay != nil {
			u = p.MobilePay.OrderConfirmationURL
		}
	}
	if u == "" {
		u = p.ConfirmOrderURL
	}
	return u
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "payments")
	v.SetDefault("database.database", "payments")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Payments defaults
	v.SetDefault("payments.supported_providers", []string{"dibs", "epay", "mobilepay"})
	v.SetDefault("payments.attempt_timeout", "30m")
	v.SetDefault("payments.confirmation_lock_ttl", "2m")
	v.SetDefault("payments.session_ttl", "24h")
	v.SetDefault("payments.event_buffer", 16)

	// Retry defaults
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", "1s")
	v.SetDefault("retry.max_delay", "10s")
	v.SetDefault("retry.multiplier", 2.0)

	// API client defaults
	v.SetDefault("api_client.timeout", "15s")
	v.SetDefault("api_client.breaker_max_requests", 10)
	v.SetDefault("api_client.breaker_interval", "60s")
	v.SetDefault("api_client.breaker_timeout", "30s")
	v.SetDefault("api_client.breaker_min_requests", 10)
	v.SetDefault("api_client.breaker_failure_ratio", 0.6)

	// Worker defaults
	v.SetDefault("worker.stream", "purchases:outcomes")
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.cleanup_interval", "10m")
	v.SetDefault("worker.claim_min_idle", "1m")
	v.SetDefault("worker.consumer_group", "purchase-recorders")
	v.SetDefault("worker.idempotency_ttl", "24h")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)

	// Auth defaults
	v.SetDefault("auth.jwt_expiry", "24h")

	// Instance ID
	v.SetDefault("instance_id", "payments-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL returns the URL form used by golang-migrate.
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
