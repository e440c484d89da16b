package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP      HTTPConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Identity  IdentityConfig
	Gateway   GatewayConfig
	Payment   PaymentConfig
	Redirects RedirectConfig
	Logging   LoggingConfig
	RateLimit RateLimitConfig
	// RoutesFile optionally points at a YAML capability table.
	RoutesFile string
	// LedgerBackend is "postgres" or "memory".
	LedgerBackend string
}

type HTTPConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN returns a lib/pq connection string.
func (c DBConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s", c.Host, c.Port, c.User, c.Name, c.SSLMode)
	if c.Password != "" {
		dsn += " password=" + c.Password
	}
	return dsn
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// IdentityConfig selects where principals come from: "local" reads the users
// table, "remote" calls an external identity service.
type IdentityConfig struct {
	Mode    string
	BaseURL string
	Timeout time.Duration
}

type GatewayConfig struct {
	BaseURL     string
	CheckoutURL string
	APIKey      string
	Timeout     time.Duration
}

// PaymentConfig tunes payment verification. ClaimLease is how long a
// verification claim stays with the verifier that took it before another
// instance may resume it.
type PaymentConfig struct {
	ClaimLease time.Duration
}

// RedirectConfig holds the route strings guard decisions redirect to.
type RedirectConfig struct {
	Login           string
	PendingApproval string
	Unauthorized    string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultTokenTTL        = 24 * time.Hour
	defaultClientTimeout   = 5 * time.Second
	// A claim lease covers one gateway call plus settlement.
	defaultSettleMargin = 10 * time.Second
	minSettleMargin     = 2 * time.Second
)

// Load reads the optional .env file, then the environment, applying defaults.
func Load() (Config, error) {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := Config{
		HTTP: HTTPConfig{
			Port: valueOrDefault("SERVER_PORT", defaultPort),
		},
		DB: DBConfig{
			Host:     valueOrDefault("DB_HOST", "localhost"),
			Port:     valueOrDefault("DB_PORT", "5432"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     valueOrDefault("DB_NAME", "walletflow"),
			SSLMode:  valueOrDefault("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       parseIntWithDefault("REDIS_DB", 0),
			Channel:  valueOrDefault("REDIS_INVALIDATION_CHANNEL", "walletflow:invalidate"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		Identity: IdentityConfig{
			Mode:    strings.ToLower(valueOrDefault("IDENTITY_MODE", "local")),
			BaseURL: os.Getenv("IDENTITY_BASE_URL"),
		},
		Gateway: GatewayConfig{
			BaseURL:     os.Getenv("GATEWAY_BASE_URL"),
			CheckoutURL: os.Getenv("GATEWAY_CHECKOUT_URL"),
			APIKey:      os.Getenv("GATEWAY_API_KEY"),
		},
		Redirects: RedirectConfig{
			Login:           valueOrDefault("REDIRECT_LOGIN", "/login"),
			PendingApproval: valueOrDefault("REDIRECT_PENDING_APPROVAL", "/pending-approval"),
			Unauthorized:    valueOrDefault("REDIRECT_UNAUTHORIZED", "/unauthorized"),
		},
		Logging: LoggingConfig{
			Level:  valueOrDefault("LOG_LEVEL", "info"),
			Format: valueOrDefault("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: parseFloatWithDefault("RATE_LIMIT_RPS", 5),
			Burst:             parseIntWithDefault("RATE_LIMIT_BURST", 10),
		},
		RoutesFile:    os.Getenv("ROUTES_FILE"),
		LedgerBackend: strings.ToLower(valueOrDefault("LEDGER_BACKEND", "postgres")),
	}

	var err error
	if cfg.HTTP.ReadTimeout, err = parseDuration("SERVER_READ_TIMEOUT", defaultReadTimeout); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.WriteTimeout, err = parseDuration("SERVER_WRITE_TIMEOUT", defaultWriteTimeout); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.ShutdownTimeout, err = parseDuration("SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Auth.TokenTTL, err = parseDuration("JWT_TTL", defaultTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.Identity.Timeout, err = parseDuration("IDENTITY_TIMEOUT", defaultClientTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Gateway.Timeout, err = parseDuration("GATEWAY_TIMEOUT", defaultClientTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Payment.ClaimLease, err = parseDuration("PAYMENT_CLAIM_LEASE", cfg.Gateway.Timeout+defaultSettleMargin); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.Identity.Mode {
	case "local":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in local identity mode")
		}
	case "remote":
		if c.Identity.BaseURL == "" {
			return fmt.Errorf("IDENTITY_BASE_URL is required in remote identity mode")
		}
	default:
		return fmt.Errorf("unknown IDENTITY_MODE %q", c.Identity.Mode)
	}

	switch c.LedgerBackend {
	case "postgres":
		if c.DB.User == "" {
			return fmt.Errorf("DB_USER is required for the postgres ledger")
		}
	case "memory":
		if c.Identity.Mode == "local" {
			return fmt.Errorf("local identity mode needs the postgres ledger backend")
		}
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}

	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("GATEWAY_BASE_URL is required")
	}
	if c.Payment.ClaimLease <= c.Gateway.Timeout+minSettleMargin {
		return fmt.Errorf("PAYMENT_CLAIM_LEASE must exceed GATEWAY_TIMEOUT by more than %s", minSettleMargin)
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	return nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseFloatWithDefault(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil {
			return val
		}
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
