package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	AES        AESConfig        `mapstructure:"aes"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Log        LogConfig        `mapstructure:"log"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Withdrawal WithdrawalConfig `mapstructure:"withdrawal"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

// StorageConfig selects the ledger store backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres, memory
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// AESConfig seals withdrawal destinations at rest. An empty key disables it.
type AESConfig struct {
	Key string `mapstructure:"key"` // 64 hex chars (32 bytes)
}

// RateLimitConfig holds per-route request budgets. Limits apply only when
// Redis is enabled.
type RateLimitConfig struct {
	Window        time.Duration `mapstructure:"window"`
	DepositLimit  int           `mapstructure:"deposit_limit"`
	ApprovalLimit int           `mapstructure:"approval_limit"`
	DefaultLimit  int           `mapstructure:"default_limit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// LedgerConfig tunes the atomic updater and reconciliation.
type LedgerConfig struct {
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	ReconcileWorkers int           `mapstructure:"reconcile_workers"`
	SummaryCacheTTL  time.Duration `mapstructure:"summary_cache_ttl"`
	PaymentCacheTTL  time.Duration `mapstructure:"payment_cache_ttl"`
}

// WithdrawalConfig holds the approval threshold and amount bounds.
// Amounts are decimal strings in major units, e.g. "1.00".
type WithdrawalConfig struct {
	RequiredApprovals int    `mapstructure:"required_approvals"`
	MinAmount         string `mapstructure:"min_amount"`
	MaxAmount         string `mapstructure:"max_amount"`
}

// Bounds parses the configured amount limits.
func (w WithdrawalConfig) Bounds() (decimal.Decimal, decimal.Decimal, error) {
	min, err := decimal.NewFromString(w.MinAmount)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("withdrawal.min_amount: %w", err)
	}
	max, err := decimal.NewFromString(w.MaxAmount)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("withdrawal.max_amount: %w", err)
	}
	if min.IsNegative() || max.LessThan(min) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("withdrawal bounds %s..%s are invalid", min, max)
	}
	return min, max, nil
}

// Validate checks settings that have no safe fallback.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.Withdrawal.RequiredApprovals < 1 {
		return fmt.Errorf("withdrawal.required_approvals must be at least 1")
	}
	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("ledger.max_attempts must be at least 1")
	}
	if c.AES.Key != "" && len(c.AES.Key) != 64 {
		return fmt.Errorf("aes.key must be 64 hex characters")
	}
	if _, _, err := c.Withdrawal.Bounds(); err != nil {
		return err
	}
	return nil
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: TFL_ (Tassiac Fund Ledger).
// Nested keys use underscore: TFL_DATABASE_HOST, TFL_WITHDRAWAL_REQUIRED_APPROVALS, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "tassiac")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "tassiac")
	v.SetDefault("aes.key", "")
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.deposit_limit", 120)
	v.SetDefault("rate_limit.approval_limit", 30)
	v.SetDefault("rate_limit.default_limit", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("ledger.lock_timeout", "30s")
	v.SetDefault("ledger.max_attempts", 3)
	v.SetDefault("ledger.retry_base_delay", "50ms")
	v.SetDefault("ledger.reconcile_workers", 4)
	v.SetDefault("ledger.summary_cache_ttl", "30s")
	v.SetDefault("ledger.payment_cache_ttl", "24h")
	v.SetDefault("withdrawal.required_approvals", 3)
	v.SetDefault("withdrawal.min_amount", "1.00")
	v.SetDefault("withdrawal.max_amount", "1000000.00")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: TFL_DATABASE_HOST -> database.host
	v.SetEnvPrefix("TFL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
