// Package config defines the top-level configuration for spotledger and
// provides validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SPOTLEDGER_* environment variables.
type Config struct {
	Ledger    LedgerConfig        `toml:"ledger"`
	Fees      map[string]FeeRates `toml:"fees"`
	Storage   StorageConfig       `toml:"storage"`
	Postgres  PostgresConfig      `toml:"postgres"`
	SQLite    SQLiteConfig        `toml:"sqlite"`
	Redis     RedisConfig         `toml:"redis"`
	S3        S3Config            `toml:"s3"`
	Reconcile ReconcileConfig     `toml:"reconcile"`
	Archive   ArchiveConfig       `toml:"archive"`
	Server    ServerConfig        `toml:"server"`
	Notify    NotifyConfig        `toml:"notify"`
	Mode      string              `toml:"mode"`
	LogLevel  string              `toml:"log_level"`
	LogFile   LogFileConfig       `toml:"log_file"`
}

// LedgerConfig holds the loss-prevention thresholds. Decimal values are
// written as TOML strings, e.g. min_profit_margin = "0.005".
type LedgerConfig struct {
	MinProfitMargin  decimal.Decimal `toml:"min_profit_margin"`
	SlippageBuffer   decimal.Decimal `toml:"slippage_buffer"`
	DistributedLocks bool            `toml:"distributed_locks"`
	LockTTL          duration        `toml:"lock_ttl"`
}

// FeeRates is one exchange's fee schedule, expressed as fractions of
// notional.
type FeeRates struct {
	Maker decimal.Decimal `toml:"maker"`
	Taker decimal.Decimal `toml:"taker"`
}

// StorageConfig selects the ledger's persistence backend.
type StorageConfig struct {
	Driver string `toml:"driver"` // "postgres" or "sqlite"
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the embedded database location.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ReconcileConfig controls periodic reconciliation against exchange balances.
type ReconcileConfig struct {
	Enabled      bool            `toml:"enabled"`
	Interval     duration        `toml:"interval"`
	Exchanges    []string        `toml:"exchanges"`
	SnapshotFile string          `toml:"snapshot_file"`
	Tolerance    decimal.Decimal `toml:"tolerance"`
	HighPct      decimal.Decimal `toml:"high_pct"`
}

// ArchiveConfig controls copying ledger history to object storage.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// LogFileConfig enables size-rotated file output next to stdout.
type LogFileConfig struct {
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// DefaultFees is the fee schedule used when the config file names none.
func DefaultFees() map[string]FeeRates {
	rate := decimal.RequireFromString
	return map[string]FeeRates{
		"binance":    {Maker: rate("0.001"), Taker: rate("0.001")},
		"okx":        {Maker: rate("0.0008"), Taker: rate("0.001")},
		"gate":       {Maker: rate("0.002"), Taker: rate("0.002")},
		"whitebit":   {Maker: rate("0.001"), Taker: rate("0.001")},
		"btcmarkets": {Maker: rate("0.0085"), Taker: rate("0.0085")},
	}
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			MinProfitMargin:  decimal.RequireFromString("0.005"),
			SlippageBuffer:   decimal.RequireFromString("0.002"),
			DistributedLocks: false,
			LockTTL:          duration{10 * time.Second},
		},
		Fees: DefaultFees(),
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "spotledger",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "data/spotledger.db",
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "spotledger-archive",
			ForcePathStyle: true,
		},
		Reconcile: ReconcileConfig{
			Enabled:   true,
			Interval:  duration{5 * time.Minute},
			Exchanges: []string{"binance", "okx", "gate", "whitebit", "btcmarkets"},
			Tolerance: decimal.RequireFromString("0.00000001"),
			HighPct:   decimal.RequireFromString("0.01"),
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimitPerMin: 600,
		},
		Notify: NotifyConfig{
			Events: []string{"discrepancy_critical", "invariant_violation"},
		},
		Mode:     "serve",
		LogLevel: "info",
		LogFile: LogFileConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":     true,
	"reconcile": true,
	"archive":   true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, reconcile, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	if c.Ledger.MinProfitMargin.IsNegative() {
		errs = append(errs, "ledger: min_profit_margin must be >= 0")
	}
	if c.Ledger.SlippageBuffer.IsNegative() {
		errs = append(errs, "ledger: slippage_buffer must be >= 0")
	}
	if c.Ledger.DistributedLocks {
		if !c.Redis.Enabled {
			errs = append(errs, "ledger: distributed_locks requires redis.enabled")
		}
		if c.Ledger.LockTTL.Duration <= 0 {
			errs = append(errs, "ledger: lock_ttl must be > 0")
		}
	}

	// Fees
	if len(c.Fees) == 0 {
		errs = append(errs, "fees: at least one exchange fee schedule is required")
	}
	one := decimal.NewFromInt(1)
	for _, name := range sortedKeys(c.Fees) {
		r := c.Fees[name]
		if r.Maker.IsNegative() || r.Maker.GreaterThanOrEqual(one) {
			errs = append(errs, fmt.Sprintf("fees.%s: maker rate must be in [0, 1), got %s", name, r.Maker))
		}
		if r.Taker.IsNegative() || r.Taker.GreaterThanOrEqual(one) {
			errs = append(errs, fmt.Sprintf("fees.%s: taker rate must be in [0, 1), got %s", name, r.Taker))
		}
	}

	// Storage
	switch c.Storage.Driver {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			errs = append(errs, "sqlite: path must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, sqlite)", c.Storage.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Reconcile
	if !c.Reconcile.Tolerance.IsPositive() {
		errs = append(errs, "reconcile: tolerance must be > 0")
	}
	if !c.Reconcile.HighPct.IsPositive() {
		errs = append(errs, "reconcile: high_pct must be > 0")
	}
	if c.Reconcile.Enabled && (mode == "serve" || mode == "full") {
		if c.Reconcile.Interval.Duration <= 0 {
			errs = append(errs, "reconcile: interval must be > 0")
		}
		if !c.Redis.Enabled && c.Reconcile.SnapshotFile == "" {
			errs = append(errs, "reconcile: needs redis.enabled or snapshot_file as a balance source")
		}
	}
	if mode == "reconcile" && c.Reconcile.SnapshotFile == "" {
		errs = append(errs, "reconcile: snapshot_file is required for mode reconcile")
	}

	// Archive
	if c.Archive.Enabled || mode == "archive" {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func sortedKeys(m map[string]FeeRates) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
