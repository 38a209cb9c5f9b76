package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SPOTLEDGER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		// A fees table in the file replaces the default schedule rather than
		// merging into it.
		var probe struct {
			Fees map[string]FeeRates `toml:"fees"`
		}
		if _, err := toml.DecodeFile(path, &probe); err != nil {
			return nil, err
		}
		if len(probe.Fees) > 0 {
			cfg.Fees = nil
		}
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	normalizeFees(&cfg)

	return &cfg, nil
}

// normalizeFees lower-cases exchange names so lookups are case-insensitive.
func normalizeFees(cfg *Config) {
	out := make(map[string]FeeRates, len(cfg.Fees))
	for name, r := range cfg.Fees {
		out[strings.ToLower(strings.TrimSpace(name))] = r
	}
	cfg.Fees = out
}

// applyEnvOverrides reads well-known SPOTLEDGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setDecimal(&cfg.Ledger.MinProfitMargin, "SPOTLEDGER_LEDGER_MIN_PROFIT_MARGIN")
	setDecimal(&cfg.Ledger.SlippageBuffer, "SPOTLEDGER_LEDGER_SLIPPAGE_BUFFER")
	setBool(&cfg.Ledger.DistributedLocks, "SPOTLEDGER_LEDGER_DISTRIBUTED_LOCKS")
	setDuration(&cfg.Ledger.LockTTL, "SPOTLEDGER_LEDGER_LOCK_TTL")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "SPOTLEDGER_STORAGE_DRIVER")
	setStr(&cfg.SQLite.Path, "SPOTLEDGER_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SPOTLEDGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SPOTLEDGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SPOTLEDGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SPOTLEDGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SPOTLEDGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SPOTLEDGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SPOTLEDGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SPOTLEDGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SPOTLEDGER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SPOTLEDGER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SPOTLEDGER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SPOTLEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SPOTLEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SPOTLEDGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SPOTLEDGER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SPOTLEDGER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SPOTLEDGER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SPOTLEDGER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SPOTLEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SPOTLEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "SPOTLEDGER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SPOTLEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SPOTLEDGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SPOTLEDGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SPOTLEDGER_S3_FORCE_PATH_STYLE")

	// ── Reconcile ──
	setBool(&cfg.Reconcile.Enabled, "SPOTLEDGER_RECONCILE_ENABLED")
	setDuration(&cfg.Reconcile.Interval, "SPOTLEDGER_RECONCILE_INTERVAL")
	setStringSlice(&cfg.Reconcile.Exchanges, "SPOTLEDGER_RECONCILE_EXCHANGES")
	setStr(&cfg.Reconcile.SnapshotFile, "SPOTLEDGER_RECONCILE_SNAPSHOT_FILE")
	setDecimal(&cfg.Reconcile.Tolerance, "SPOTLEDGER_RECONCILE_TOLERANCE")
	setDecimal(&cfg.Reconcile.HighPct, "SPOTLEDGER_RECONCILE_HIGH_PCT")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SPOTLEDGER_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "SPOTLEDGER_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "SPOTLEDGER_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SPOTLEDGER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SPOTLEDGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SPOTLEDGER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SPOTLEDGER_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "SPOTLEDGER_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SPOTLEDGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SPOTLEDGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SPOTLEDGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SPOTLEDGER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SPOTLEDGER_MODE")
	setStr(&cfg.LogLevel, "SPOTLEDGER_LOG_LEVEL")
	setStr(&cfg.LogFile.Path, "SPOTLEDGER_LOG_FILE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			*dst = d
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
