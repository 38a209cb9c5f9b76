package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/spotledger/internal/blob/s3"
	"github.com/alanyoungcy/spotledger/internal/cache/redis"
	"github.com/alanyoungcy/spotledger/internal/config"
	"github.com/alanyoungcy/spotledger/internal/domain"
	"github.com/alanyoungcy/spotledger/internal/ledger"
	"github.com/alanyoungcy/spotledger/internal/notify"
	"github.com/alanyoungcy/spotledger/internal/server/handler"
	"github.com/alanyoungcy/spotledger/internal/store/postgres"
	"github.com/alanyoungcy/spotledger/internal/store/sqlite"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional backends are nil when disabled.
type Dependencies struct {
	// Stores
	LedgerStore      domain.LedgerStore
	DiscrepancyStore domain.DiscrepancyStore
	AuditStore       domain.AuditStore

	// Ledger is loaded from LedgerStore before Wire returns.
	Ledger *ledger.Ledger

	// Redis
	PriceCache   domain.PriceCache
	BalanceCache domain.BalanceCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks probes each wired backend for GET /api/health.
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	// --- Ledger storage ---
	switch cfg.Storage.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfigFrom(cfg.Postgres))
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.LedgerStore = postgres.NewLedgerStore(pool)
		deps.DiscrepancyStore = postgres.NewDiscrepancyStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })

		deps.LedgerStore = sqlite.NewLedgerStore(db)
		deps.DiscrepancyStore = sqlite.NewDiscrepancyStore(db)
		deps.AuditStore = sqlite.NewAuditStore(db)
		deps.HealthChecks["sqlite"] = db.Ping

	default:
		return fail(fmt.Errorf("wire: unknown storage driver %q", cfg.Storage.Driver))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfigFrom(cfg.Redis))
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.BalanceCache = redis.NewBalanceCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		if cfg.Ledger.DistributedLocks {
			deps.LockManager = redis.NewLockManager(redisClient)
		}
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfigFrom(cfg.S3))
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.LedgerStore,
			deps.DiscrepancyStore,
			deps.AuditStore,
		)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	deps.Notifier = notify.FromConfig(cfg.Notify, logger)

	// --- Ledger ---
	deps.Ledger = ledger.New(deps.LedgerStore, deps.LockManager, cfg.Ledger.LockTTL.Duration, logger)
	if err := deps.Ledger.Load(ctx); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	return deps, cleanup, nil
}
