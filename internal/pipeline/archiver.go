package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// Archiver copies ledger history older than the retention window to cold
// storage. Nothing is deleted from the primary store.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Cutoff returns the instant before which records are archived: midnight
// UTC, retentionDays ago.
func (a *Archiver) Cutoff() time.Time {
	day := a.now().Truncate(24 * time.Hour)
	return day.AddDate(0, 0, -a.retentionDays)
}

// Run executes a single archive pass over trades and discrepancies.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.Cutoff()
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	trades, err := a.blobArchiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving trades before %v: %w", cutoff, err)
	}
	discrepancies, err := a.blobArchiver.ArchiveDiscrepancies(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving discrepancies before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("trades_archived", trades),
		slog.Int64("discrepancies_archived", discrepancies),
	)
	return nil
}

// RunLoop runs the archiver immediately and then every interval until ctx
// is cancelled. A failed run is logged and retried on the next tick.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	return runEvery(ctx, interval, func(ctx context.Context) {
		if err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	})
}

// runEvery calls fn now and on every tick until ctx ends.
func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}
