package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// Reconciler is the part of the reconciliation service the loop drives.
type Reconciler interface {
	ReconcileAll(ctx context.Context, source domain.BalanceSource, exchanges []string) ([]domain.ReconciliationReport, error)
}

// ReconcileLoop periodically compares the ledger with exchange balances.
type ReconcileLoop struct {
	reconciler Reconciler
	source     domain.BalanceSource
	exchanges  []string
	logger     *slog.Logger
}

// NewReconcileLoop creates a ReconcileLoop over the given exchanges.
func NewReconcileLoop(reconciler Reconciler, source domain.BalanceSource, exchanges []string, logger *slog.Logger) *ReconcileLoop {
	return &ReconcileLoop{
		reconciler: reconciler,
		source:     source,
		exchanges:  exchanges,
		logger:     logger.With(slog.String("component", "reconcile_loop")),
	}
}

// RunOnce reconciles every configured exchange and logs a one-line summary
// per report.
func (l *ReconcileLoop) RunOnce(ctx context.Context) ([]domain.ReconciliationReport, error) {
	reports, err := l.reconciler.ReconcileAll(ctx, l.source, l.exchanges)
	if err != nil {
		return nil, err
	}
	for _, r := range reports {
		level := slog.LevelInfo
		if !r.Reconciled {
			level = slog.LevelWarn
		}
		l.logger.Log(ctx, level, "reconciliation complete",
			slog.String("exchange", r.Exchange),
			slog.Int("positions", r.Positions),
			slog.Int("discrepancies", len(r.Discrepancies)),
			slog.Int("critical", len(r.Critical())),
		)
	}
	return reports, nil
}

// Run reconciles immediately and then every interval until ctx is
// cancelled.
func (l *ReconcileLoop) Run(ctx context.Context, interval time.Duration) error {
	return runEvery(ctx, interval, func(ctx context.Context) {
		if _, err := l.RunOnce(ctx); err != nil && ctx.Err() == nil {
			l.logger.ErrorContext(ctx, "reconciliation failed", slog.String("error", err.Error()))
		}
	})
}
