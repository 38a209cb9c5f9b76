package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the background loops: reconciliation and cold-storage
// archival. Either may be nil.
type Orchestrator struct {
	reconcile         *ReconcileLoop
	archiver          *Archiver
	reconcileInterval time.Duration
	archiveInterval   time.Duration
	logger            *slog.Logger
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	reconcile *ReconcileLoop,
	archiver *Archiver,
	reconcileInterval time.Duration,
	archiveInterval time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		reconcile:         reconcile,
		archiver:          archiver,
		reconcileInterval: reconcileInterval,
		archiveInterval:   archiveInterval,
		logger:            logger,
	}
}

// Run starts every configured loop in an errgroup and blocks until ctx is
// cancelled or a loop fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Bool("reconcile", o.reconcile != nil),
		slog.Duration("reconcile_interval", o.reconcileInterval),
		slog.Bool("archive", o.archiver != nil),
		slog.Duration("archive_interval", o.archiveInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.reconcile != nil {
		g.Go(func() error {
			err := o.reconcile.Run(ctx, o.reconcileInterval)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("reconcile loop: %w", err)
		})
	}

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunLoop(ctx, o.archiveInterval)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
