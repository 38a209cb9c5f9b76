package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/spotledger/internal/balances"
	"github.com/alanyoungcy/spotledger/internal/domain"
	"github.com/alanyoungcy/spotledger/internal/fees"
	"github.com/alanyoungcy/spotledger/internal/pipeline"
	"github.com/alanyoungcy/spotledger/internal/server"
	"github.com/alanyoungcy/spotledger/internal/server/handler"
	"github.com/alanyoungcy/spotledger/internal/server/ws"
	"github.com/alanyoungcy/spotledger/internal/service"
	"github.com/alanyoungcy/spotledger/internal/symbol"
)

// ErrCriticalDiscrepancies is returned by the one-shot reconcile mode when
// any exchange holds a critical mismatch, so the process exits non-zero.
var ErrCriticalDiscrepancies = errors.New("critical inventory discrepancies found")

// services holds the ledger workflows shared by every mode.
type services struct {
	events     *service.EventPublisher
	buys       *service.BuyValidator
	sells      *service.SellValidator
	positions  *service.PositionService
	reconciler *service.Reconciler
}

func (a *App) buildServices(deps *Dependencies) *services {
	feeModel := fees.NewModel(a.cfg.Fees)
	classifier := symbol.NewClassifier()

	events := service.NewEventPublisher(deps.SignalBus, deps.AuditStore,
		a.logger.With(slog.String("component", "events")))

	sells := service.NewSellValidator(deps.Ledger, feeModel, classifier, service.SellPolicy{
		MinProfitMargin: a.cfg.Ledger.MinProfitMargin,
		SlippageBuffer:  a.cfg.Ledger.SlippageBuffer,
	}, events, a.logger.With(slog.String("component", "sell_validator")))
	sells.SetAlerter(deps.Notifier)

	return &services{
		events: events,
		buys: service.NewBuyValidator(deps.Ledger, feeModel, classifier, events,
			a.logger.With(slog.String("component", "buy_validator"))),
		sells: sells,
		positions: service.NewPositionService(deps.Ledger, deps.Ledger, deps.LedgerStore,
			deps.DiscrepancyStore, deps.AuditStore, deps.PriceCache,
			a.logger.With(slog.String("component", "positions"))),
		reconciler: service.NewReconciler(deps.Ledger, deps.DiscrepancyStore, events, deps.Notifier,
			service.ReconcilePolicy{
				Tolerance: a.cfg.Reconcile.Tolerance,
				HighPct:   a.cfg.Reconcile.HighPct,
			}, a.logger.With(slog.String("component", "reconciler"))),
	}
}

// balanceSource prefers the redis balance cache fed by exchange connectors
// and falls back to the configured snapshot file. It returns nil when
// neither is available.
func (a *App) balanceSource(deps *Dependencies) domain.BalanceSource {
	if deps.BalanceCache != nil {
		return deps.BalanceCache
	}
	if a.cfg.Reconcile.SnapshotFile != "" {
		return balances.NewFileSource(a.cfg.Reconcile.SnapshotFile)
	}
	return nil
}

// ServeMode starts the HTTP API, the websocket event stream and the periodic
// reconciliation loop.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")
	return a.runBackground(ctx, deps, false)
}

// FullMode is ServeMode plus the periodic archive loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runBackground(ctx, deps, true)
}

func (a *App) runBackground(ctx context.Context, deps *Dependencies, withArchive bool) error {
	svcs := a.buildServices(deps)
	source := a.balanceSource(deps)

	g, ctx := errgroup.WithContext(ctx)

	var loop *pipeline.ReconcileLoop
	if a.cfg.Reconcile.Enabled && source != nil {
		loop = pipeline.NewReconcileLoop(svcs.reconciler, source, a.cfg.Reconcile.Exchanges, a.logger)
	}
	var archiver *pipeline.Archiver
	if withArchive && a.cfg.Archive.Enabled && deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	}
	if loop != nil || archiver != nil {
		orch := pipeline.NewOrchestrator(loop, archiver,
			a.cfg.Reconcile.Interval.Duration, a.cfg.Archive.Interval.Duration,
			a.logger.With(slog.String("component", "pipeline")))
		g.Go(func() error { return orch.Run(ctx) })
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs, source)
	}

	// Keep the group alive until shutdown even when nothing else runs.
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	return g.Wait()
}

// ReconcileMode reconciles every exchange in the configured balance
// snapshot file once and exits.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode",
		slog.String("snapshot", a.cfg.Reconcile.SnapshotFile))

	// The snapshot decides which exchanges are checked; a configured exchange
	// missing from the file would otherwise fail the whole run.
	source := balances.NewFileSource(a.cfg.Reconcile.SnapshotFile)
	exchanges, err := source.Exchanges()
	if err != nil {
		return fmt.Errorf("reconcile mode: %w", err)
	}

	svcs := a.buildServices(deps)
	loop := pipeline.NewReconcileLoop(svcs.reconciler, source, exchanges, a.logger)
	reports, err := loop.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("reconcile mode: %w", err)
	}

	critical := 0
	for _, r := range reports {
		critical += len(r.Critical())
	}
	if critical > 0 {
		return fmt.Errorf("reconcile mode: %d found: %w", critical, ErrCriticalDiscrepancies)
	}
	return nil
}

// ArchiveMode runs a single archive pass and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.Archive.RetentionDays))

	if deps.Archiver == nil {
		return errors.New("archive mode: s3 is not enabled")
	}
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	if err := archiver.Run(ctx); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return nil
}

// startHTTPServer adds the HTTP server, and the websocket hub when a signal
// bus is wired, to g. The server is shut down gracefully when ctx is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services, source domain.BalanceSource) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("ws hub: %w", err)
			}
			return nil
		})
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Positions: handler.NewPositionHandler(svcs.positions, a.logger),
		Trades:    handler.NewTradeHandler(svcs.buys, svcs.sells, a.logger),
		History:   handler.NewHistoryHandler(svcs.positions, a.logger),
		Reconcile: handler.NewReconcileHandler(svcs.reconciler, source, a.logger),
	}
	if deps.BalanceCache != nil && deps.PriceCache != nil {
		handlers.MarketData = handler.NewMarketDataHandler(deps.BalanceCache, deps.PriceCache, a.logger)
	}
	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimiter:     deps.RateLimiter,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
