package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// ReconcilePolicy sets the discrepancy thresholds.
type ReconcilePolicy struct {
	// Tolerance is the largest absolute difference ignored as rounding.
	Tolerance decimal.Decimal
	// HighPct grades a difference above this fraction of ledger quantity High.
	HighPct decimal.Decimal
}

// DefaultReconcilePolicy returns a 1e-8 tolerance and a 1% High threshold.
func DefaultReconcilePolicy() ReconcilePolicy {
	return ReconcilePolicy{
		Tolerance: decimal.New(1, -8),
		HighPct:   decimal.New(1, -2),
	}
}

// Reconciler compares ledger positions with exchange-reported balances and
// records every mismatch. It never modifies positions.
type Reconciler struct {
	book    PositionBook
	store   domain.DiscrepancyStore
	events  *EventPublisher
	alerter Alerter
	policy  ReconcilePolicy
	logger  *slog.Logger
	now     func() time.Time
}

// NewReconciler creates a Reconciler. alerter may be nil.
func NewReconciler(book PositionBook, store domain.DiscrepancyStore, events *EventPublisher, alerter Alerter, policy ReconcilePolicy, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		book:    book,
		store:   store,
		events:  events,
		alerter: alerter,
		policy:  policy,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile checks one exchange. Symbols absent from reported count as a
// zero balance. Discrepancies are sorted by symbol and all of them are
// persisted before the report is returned.
func (r *Reconciler) Reconcile(ctx context.Context, exchange string, reported map[string]decimal.Decimal) (domain.ReconciliationReport, error) {
	exchange = domain.NormalizeExchange(exchange)
	now := r.now()

	balances := make(map[string]decimal.Decimal, len(reported))
	for sym, qty := range reported {
		s := domain.NormalizeSymbol(sym)
		balances[s] = balances[s].Add(qty)
	}

	positions := r.book.Positions(exchange)
	held := make(map[string]bool, len(positions))
	var found []domain.InventoryDiscrepancy

	for _, p := range positions {
		held[p.Symbol] = true
		onExchange := balances[p.Symbol]
		diff := p.Quantity.Sub(onExchange)
		if diff.Abs().LessThanOrEqual(r.policy.Tolerance) {
			continue
		}
		sev := domain.SeverityLow
		if diff.Abs().GreaterThan(p.Quantity.Mul(r.policy.HighPct)) {
			sev = domain.SeverityHigh
		}
		found = append(found, r.discrepancy(exchange, p.Symbol, p.Quantity, onExchange, sev, "", now))
	}

	for sym, qty := range balances {
		if held[sym] || !qty.IsPositive() {
			continue
		}
		found = append(found, r.discrepancy(exchange, sym, decimal.Zero, qty, domain.SeverityCritical, domain.NoteUnexplainedAsset, now))
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Symbol < found[j].Symbol })

	report := domain.ReconciliationReport{
		Exchange:      exchange,
		CheckedAt:     now,
		Positions:     len(positions),
		Discrepancies: found,
		Reconciled:    len(found) == 0,
	}
	if report.Discrepancies == nil {
		report.Discrepancies = []domain.InventoryDiscrepancy{}
	}

	if len(found) > 0 {
		if err := r.store.AppendDiscrepancies(ctx, found); err != nil {
			return report, fmt.Errorf("reconciler: persist %d discrepancies for %s: %w", len(found), exchange, err)
		}
	}

	for _, d := range found {
		r.events.Publish(ctx, domain.LedgerEvent{
			Type:     domain.EventDiscrepancyFound,
			Symbol:   d.Symbol,
			Exchange: d.Exchange,
			Detail: map[string]any{
				"id":               d.ID,
				"severity":         string(d.Severity),
				"system_balance":   d.SystemBalance.String(),
				"exchange_balance": d.ExchangeBalance.String(),
				"difference":       d.Difference.String(),
				"note":             d.Note,
			},
		})
	}
	r.alert(ctx, report)

	r.logger.InfoContext(ctx, "reconciler: exchange checked",
		slog.String("exchange", exchange),
		slog.Int("positions", len(positions)),
		slog.Int("discrepancies", len(found)),
		slog.Bool("reconciled", report.Reconciled),
	)
	return report, nil
}

func (r *Reconciler) discrepancy(exchange, symbol string, system, onExchange decimal.Decimal, sev domain.Severity, note string, at time.Time) domain.InventoryDiscrepancy {
	return domain.InventoryDiscrepancy{
		ID:              uuid.NewString(),
		Exchange:        exchange,
		Symbol:          symbol,
		SystemBalance:   system,
		ExchangeBalance: onExchange,
		Difference:      system.Sub(onExchange),
		Severity:        sev,
		Note:            note,
		Reconciled:      false,
		DetectedAt:      at,
	}
}

func (r *Reconciler) alert(ctx context.Context, report domain.ReconciliationReport) {
	if r.alerter == nil {
		return
	}
	for _, d := range report.Critical() {
		msg := fmt.Sprintf("%s holds %s %s that the ledger never bought. Do not sell it.",
			d.Exchange, d.ExchangeBalance, d.Symbol)
		if err := r.alerter.Notify(ctx, "discrepancy_critical", "Unexplained balance", msg); err != nil {
			r.logger.WarnContext(ctx, "reconciler: alert failed",
				slog.String("symbol", d.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ReconcileAll fetches balances from source and reconciles each exchange
// concurrently. Reports are returned in the order of exchanges.
func (r *Reconciler) ReconcileAll(ctx context.Context, source domain.BalanceSource, exchanges []string) ([]domain.ReconciliationReport, error) {
	reports := make([]domain.ReconciliationReport, len(exchanges))

	g, gctx := errgroup.WithContext(ctx)
	for i, ex := range exchanges {
		g.Go(func() error {
			balances, err := source.Balances(gctx, ex)
			if err != nil {
				return fmt.Errorf("reconciler: balances for %s: %w", ex, err)
			}
			report, err := r.Reconcile(gctx, ex, balances)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
