package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// Summarizer rolls up ledger positions against mark prices.
type Summarizer interface {
	Summary(marks map[domain.PositionKey]decimal.Decimal) domain.PositionSummary
}

// PositionService answers read-only questions about positions and the
// ledger's history.
type PositionService struct {
	book          PositionBook
	summarizer    Summarizer
	store         domain.LedgerStore
	discrepancies domain.DiscrepancyStore
	audit         domain.AuditStore
	prices        domain.PriceCache
	logger        *slog.Logger
}

// NewPositionService creates a PositionService. prices may be nil, in which
// case summaries carry no unrealized PnL.
func NewPositionService(
	book PositionBook,
	summarizer Summarizer,
	store domain.LedgerStore,
	discrepancies domain.DiscrepancyStore,
	audit domain.AuditStore,
	prices domain.PriceCache,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		book:          book,
		summarizer:    summarizer,
		store:         store,
		discrepancies: discrepancies,
		audit:         audit,
		prices:        prices,
		logger:        logger,
	}
}

// List returns open positions, optionally limited to one exchange.
func (s *PositionService) List(_ context.Context, exchange string) []domain.Position {
	return s.book.Positions(exchange)
}

// Get returns the open position for symbol on exchange.
func (s *PositionService) Get(_ context.Context, symbol, exchange string) (domain.Position, error) {
	pos, ok := s.book.Get(symbol, exchange)
	if !ok {
		return domain.Position{}, fmt.Errorf("position_service: %s on %s: %w", symbol, exchange, domain.ErrNotFound)
	}
	return pos, nil
}

// Position returns a stored position by ID. Unlike Get it also finds closed
// positions, which are no longer held in memory.
func (s *PositionService) Position(ctx context.Context, id string) (domain.Position, error) {
	pos, err := s.store.GetPosition(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: position %s: %w", id, err)
	}
	return pos, nil
}

// Summary rolls up open positions using cached mark prices where present.
func (s *PositionService) Summary(ctx context.Context) domain.PositionSummary {
	marks := make(map[domain.PositionKey]decimal.Decimal)
	if s.prices != nil {
		exchanges := make(map[string]bool)
		for _, p := range s.book.Positions("") {
			exchanges[p.Exchange] = true
		}
		for ex := range exchanges {
			prices, err := s.prices.GetPrices(ctx, ex)
			if err != nil {
				s.logger.WarnContext(ctx, "position_service: mark prices unavailable",
					slog.String("exchange", ex),
					slog.String("error", err.Error()),
				)
				continue
			}
			for sym, px := range prices {
				marks[domain.NewPositionKey(sym, ex)] = px
			}
		}
	}
	return s.summarizer.Summary(marks)
}

// Trades lists recorded trades, newest first.
func (s *PositionService) Trades(ctx context.Context, filter domain.TradeFilter, opts domain.ListOpts) ([]domain.Trade, error) {
	filter.Symbol = domain.NormalizeSymbol(filter.Symbol)
	filter.Exchange = domain.NormalizeExchange(filter.Exchange)
	trades, err := s.store.ListTrades(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list trades: %w", err)
	}
	return trades, nil
}

// Discrepancies lists recorded reconciliation findings, newest first.
func (s *PositionService) Discrepancies(ctx context.Context, exchange string, opts domain.ListOpts) ([]domain.InventoryDiscrepancy, error) {
	ds, err := s.discrepancies.ListDiscrepancies(ctx, domain.NormalizeExchange(exchange), opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list discrepancies: %w", err)
	}
	return ds, nil
}

// Audit lists audit log entries, newest first, optionally for one event.
func (s *PositionService) Audit(ctx context.Context, event string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.audit.List(ctx, event, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list audit: %w", err)
	}
	return entries, nil
}
