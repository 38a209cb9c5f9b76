// Package ledger holds the authoritative record of what the system owns.
//
// Every mutation is written to the store before the in-memory copy is
// replaced, so a reader never sees a quantity that is not yet durable.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotledger/internal/domain"
	"github.com/alanyoungcy/spotledger/internal/logging"
)

// entry guards a single (symbol, exchange) key. Entries are never removed
// from the ledger map, so it grows with the set of keys ever traded, which is
// bounded by the exchanges' symbol lists. A closed position leaves pos nil.
type entry struct {
	mu  sync.RWMutex
	pos *domain.Position
}

// Ledger is the in-memory view of open positions, backed by a LedgerStore.
type Ledger struct {
	store   domain.LedgerStore
	locks   domain.LockManager
	lockTTL time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[domain.PositionKey]*entry
}

// New creates a Ledger. locks may be nil, in which case mutations are
// serialised only within this process.
func New(store domain.LedgerStore, locks domain.LockManager, lockTTL time.Duration, logger *slog.Logger) *Ledger {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &Ledger{
		store:   store,
		locks:   locks,
		lockTTL: lockTTL,
		logger:  logger.With(slog.String("component", "ledger")),
		entries: make(map[domain.PositionKey]*entry),
	}
}

// Load replaces the in-memory state with the open positions in the store.
func (l *Ledger) Load(ctx context.Context) error {
	positions, err := l.store.ListOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load: %w", err)
	}

	entries := make(map[domain.PositionKey]*entry, len(positions))
	for _, p := range positions {
		k := p.Key()
		if _, dup := entries[k]; dup {
			return fmt.Errorf("ledger: load: two open positions for %s: %w", k, domain.ErrInvariantViolation)
		}
		pos := p.Clone()
		entries[k] = &entry{pos: &pos}
	}

	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "ledger: loaded open positions", slog.Int("count", len(entries)))
	return nil
}

func (l *Ledger) lookup(k domain.PositionKey, create bool) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[k]
	if !ok && create {
		e = &entry{}
		l.entries[k] = e
	}
	return e
}

// Get returns a snapshot of the open position for symbol on exchange.
func (l *Ledger) Get(symbol, exchange string) (domain.Position, bool) {
	e := l.lookup(domain.NewPositionKey(symbol, exchange), false)
	if e == nil {
		return domain.Position{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pos == nil {
		return domain.Position{}, false
	}
	return e.pos.Clone(), true
}

// SellableQuantity returns the quantity that may be sold, or zero when
// there is no open position.
func (l *Ledger) SellableQuantity(symbol, exchange string) decimal.Decimal {
	if p, ok := l.Get(symbol, exchange); ok {
		return p.Quantity
	}
	return decimal.Zero
}

// Positions returns snapshots of the open positions on exchange, or on every
// exchange when exchange is empty. The result is sorted by exchange then
// symbol.
func (l *Ledger) Positions(exchange string) []domain.Position {
	exchange = domain.NormalizeExchange(exchange)

	l.mu.Lock()
	entries := make([]*entry, 0, len(l.entries))
	for k, e := range l.entries {
		if exchange == "" || k.Exchange == exchange {
			entries = append(entries, e)
		}
	}
	l.mu.Unlock()

	out := make([]domain.Position, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		if e.pos != nil {
			out = append(out, e.pos.Clone())
		}
		e.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Exchange != out[j].Exchange {
			return out[i].Exchange < out[j].Exchange
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// ApplyBuy records a buy trade, creating the position if none is open and
// recomputing the weighted-average cost basis otherwise.
func (l *Ledger) ApplyBuy(ctx context.Context, t domain.Trade) (domain.Position, error) {
	if err := checkTrade(t, domain.TradeSideBuy); err != nil {
		return domain.Position{}, err
	}
	k := domain.NewPositionKey(t.Symbol, t.Exchange)
	e := l.lookup(k, true)

	e.mu.Lock()
	defer e.mu.Unlock()

	unlock, err := l.acquire(ctx, k)
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()
	if err := l.refresh(ctx, k, e); err != nil {
		return domain.Position{}, err
	}

	var next domain.Position
	if e.pos == nil {
		next = domain.Position{
			ID:           uuid.NewString(),
			Symbol:       k.Symbol,
			Exchange:     k.Exchange,
			Quantity:     t.Quantity,
			TotalCost:    t.NetAmount,
			AvgCostBasis: t.NetAmount.Div(t.Quantity),
			BuyOrderIDs:  []string{t.OrderID},
			FirstBuyAt:   t.Timestamp,
			LastBuyAt:    t.Timestamp,
			RealizedPnL:  decimal.Zero,
			Status:       domain.PositionStatusOpen,
		}
	} else {
		next = e.pos.Clone()
		next.TotalCost = next.TotalCost.Add(t.NetAmount)
		next.Quantity = next.Quantity.Add(t.Quantity)
		next.AvgCostBasis = next.TotalCost.Div(next.Quantity)
		next.BuyOrderIDs = append(next.BuyOrderIDs, t.OrderID)
		next.LastBuyAt = t.Timestamp
	}

	if err := l.store.CommitTrade(ctx, next, t); err != nil {
		return domain.Position{}, fmt.Errorf("ledger: commit buy %s: %w", t.OrderID, err)
	}
	e.pos = &next

	l.logger.InfoContext(ctx, "ledger: buy applied",
		slog.String("symbol", k.Symbol),
		slog.String("exchange", k.Exchange),
		slog.String("order_id", t.OrderID),
		slog.String("quantity", next.Quantity.String()),
		slog.String("avg_cost_basis", next.AvgCostBasis.String()),
	)
	return next.Clone(), nil
}

// ApplySell records a sell trade. The quantity is checked again under the
// write lock; exceeding it means a caller skipped validation and is reported
// as an invariant violation. A position sold down to exactly zero is closed.
func (l *Ledger) ApplySell(ctx context.Context, t domain.Trade) (domain.Position, error) {
	if err := checkTrade(t, domain.TradeSideSell); err != nil {
		return domain.Position{}, err
	}
	k := domain.NewPositionKey(t.Symbol, t.Exchange)
	// Another process may have opened the position, so a shared ledger
	// creates the entry and lets refresh decide.
	e := l.lookup(k, l.locks != nil)
	if e == nil {
		return domain.Position{}, fmt.Errorf("ledger: sell %s: %s: %w", t.OrderID, k, domain.ErrPositionNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	unlock, err := l.acquire(ctx, k)
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	var cached decimal.Decimal
	if e.pos != nil {
		cached = e.pos.Quantity
	}
	if err := l.refresh(ctx, k, e); err != nil {
		return domain.Position{}, err
	}

	if e.pos == nil {
		return domain.Position{}, fmt.Errorf("ledger: sell %s: %s: %w", t.OrderID, k, domain.ErrPositionNotFound)
	}
	if t.Quantity.GreaterThan(e.pos.Quantity) {
		attrs := []any{
			slog.String("symbol", k.Symbol),
			slog.String("exchange", k.Exchange),
			slog.String("order_id", t.OrderID),
			slog.String("owned", e.pos.Quantity.String()),
			slog.String("requested", t.Quantity.String()),
		}
		// A quantity that fit this process's view but not the stored row was
		// sold elsewhere in the meantime; the caller's check was sound.
		if !t.Quantity.GreaterThan(cached) {
			l.logger.WarnContext(ctx, "ledger: position reduced by another process", attrs...)
			return domain.Position{}, fmt.Errorf("ledger: sell %s: %w", t.OrderID, domain.ErrInsufficientQuantity)
		}
		l.logger.Log(ctx, logging.LevelCritical, "ledger: sell exceeds owned quantity", attrs...)
		return domain.Position{}, fmt.Errorf("ledger: sell %s: %w: %w", t.OrderID, domain.ErrInvariantViolation, domain.ErrInsufficientQuantity)
	}

	next := e.pos.Clone()
	removed := next.AvgCostBasis.Mul(t.Quantity)
	next.Quantity = next.Quantity.Sub(t.Quantity)
	next.RealizedPnL = next.RealizedPnL.Add(t.NetAmount.Sub(removed))
	next.TotalCost = next.AvgCostBasis.Mul(next.Quantity)

	closed := next.Quantity.IsZero()
	if closed {
		at := t.Timestamp
		next.Status = domain.PositionStatusClosed
		next.ClosedAt = &at
	}

	if err := l.store.CommitTrade(ctx, next, t); err != nil {
		return domain.Position{}, fmt.Errorf("ledger: commit sell %s: %w", t.OrderID, err)
	}
	if closed {
		e.pos = nil
	} else {
		e.pos = &next
	}

	l.logger.InfoContext(ctx, "ledger: sell applied",
		slog.String("symbol", k.Symbol),
		slog.String("exchange", k.Exchange),
		slog.String("order_id", t.OrderID),
		slog.String("remaining", next.Quantity.String()),
		slog.String("realized_pnl", next.RealizedPnL.String()),
		slog.Bool("closed", closed),
	)
	return next.Clone(), nil
}

// refresh replaces e's cached position with the stored open row when the
// store is shared with other processes. It must run while both the entry
// lock and the cross-process lock are held.
func (l *Ledger) refresh(ctx context.Context, k domain.PositionKey, e *entry) error {
	if l.locks == nil {
		return nil
	}
	p, err := l.store.GetOpenPosition(ctx, k)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		e.pos = nil
	case err != nil:
		return fmt.Errorf("ledger: reload %s: %w", k, err)
	default:
		e.pos = &p
	}
	return nil
}

// acquire takes the cross-process lock for k when a LockManager is wired.
func (l *Ledger) acquire(ctx context.Context, k domain.PositionKey) (func(), error) {
	if l.locks == nil {
		return func() {}, nil
	}
	unlock, err := l.locks.Acquire(ctx, "ledger:"+k.String(), l.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("ledger: lock %s: %w", k, err)
	}
	return unlock, nil
}

func checkTrade(t domain.Trade, side domain.TradeSide) error {
	switch {
	case t.Side != side:
		return fmt.Errorf("ledger: trade %s has side %q, want %q: %w", t.OrderID, t.Side, side, domain.ErrInvalidTrade)
	case t.OrderID == "":
		return fmt.Errorf("ledger: trade without order id: %w", domain.ErrInvalidTrade)
	case !t.Quantity.IsPositive(), !t.Price.IsPositive():
		return fmt.Errorf("ledger: trade %s quantity and price must be positive: %w", t.OrderID, domain.ErrInvalidTrade)
	case t.Fee.IsNegative():
		return fmt.Errorf("ledger: trade %s has negative fee: %w", t.OrderID, domain.ErrInvalidTrade)
	}
	return nil
}
