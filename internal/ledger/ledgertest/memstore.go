// Package ledgertest provides an in-memory LedgerStore for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// MemStore is a LedgerStore and DiscrepancyStore held in memory. Set Fail to
// make the next commits return an error.
type MemStore struct {
	mu            sync.Mutex
	positions     map[string]domain.Position
	trades        []domain.Trade
	discrepancies []domain.InventoryDiscrepancy
	Fail          error
	Commits       int
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{positions: make(map[string]domain.Position)}
}

func (s *MemStore) CommitTrade(_ context.Context, pos domain.Position, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return fmt.Errorf("memstore: %w", s.Fail)
	}
	for _, existing := range s.trades {
		if existing.OrderID == t.OrderID {
			return fmt.Errorf("memstore: order %s: %w", t.OrderID, domain.ErrDuplicateTrade)
		}
	}
	s.positions[pos.ID] = pos.Clone()
	s.trades = append(s.trades, t)
	s.Commits++
	return nil
}

func (s *MemStore) ListOpenPositions(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusOpen {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

func (s *MemStore) GetPosition(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemStore) GetOpenPosition(_ context.Context, key domain.PositionKey) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusOpen && p.Key() == key {
			return p.Clone(), nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *MemStore) ListTrades(_ context.Context, f domain.TradeFilter, opts domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if f.Symbol != "" && t.Symbol != f.Symbol {
			continue
		}
		if f.Exchange != "" && t.Exchange != f.Exchange {
			continue
		}
		if f.Side != "" && t.Side != f.Side {
			continue
		}
		out = append(out, t)
	}
	return page(out, opts), nil
}

func (s *MemStore) ListTradesBefore(_ context.Context, before time.Time, limit int) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.Timestamp.Before(before) {
			out = append(out, t)
		}
	}
	return page(out, domain.ListOpts{Limit: limit}), nil
}

func (s *MemStore) AppendDiscrepancies(_ context.Context, ds []domain.InventoryDiscrepancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return fmt.Errorf("memstore: %w", s.Fail)
	}
	s.discrepancies = append(s.discrepancies, ds...)
	return nil
}

func (s *MemStore) ListDiscrepancies(_ context.Context, exchange string, opts domain.ListOpts) ([]domain.InventoryDiscrepancy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.InventoryDiscrepancy
	for _, d := range s.discrepancies {
		if exchange == "" || d.Exchange == exchange {
			out = append(out, d)
		}
	}
	return page(out, opts), nil
}

func (s *MemStore) ListDiscrepanciesBefore(_ context.Context, before time.Time, limit int) ([]domain.InventoryDiscrepancy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.InventoryDiscrepancy
	for _, d := range s.discrepancies {
		if d.DetectedAt.Before(before) {
			out = append(out, d)
		}
	}
	return page(out, domain.ListOpts{Limit: limit}), nil
}

// Trades returns every committed trade in commit order.
func (s *MemStore) Trades() []domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Trade(nil), s.trades...)
}

// Positions returns every stored position row, open or closed.
func (s *MemStore) Positions() []domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p.Clone())
	}
	return out
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

var (
	_ domain.LedgerStore      = (*MemStore)(nil)
	_ domain.DiscrepancyStore = (*MemStore)(nil)
)
