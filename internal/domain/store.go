package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeFilter narrows a trade listing. Empty fields match everything.
type TradeFilter struct {
	Symbol   string
	Exchange string
	Side     TradeSide
}

// LedgerStore persists positions and their trades.
type LedgerStore interface {
	// CommitTrade writes the post-trade position and appends the trade in
	// one transaction. Either both are durable or neither is.
	CommitTrade(ctx context.Context, pos Position, trade Trade) error
	ListOpenPositions(ctx context.Context) ([]Position, error)
	GetPosition(ctx context.Context, id string) (Position, error)
	// GetOpenPosition returns the open row for key, or ErrNotFound.
	GetOpenPosition(ctx context.Context, key PositionKey) (Position, error)
	ListTrades(ctx context.Context, filter TradeFilter, opts ListOpts) ([]Trade, error)
	ListTradesBefore(ctx context.Context, before time.Time, limit int) ([]Trade, error)
}

// DiscrepancyStore persists reconciliation findings. Rows are never updated.
type DiscrepancyStore interface {
	AppendDiscrepancies(ctx context.Context, ds []InventoryDiscrepancy) error
	ListDiscrepancies(ctx context.Context, exchange string, opts ListOpts) ([]InventoryDiscrepancy, error)
	ListDiscrepanciesBefore(ctx context.Context, before time.Time, limit int) ([]InventoryDiscrepancy, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	// List returns entries newest first, limited to one event type unless
	// event is empty.
	List(ctx context.Context, event string, opts ListOpts) ([]AuditEntry, error)
}
