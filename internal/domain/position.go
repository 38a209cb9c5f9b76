package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position is the ledger's record of an asset held on one exchange.
// A (Symbol, Exchange) pair has at most one open position at a time.
type Position struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Exchange     string          `json:"exchange"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgCostBasis decimal.Decimal `json:"avg_cost_basis"` // fee-inclusive cost per unit
	TotalCost    decimal.Decimal `json:"total_cost"`
	BuyOrderIDs  []string        `json:"buy_order_ids"`
	FirstBuyAt   time.Time       `json:"first_buy_at"`
	LastBuyAt    time.Time       `json:"last_buy_at"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	Status       PositionStatus  `json:"status"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}

// Key returns the position's ledger key.
func (p Position) Key() PositionKey {
	return NewPositionKey(p.Symbol, p.Exchange)
}

// Clone returns a copy that shares no mutable state with p.
func (p Position) Clone() Position {
	out := p
	out.BuyOrderIDs = append([]string(nil), p.BuyOrderIDs...)
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

// PositionKey identifies a position. Symbols are upper case and
// exchanges lower case.
type PositionKey struct {
	Symbol   string
	Exchange string
}

// NewPositionKey normalises symbol and exchange into a key.
func NewPositionKey(symbol, exchange string) PositionKey {
	return PositionKey{
		Symbol:   NormalizeSymbol(symbol),
		Exchange: NormalizeExchange(exchange),
	}
}

func (k PositionKey) String() string {
	return k.Exchange + ":" + k.Symbol
}

// NormalizeSymbol upper-cases and trims a trading symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeExchange lower-cases and trims an exchange name.
func NormalizeExchange(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ExchangeSummary aggregates open positions on a single exchange.
type ExchangeSummary struct {
	Exchange      string          `json:"exchange"`
	Positions     int             `json:"positions"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Unpriced      int             `json:"unpriced"`
}

// PositionSummary is a point-in-time rollup of the ledger.
type PositionSummary struct {
	TotalPositions int                        `json:"total_positions"`
	TotalCost      decimal.Decimal            `json:"total_cost"`
	RealizedPnL    decimal.Decimal            `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal            `json:"unrealized_pnl"`
	ByExchange     map[string]ExchangeSummary `json:"by_exchange"`
	GeneratedAt    time.Time                  `json:"generated_at"`
}
