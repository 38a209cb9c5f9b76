// Package service implements the ledger's buy, sell and reconciliation
// workflows on top of the position ledger.
package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// PositionBook is the subset of the position ledger the services use.
type PositionBook interface {
	Get(symbol, exchange string) (domain.Position, bool)
	SellableQuantity(symbol, exchange string) decimal.Decimal
	Positions(exchange string) []domain.Position
	ApplyBuy(ctx context.Context, t domain.Trade) (domain.Position, error)
	ApplySell(ctx context.Context, t domain.Trade) (domain.Position, error)
}

// FeeModel resolves exchange fee rates.
type FeeModel interface {
	Rate(exchange string, isMaker bool) (decimal.Decimal, error)
	Known(exchange string) bool
}

// SymbolClassifier decides spot eligibility.
type SymbolClassifier interface {
	IsSpotEligible(symbol string) bool
	Reason(symbol string) string
}

// Alerter delivers operator notifications.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}
