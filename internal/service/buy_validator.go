package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// BuyValidator screens purchases and records buy fills into the ledger.
type BuyValidator struct {
	book    PositionBook
	fees    FeeModel
	symbols SymbolClassifier
	events  *EventPublisher
	logger  *slog.Logger
}

// NewBuyValidator creates a BuyValidator.
func NewBuyValidator(book PositionBook, fees FeeModel, symbols SymbolClassifier, events *EventPublisher, logger *slog.Logger) *BuyValidator {
	return &BuyValidator{
		book:    book,
		fees:    fees,
		symbols: symbols,
		events:  events,
		logger:  logger,
	}
}

// Validate checks that a purchase may be made and returns its fee-inclusive
// cost. It does not touch the ledger.
func (v *BuyValidator) Validate(symbol, exchange string, qty, price decimal.Decimal, isMaker bool) (domain.BuyQuote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	exchange = domain.NormalizeExchange(exchange)

	rate, err := v.check(symbol, exchange, qty, price, isMaker)
	if err != nil {
		return domain.BuyQuote{}, err
	}

	gross := qty.Mul(price)
	fee := gross.Mul(rate)
	return domain.BuyQuote{
		Symbol:      symbol,
		Exchange:    exchange,
		Quantity:    qty,
		Price:       price,
		IsMaker:     isMaker,
		FeeRate:     rate,
		GrossAmount: gross,
		Fee:         fee,
		NetCost:     gross.Add(fee),
	}, nil
}

func (v *BuyValidator) check(symbol, exchange string, qty, price decimal.Decimal, isMaker bool) (decimal.Decimal, error) {
	if !qty.IsPositive() || !price.IsPositive() {
		return decimal.Zero, &domain.InvalidQuantityOrPrice{Quantity: qty, Price: price}
	}
	if !v.symbols.IsSpotEligible(symbol) {
		return decimal.Zero, &domain.NonSpotSymbol{Symbol: symbol}
	}
	rate, err := v.fees.Rate(exchange, isMaker)
	if err != nil {
		return decimal.Zero, &domain.UnsupportedExchange{Exchange: exchange}
	}
	return rate, nil
}

// Record applies an executed buy to the ledger. The fill is checked again
// rather than trusting an earlier Validate call.
func (v *BuyValidator) Record(ctx context.Context, fill domain.Fill) (domain.Position, error) {
	if fill.Side == "" {
		fill.Side = domain.TradeSideBuy
	}
	if fill.Side != domain.TradeSideBuy {
		return domain.Position{}, fmt.Errorf("buy_validator: fill %s has side %q: %w", fill.OrderID, fill.Side, domain.ErrInvalidTrade)
	}
	if _, err := v.check(domain.NormalizeSymbol(fill.Symbol), domain.NormalizeExchange(fill.Exchange), fill.Quantity, fill.Price, fill.IsMaker); err != nil {
		return domain.Position{}, err
	}

	t := domain.NewTrade(fill)
	pos, err := v.book.ApplyBuy(ctx, t)
	if err != nil {
		return domain.Position{}, fmt.Errorf("buy_validator: record %s: %w", fill.OrderID, err)
	}

	v.events.Publish(ctx, domain.LedgerEvent{
		Type:     domain.EventBuyRecorded,
		Symbol:   pos.Symbol,
		Exchange: pos.Exchange,
		Detail: map[string]any{
			"order_id":       t.OrderID,
			"position_id":    pos.ID,
			"quantity":       t.Quantity.String(),
			"price":          t.Price.String(),
			"fee":            t.Fee.String(),
			"net_amount":     t.NetAmount.String(),
			"position_qty":   pos.Quantity.String(),
			"avg_cost_basis": pos.AvgCostBasis.String(),
		},
	})
	return pos, nil
}
