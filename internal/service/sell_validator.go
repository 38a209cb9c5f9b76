package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// SellPolicy holds the profit thresholds a sale must clear.
type SellPolicy struct {
	MinProfitMargin decimal.Decimal
	SlippageBuffer  decimal.Decimal
}

// SellValidator is the final gate before a sell order. A rejection from
// Validate is an absolute veto for the given inputs.
type SellValidator struct {
	book    PositionBook
	fees    FeeModel
	symbols SymbolClassifier
	policy  SellPolicy
	events  *EventPublisher
	alerter Alerter
	logger  *slog.Logger
}

// NewSellValidator creates a SellValidator.
func NewSellValidator(book PositionBook, fees FeeModel, symbols SymbolClassifier, policy SellPolicy, events *EventPublisher, logger *slog.Logger) *SellValidator {
	return &SellValidator{
		book:    book,
		fees:    fees,
		symbols: symbols,
		policy:  policy,
		events:  events,
		logger:  logger,
	}
}

// SetAlerter routes ledger invariant violations seen by Record to a. Nil
// disables alerting.
func (v *SellValidator) SetAlerter(a Alerter) {
	v.alerter = a
}

// Validate decides whether selling qty of symbol at price would be
// guaranteed profitable after fees. It reads the ledger but never changes
// it, and the quote is only valid for the ledger state it was computed on.
func (v *SellValidator) Validate(ctx context.Context, symbol, exchange string, qty, price decimal.Decimal, isMaker bool) (domain.SellQuote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	exchange = domain.NormalizeExchange(exchange)

	q, err := v.quote(symbol, exchange, qty, price, isMaker)
	if err != nil {
		v.events.Broadcast(ctx, rejectedEvent(symbol, exchange, qty, price, err))
		return domain.SellQuote{}, err
	}

	v.events.Broadcast(ctx, domain.LedgerEvent{
		Type:     domain.EventSellAccepted,
		Symbol:   symbol,
		Exchange: exchange,
		Detail: map[string]any{
			"quantity":             q.Quantity.String(),
			"price":                q.Price.String(),
			"guaranteed_profit":    q.GuaranteedProfit.String(),
			"profit_margin":        q.ProfitMargin.String(),
			"min_profitable_price": q.MinProfitablePrice.String(),
		},
	})
	return q, nil
}

func (v *SellValidator) quote(symbol, exchange string, qty, price decimal.Decimal, isMaker bool) (domain.SellQuote, error) {
	pos, err := v.checkOwnership(symbol, exchange, qty, price)
	if err != nil {
		return domain.SellQuote{}, err
	}

	rate, err := v.fees.Rate(exchange, isMaker)
	if err != nil {
		return domain.SellQuote{}, &domain.UnsupportedExchange{Exchange: exchange}
	}

	one := decimal.NewFromInt(1)
	gross := qty.Mul(price)
	fee := gross.Mul(rate)
	net := gross.Sub(fee)
	removed := pos.AvgCostBasis.Mul(qty)
	breakeven := pos.AvgCostBasis.Div(one.Sub(rate))
	minProfitable := breakeven.Mul(one.Add(v.policy.MinProfitMargin).Add(v.policy.SlippageBuffer))
	profit := net.Sub(removed)

	if !profit.IsPositive() {
		return domain.SellQuote{}, &domain.LossPrevention{
			ExpectedLoss:       profit.Neg(),
			MinProfitablePrice: minProfitable,
		}
	}
	margin := profit.Div(removed)
	if margin.LessThan(v.policy.MinProfitMargin) {
		return domain.SellQuote{}, &domain.MinimumProfitNotMet{
			CurrentMargin:  margin,
			RequiredMargin: v.policy.MinProfitMargin,
		}
	}

	return domain.SellQuote{
		Symbol:              symbol,
		Exchange:            exchange,
		Quantity:            qty,
		Price:               price,
		IsMaker:             isMaker,
		FeeRate:             rate,
		CostBasis:           pos.AvgCostBasis,
		MinBreakevenPrice:   breakeven,
		MinProfitablePrice:  minProfitable,
		ExpectedFee:         fee,
		ExpectedNetProceeds: net,
		CostBasisRemoved:    removed,
		GuaranteedProfit:    profit,
		ProfitMargin:        margin,
	}, nil
}

// checkOwnership runs the checks that Record repeats at commit time.
func (v *SellValidator) checkOwnership(symbol, exchange string, qty, price decimal.Decimal) (domain.Position, error) {
	if !v.symbols.IsSpotEligible(symbol) {
		return domain.Position{}, &domain.NonSpotSymbol{Symbol: symbol}
	}
	if !qty.IsPositive() || !price.IsPositive() {
		return domain.Position{}, &domain.InvalidQuantityOrPrice{Quantity: qty, Price: price}
	}
	pos, ok := v.book.Get(symbol, exchange)
	if !ok {
		return domain.Position{}, &domain.NoPosition{Symbol: symbol, Exchange: exchange}
	}
	if qty.GreaterThan(pos.Quantity) {
		return domain.Position{}, &domain.InsufficientQuantity{Owned: pos.Quantity, Requested: qty}
	}
	return pos, nil
}

// Record applies an executed sell to the ledger. Ownership is checked again
// against the current ledger state; the ledger checks once more under its
// write lock.
func (v *SellValidator) Record(ctx context.Context, fill domain.Fill) (domain.Position, error) {
	if fill.Side == "" {
		fill.Side = domain.TradeSideSell
	}
	if fill.Side != domain.TradeSideSell {
		return domain.Position{}, fmt.Errorf("sell_validator: fill %s has side %q: %w", fill.OrderID, fill.Side, domain.ErrInvalidTrade)
	}
	symbol := domain.NormalizeSymbol(fill.Symbol)
	exchange := domain.NormalizeExchange(fill.Exchange)
	if _, err := v.checkOwnership(symbol, exchange, fill.Quantity, fill.Price); err != nil {
		ev := rejectedEvent(symbol, exchange, fill.Quantity, fill.Price, err)
		ev.Detail["order_id"] = fill.OrderID
		v.events.Publish(ctx, ev)
		return domain.Position{}, err
	}

	t := domain.NewTrade(fill)
	pos, err := v.book.ApplySell(ctx, t)
	if err != nil {
		if errors.Is(err, domain.ErrInvariantViolation) && v.alerter != nil {
			msg := fmt.Sprintf("%s on %s: sell %s refused by ledger: %v", symbol, exchange, fill.OrderID, err)
			if aerr := v.alerter.Notify(ctx, "invariant_violation", "Ledger invariant violation", msg); aerr != nil {
				v.logger.WarnContext(ctx, "sell_validator: alert failed", slog.String("error", aerr.Error()))
			}
		}
		return domain.Position{}, fmt.Errorf("sell_validator: record %s: %w", fill.OrderID, err)
	}

	v.events.Publish(ctx, domain.LedgerEvent{
		Type:     domain.EventSellRecorded,
		Symbol:   pos.Symbol,
		Exchange: pos.Exchange,
		Detail: map[string]any{
			"order_id":     t.OrderID,
			"position_id":  pos.ID,
			"quantity":     t.Quantity.String(),
			"price":        t.Price.String(),
			"fee":          t.Fee.String(),
			"net_amount":   t.NetAmount.String(),
			"remaining":    pos.Quantity.String(),
			"realized_pnl": pos.RealizedPnL.String(),
		},
	})
	if pos.Status == domain.PositionStatusClosed {
		v.events.Publish(ctx, domain.LedgerEvent{
			Type:     domain.EventPositionClosed,
			Symbol:   pos.Symbol,
			Exchange: pos.Exchange,
			Detail: map[string]any{
				"position_id":  pos.ID,
				"realized_pnl": pos.RealizedPnL.String(),
				"buy_orders":   len(pos.BuyOrderIDs),
			},
		})
	}
	return pos, nil
}

func rejectedEvent(symbol, exchange string, qty, price decimal.Decimal, err error) domain.LedgerEvent {
	detail := map[string]any{
		"quantity": qty.String(),
		"price":    price.String(),
		"reason":   err.Error(),
	}
	if r, ok := domain.AsRejection(err); ok {
		detail["code"] = string(r.Code())
	}
	return domain.LedgerEvent{
		Type:     domain.EventSellRejected,
		Symbol:   symbol,
		Exchange: exchange,
		Detail:   detail,
	}
}
