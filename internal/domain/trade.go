package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide is the direction of a fill.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Valid reports whether s is a known side.
func (s TradeSide) Valid() bool {
	return s == TradeSideBuy || s == TradeSideSell
}

// Fill is an executed order reported by the execution layer.
type Fill struct {
	OrderID     string          `json:"order_id"`
	Symbol      string          `json:"symbol"`
	Exchange    string          `json:"exchange"`
	Side        TradeSide       `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Fee         decimal.Decimal `json:"fee"`
	FeeCurrency string          `json:"fee_currency"`
	IsMaker     bool            `json:"is_maker"`
	SlippageBps decimal.Decimal `json:"slippage_bps"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Trade is an immutable, append-only record of a fill applied to the ledger.
type Trade struct {
	OrderID     string          `json:"order_id"`
	Symbol      string          `json:"symbol"`
	Exchange    string          `json:"exchange"`
	Side        TradeSide       `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Fee         decimal.Decimal `json:"fee"`
	FeeCurrency string          `json:"fee_currency,omitempty"`
	NetAmount   decimal.Decimal `json:"net_amount"` // buy: qty*price + fee, sell: qty*price - fee
	Timestamp   time.Time       `json:"timestamp"`
	IsMaker     bool            `json:"is_maker"`
	SlippageBps decimal.Decimal `json:"slippage_bps"`
}

// NewTrade builds a Trade from a fill, normalising the key fields and
// computing the net amount. Fees are quote-currency amounts.
func NewTrade(f Fill) Trade {
	gross := f.Quantity.Mul(f.Price)
	net := gross.Add(f.Fee)
	if f.Side == TradeSideSell {
		net = gross.Sub(f.Fee)
	}
	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Trade{
		OrderID:     f.OrderID,
		Symbol:      NormalizeSymbol(f.Symbol),
		Exchange:    NormalizeExchange(f.Exchange),
		Side:        f.Side,
		Quantity:    f.Quantity,
		Price:       f.Price,
		Fee:         f.Fee,
		FeeCurrency: f.FeeCurrency,
		NetAmount:   net,
		Timestamp:   ts,
		IsMaker:     f.IsMaker,
		SlippageBps: f.SlippageBps,
	}
}
