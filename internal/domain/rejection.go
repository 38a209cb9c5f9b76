package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RejectCode is a stable identifier for a rejection kind.
type RejectCode string

const (
	RejectNonSpotSymbol          RejectCode = "non_spot_symbol"
	RejectUnsupportedExchange    RejectCode = "unsupported_exchange"
	RejectInvalidQuantityOrPrice RejectCode = "invalid_quantity_or_price"
	RejectNoPosition             RejectCode = "no_position"
	RejectInsufficientQuantity   RejectCode = "insufficient_quantity"
	RejectLossPrevention         RejectCode = "loss_prevention"
	RejectMinimumProfitNotMet    RejectCode = "minimum_profit_not_met"
)

// Rejection is a business veto on a buy or sell. Rejections are final
// for the given inputs and are never retried.
type Rejection interface {
	error
	Code() RejectCode
}

// AsRejection returns the Rejection wrapped in err, if any.
func AsRejection(err error) (Rejection, bool) {
	var r Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

type NonSpotSymbol struct {
	Symbol string `json:"symbol"`
}

func (e *NonSpotSymbol) Error() string {
	return fmt.Sprintf("symbol %q is not spot-eligible", e.Symbol)
}

func (e *NonSpotSymbol) Code() RejectCode { return RejectNonSpotSymbol }

type UnsupportedExchange struct {
	Exchange string `json:"exchange"`
}

func (e *UnsupportedExchange) Error() string {
	return fmt.Sprintf("exchange %q has no fee schedule", e.Exchange)
}

func (e *UnsupportedExchange) Code() RejectCode { return RejectUnsupportedExchange }

type InvalidQuantityOrPrice struct {
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

func (e *InvalidQuantityOrPrice) Error() string {
	return fmt.Sprintf("quantity %s and price %s must both be positive", e.Quantity, e.Price)
}

func (e *InvalidQuantityOrPrice) Code() RejectCode { return RejectInvalidQuantityOrPrice }

type NoPosition struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

func (e *NoPosition) Error() string {
	return fmt.Sprintf("no position in %s on %s", e.Symbol, e.Exchange)
}

func (e *NoPosition) Code() RejectCode { return RejectNoPosition }

type InsufficientQuantity struct {
	Owned     decimal.Decimal `json:"owned"`
	Requested decimal.Decimal `json:"requested"`
}

func (e *InsufficientQuantity) Error() string {
	return fmt.Sprintf("requested %s but only %s owned", e.Requested, e.Owned)
}

func (e *InsufficientQuantity) Code() RejectCode { return RejectInsufficientQuantity }

// LossPrevention vetoes a sale whose net proceeds would not exceed the
// cost basis removed.
type LossPrevention struct {
	ExpectedLoss       decimal.Decimal `json:"expected_loss"`
	MinProfitablePrice decimal.Decimal `json:"min_profitable_price"`
}

func (e *LossPrevention) Error() string {
	return fmt.Sprintf("sale would lose %s; minimum profitable price is %s", e.ExpectedLoss, e.MinProfitablePrice)
}

func (e *LossPrevention) Code() RejectCode { return RejectLossPrevention }

type MinimumProfitNotMet struct {
	CurrentMargin  decimal.Decimal `json:"current_margin"`
	RequiredMargin decimal.Decimal `json:"required_margin"`
}

func (e *MinimumProfitNotMet) Error() string {
	return fmt.Sprintf("profit margin %s below required %s", e.CurrentMargin, e.RequiredMargin)
}

func (e *MinimumProfitNotMet) Code() RejectCode { return RejectMinimumProfitNotMet }
