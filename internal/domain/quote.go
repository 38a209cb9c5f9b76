package domain

import "github.com/shopspring/decimal"

// BuyQuote is the fee-inclusive cost of a proposed purchase.
type BuyQuote struct {
	Symbol      string          `json:"symbol"`
	Exchange    string          `json:"exchange"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	IsMaker     bool            `json:"is_maker"`
	FeeRate     decimal.Decimal `json:"fee_rate"`
	GrossAmount decimal.Decimal `json:"gross_amount"`
	Fee         decimal.Decimal `json:"fee"`
	NetCost     decimal.Decimal `json:"net_cost"`
}

// SellQuote is the outcome of a sale that passed every loss-prevention
// check. It is never persisted and is only valid for the ledger state it
// was computed against.
type SellQuote struct {
	Symbol              string          `json:"symbol"`
	Exchange            string          `json:"exchange"`
	Quantity            decimal.Decimal `json:"quantity"`
	Price               decimal.Decimal `json:"price"`
	IsMaker             bool            `json:"is_maker"`
	FeeRate             decimal.Decimal `json:"fee_rate"`
	CostBasis           decimal.Decimal `json:"cost_basis"`
	MinBreakevenPrice   decimal.Decimal `json:"min_breakeven_price"`
	MinProfitablePrice  decimal.Decimal `json:"min_profitable_price"`
	ExpectedFee         decimal.Decimal `json:"expected_fee"`
	ExpectedNetProceeds decimal.Decimal `json:"expected_net_proceeds"`
	CostBasisRemoved    decimal.Decimal `json:"cost_basis_removed"`
	GuaranteedProfit    decimal.Decimal `json:"guaranteed_profit"`
	ProfitMargin        decimal.Decimal `json:"profit_margin"`
}
