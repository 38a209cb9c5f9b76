package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTradeNetAmount(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fill := Fill{
		OrderID:   "o-1",
		Symbol:    " btcusdt ",
		Exchange:  "Binance",
		Side:      TradeSideBuy,
		Quantity:  decimal.RequireFromString("0.5"),
		Price:     decimal.RequireFromString("60000"),
		Fee:       decimal.RequireFromString("30"),
		Timestamp: at,
	}

	buy := NewTrade(fill)
	assert.Equal(t, "BTCUSDT", buy.Symbol)
	assert.Equal(t, "binance", buy.Exchange)
	assert.True(t, buy.NetAmount.Equal(decimal.RequireFromString("30030")), buy.NetAmount.String())
	assert.Equal(t, at, buy.Timestamp)

	fill.Side = TradeSideSell
	sell := NewTrade(fill)
	assert.True(t, sell.NetAmount.Equal(decimal.RequireFromString("29970")), sell.NetAmount.String())
}

func TestNewTradeDefaultsTimestamp(t *testing.T) {
	before := time.Now().UTC()
	tr := NewTrade(Fill{Side: TradeSideBuy})
	assert.False(t, tr.Timestamp.Before(before))
}

func TestAsRejectionThroughWrapping(t *testing.T) {
	rej := &InsufficientQuantity{
		Owned:     decimal.RequireFromString("1"),
		Requested: decimal.RequireFromString("2"),
	}
	err := fmt.Errorf("sell validator: %w", rej)

	got, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, RejectInsufficientQuantity, got.Code())

	var typed *InsufficientQuantity
	require.True(t, errors.As(err, &typed))
	assert.True(t, typed.Requested.Equal(decimal.RequireFromString("2")))

	_, ok = AsRejection(fmt.Errorf("ledger: %w", ErrStorage))
	assert.False(t, ok)
	_, ok = AsRejection(nil)
	assert.False(t, ok)
}

func TestRejectionCodes(t *testing.T) {
	tests := []struct {
		rej  Rejection
		want RejectCode
	}{
		{&NonSpotSymbol{Symbol: "BTCUSDT-PERP"}, RejectNonSpotSymbol},
		{&UnsupportedExchange{Exchange: "ftx"}, RejectUnsupportedExchange},
		{&InvalidQuantityOrPrice{}, RejectInvalidQuantityOrPrice},
		{&NoPosition{Symbol: "ETHUSDT", Exchange: "okx"}, RejectNoPosition},
		{&InsufficientQuantity{}, RejectInsufficientQuantity},
		{&LossPrevention{}, RejectLossPrevention},
		{&MinimumProfitNotMet{}, RejectMinimumProfitNotMet},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rej.Code())
			assert.NotEmpty(t, tt.rej.Error())
		})
	}
}

func TestLossPreventionJSON(t *testing.T) {
	data, err := json.Marshal(&LossPrevention{
		ExpectedLoss:       decimal.RequireFromString("1.25"),
		MinProfitablePrice: decimal.RequireFromString("100.5"),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"expected_loss":"1.25","min_profitable_price":"100.5"}`, string(data))
}

func TestPositionKeyNormalises(t *testing.T) {
	k := NewPositionKey(" ethusdt", "OKX ")
	assert.Equal(t, PositionKey{Symbol: "ETHUSDT", Exchange: "okx"}, k)
	assert.Equal(t, "okx:ETHUSDT", k.String())
}

func TestPositionCloneIsIndependent(t *testing.T) {
	closed := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	p := Position{BuyOrderIDs: []string{"a"}, ClosedAt: &closed}

	c := p.Clone()
	c.BuyOrderIDs[0] = "b"
	*c.ClosedAt = closed.Add(time.Hour)

	assert.Equal(t, "a", p.BuyOrderIDs[0])
	assert.Equal(t, closed, *p.ClosedAt)
}

func TestReportCritical(t *testing.T) {
	r := ReconciliationReport{Discrepancies: []InventoryDiscrepancy{
		{Symbol: "A", Severity: SeverityLow},
		{Symbol: "B", Severity: SeverityCritical},
		{Symbol: "C", Severity: SeverityHigh},
	}}
	crit := r.Critical()
	require.Len(t, crit, 1)
	assert.Equal(t, "B", crit[0].Symbol)
}
