package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

type staticPrices map[string]map[string]decimal.Decimal

func (p staticPrices) SetPrice(context.Context, string, string, decimal.Decimal, time.Time) error {
	return nil
}

func (p staticPrices) GetPrice(_ context.Context, exchange, symbol string) (decimal.Decimal, time.Time, error) {
	px, ok := p[exchange][symbol]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	return px, time.Now(), nil
}

func (p staticPrices) GetPrices(_ context.Context, exchange string) (map[string]decimal.Decimal, error) {
	return p[exchange], nil
}

func TestPositionServiceSummaryUsesMarks(t *testing.T) {
	f := newFixture(t)
	f.buyBTC(t)
	prices := staticPrices{"binance": {"BTCUSDT": d("60000")}}
	svc := NewPositionService(f.ledger, f.ledger, f.store, f.store, f.audit, prices, discard())

	sum := svc.Summary(context.Background())
	assert.Equal(t, 1, sum.TotalPositions)
	// 0.05 * 60000 - 2502.5
	assert.True(t, sum.UnrealizedPnL.Equal(d("497.5")), sum.UnrealizedPnL.String())
}

func TestPositionServiceGetAndTrades(t *testing.T) {
	f := newFixture(t)
	f.buyBTC(t)
	svc := NewPositionService(f.ledger, f.ledger, f.store, f.store, f.audit, nil, discard())
	ctx := context.Background()

	pos, err := svc.Get(ctx, "btcusdt", "BINANCE")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d("0.05")))

	_, err = svc.Get(ctx, "ETHUSDT", "binance")
	require.ErrorIs(t, err, domain.ErrNotFound)

	trades, err := svc.Trades(ctx, domain.TradeFilter{Exchange: "Binance"}, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "buy-1", trades[0].OrderID)

	assert.Len(t, svc.List(ctx, ""), 1)
	sum := svc.Summary(ctx)
	assert.Equal(t, 1, sum.ByExchange["binance"].Unpriced)
}

func TestPositionServiceClosedPositionAndAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opened := f.buyBTC(t)
	_, err := f.sells.Record(ctx, fill(domain.TradeSideSell, "sell-1", "BTCUSDT", "binance", "0.05", "52000", "2.6"))
	require.NoError(t, err)

	svc := NewPositionService(f.ledger, f.ledger, f.store, f.store, f.audit, nil, discard())

	_, err = svc.Get(ctx, "BTCUSDT", "binance")
	require.ErrorIs(t, err, domain.ErrNotFound)

	closed, err := svc.Position(ctx, opened.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	assert.True(t, closed.RealizedPnL.IsPositive())

	_, err = svc.Position(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	entries, err := svc.Audit(ctx, string(domain.EventSellRecorded), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(domain.EventSellRecorded), entries[0].Event)

	all, err := svc.Audit(ctx, "", domain.ListOpts{})
	require.NoError(t, err)
	assert.Greater(t, len(all), 1)
}
