package service

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spotledger/internal/config"
	"github.com/alanyoungcy/spotledger/internal/domain"
	"github.com/alanyoungcy/spotledger/internal/fees"
	"github.com/alanyoungcy/spotledger/internal/ledger"
	"github.com/alanyoungcy/spotledger/internal/symbol"
)

func TestSellProfitableQuote(t *testing.T) {
	f := newFixture(t)
	f.buyBTC(t)

	q, err := f.sells.Validate(context.Background(), "BTCUSDT", "binance", d("0.05"), d("55000"), false)
	require.NoError(t, err)

	assert.True(t, q.ExpectedFee.Equal(d("2.75")))
	assert.True(t, q.ExpectedNetProceeds.Equal(d("2747.25")))
	assert.True(t, q.CostBasisRemoved.Equal(d("2502.5")))
	assert.True(t, q.GuaranteedProfit.Equal(d("244.75")))
	assert.True(t, q.ProfitMargin.GreaterThanOrEqual(d("0.005")))
	assert.True(t, q.CostBasis.Equal(d("50050")))

	// 50050 / 0.999, then scaled by 1.007
	breakeven := d("50050").Div(d("0.999"))
	assert.True(t, q.MinBreakevenPrice.Equal(breakeven))
	assert.True(t, q.MinProfitablePrice.Equal(breakeven.Mul(d("1.007"))))
	assert.Contains(t, f.bus.types(), domain.EventSellAccepted)
}

func TestSellLossPrevented(t *testing.T) {
	f := newFixture(t)
	f.buyBTC(t)

	_, err := f.sells.Validate(context.Background(), "BTCUSDT", "binance", d("0.05"), d("45000"), false)
	var loss *domain.LossPrevention
	require.ErrorAs(t, err, &loss)
	assert.True(t, loss.ExpectedLoss.Equal(d("254.75")), loss.ExpectedLoss.String())
	assert.True(t, loss.MinProfitablePrice.GreaterThan(d("50050")))
	assert.Contains(t, f.bus.types(), domain.EventSellRejected)
}

func TestSellMinimumProfitNotMet(t *testing.T) {
	f := newFixture(t)
	f.buyBTC(t)

	// profit 4.99 on 2502.5 removed is about 0.2%
	_, err := f.sells.Validate(context.Background(), "BTCUSDT", "binance", d("0.05"), d("50200"), false)
	var low *domain.MinimumProfitNotMet
	require.ErrorAs(t, err, &low)
	assert.True(t, low.RequiredMargin.Equal(d("0.005")))
	assert.True(t, low.CurrentMargin.IsPositive())
	assert.True(t, low.CurrentMargin.LessThan(d("0.005")))
}

func TestSellRejectsNonSpotRegardlessOfPosition(t *testing.T) {
	f := newFixture(t)
	f.buyBTC(t)

	_, err := f.sells.Validate(context.Background(), "BTC-PERP", "binance", d("0.01"), d("60000"), false)
	var nonSpot *domain.NonSpotSymbol
	require.ErrorAs(t, err, &nonSpot)
	assert.Equal(t, "BTC-PERP", nonSpot.Symbol)
}

func TestSellOwnershipRejections(t *testing.T) {
	f := newFixture(t)
	f.buyBTC(t)
	ctx := context.Background()

	_, err := f.sells.Validate(ctx, "ETHUSDT", "binance", d("1"), d("3000"), false)
	var none *domain.NoPosition
	require.ErrorAs(t, err, &none)

	_, err = f.sells.Validate(ctx, "BTCUSDT", "okx", d("0.01"), d("60000"), false)
	require.ErrorAs(t, err, &none)

	_, err = f.sells.Validate(ctx, "BTCUSDT", "binance", d("0.06"), d("60000"), false)
	var short *domain.InsufficientQuantity
	require.ErrorAs(t, err, &short)
	assert.True(t, short.Owned.Equal(d("0.05")))
	assert.True(t, short.Requested.Equal(d("0.06")))

	_, err = f.sells.Validate(ctx, "BTCUSDT", "binance", d("0.050000000000000001"), d("60000"), false)
	require.ErrorAs(t, err, &short)
	assert.True(t, short.Requested.Equal(d("0.050000000000000001")))

	_, err = f.sells.Validate(ctx, "BTCUSDT", "binance", d("0.05"), d("60000"), false)
	require.NoError(t, err, "the full sellable quantity is sellable")

	_, err = f.sells.Record(ctx, fill(domain.TradeSideSell, "s-eps", "BTCUSDT", "binance", "0.050000000000000001", "60000", "0"))
	require.ErrorAs(t, err, &short)
	assert.True(t, f.ledger.SellableQuantity("BTCUSDT", "binance").Equal(d("0.05")))

	_, err = f.sells.Validate(ctx, "BTCUSDT", "binance", d("0"), d("60000"), false)
	var invalid *domain.InvalidQuantityOrPrice
	require.ErrorAs(t, err, &invalid)
}

func TestSellUnsupportedExchange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A position can exist on an exchange whose schedule was later removed.
	_, err := f.ledger.ApplyBuy(ctx, domain.NewTrade(fill(domain.TradeSideBuy, "k1", "BTCUSDT", "kraken", "1", "100", "0")))
	require.NoError(t, err)

	_, err = f.sells.Validate(ctx, "BTCUSDT", "kraken", d("1"), d("200"), false)
	var unsupported *domain.UnsupportedExchange
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "kraken", unsupported.Exchange)
}

func TestSellValidateDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	f.buyBTC(t)
	commits := f.store.Commits

	for _, px := range []string{"40000", "55000", "50100"} {
		_, _ = f.sells.Validate(context.Background(), "BTCUSDT", "binance", d("0.05"), d(px), true)
	}

	assert.Equal(t, commits, f.store.Commits)
	assert.True(t, f.ledger.SellableQuantity("BTCUSDT", "binance").Equal(d("0.05")))
}

func TestSellValidatePollingLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	f.buyBTC(t)
	ctx := context.Background()
	audited, appended := len(f.audit.entries), f.bus.appended

	for i := 0; i < 100; i++ {
		px := d("40000").Add(decimal.NewFromInt(int64(i * 200)))
		_, _ = f.sells.Validate(ctx, "BTCUSDT", "binance", d("0.05"), px, true)
	}

	assert.Len(t, f.audit.entries, audited)
	assert.Equal(t, appended, f.bus.appended)
	types := f.bus.types()
	assert.Contains(t, types, domain.EventSellAccepted)
	assert.Contains(t, types, domain.EventSellRejected)
}

func TestSellRecordRejectionIsAudited(t *testing.T) {
	f := newFixture(t)
	f.buyBTC(t)

	_, err := f.sells.Record(context.Background(), fill(domain.TradeSideSell, "s-over", "BTCUSDT", "binance", "1", "55000", "0"))
	require.Error(t, err)

	entries, err := f.audit.List(context.Background(), string(domain.EventSellRejected), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s-over", entries[0].Detail["order_id"])
	assert.Equal(t, string(domain.RejectInsufficientQuantity), entries[0].Detail["code"])
}

func TestSellRecordClosesPosition(t *testing.T) {
	f := newFixture(t)
	f.buyBTC(t)

	pos, err := f.sells.Record(context.Background(), fill(domain.TradeSideSell, "sell-1", "BTCUSDT", "binance", "0.05", "55000", "2.75"))
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.True(t, pos.RealizedPnL.Equal(d("244.75")))
	assert.Equal(t, []domain.EventType{
		domain.EventBuyRecorded,
		domain.EventSellRecorded,
		domain.EventPositionClosed,
	}, f.bus.types())

	_, ok := f.ledger.Get("BTCUSDT", "binance")
	assert.False(t, ok)
}

func TestSellRecordRechecksQuantity(t *testing.T) {
	f := newFixture(t)
	f.buyBTC(t)
	ctx := context.Background()

	_, err := f.sells.Record(ctx, fill(domain.TradeSideSell, "s1", "BTCUSDT", "binance", "0.1", "55000", "0"))
	var short *domain.InsufficientQuantity
	require.ErrorAs(t, err, &short)

	_, err = f.sells.Record(ctx, fill(domain.TradeSideSell, "s2", "SOLUSDT", "binance", "1", "100", "0"))
	var none *domain.NoPosition
	require.ErrorAs(t, err, &none)

	assert.True(t, f.ledger.SellableQuantity("BTCUSDT", "binance").Equal(d("0.05")))
}

func TestSellAcceptedNeverLoses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		qty := decimal.NewFromInt(int64(rng.Intn(100) + 1)).Div(decimal.NewFromInt(100))
		price := decimal.NewFromInt(int64(rng.Intn(2000) + 500))
		if rng.Intn(2) == 0 {
			_, err := f.buys.Record(ctx, domain.Fill{
				OrderID:   "b" + decimal.NewFromInt(int64(i)).String(),
				Symbol:    "ETHUSDT",
				Exchange:  "gate",
				Quantity:  qty,
				Price:     price,
				Fee:       qty.Mul(price).Mul(d("0.002")),
				Timestamp: time.Now(),
			})
			require.NoError(t, err)
			continue
		}

		before := f.ledger.SellableQuantity("ETHUSDT", "gate")
		q, err := f.sells.Validate(ctx, "ETHUSDT", "gate", qty, price, false)
		if err != nil {
			_, ok := domain.AsRejection(err)
			require.True(t, ok, "unexpected system error %v", err)
			continue
		}
		require.True(t, q.ExpectedNetProceeds.GreaterThan(q.CostBasisRemoved))
		require.True(t, q.ProfitMargin.GreaterThanOrEqual(d("0.005")))
		require.True(t, qty.LessThanOrEqual(before))

		pos, err := f.sells.Record(ctx, domain.Fill{
			OrderID:   "s" + decimal.NewFromInt(int64(i)).String(),
			Symbol:    "ETHUSDT",
			Exchange:  "gate",
			Quantity:  qty,
			Price:     price,
			Fee:       q.ExpectedFee,
			Timestamp: time.Now(),
		})
		require.NoError(t, err)
		require.False(t, pos.Quantity.IsNegative())
	}
}

type racingBook struct {
	*ledger.Ledger
}

func (b racingBook) ApplySell(context.Context, domain.Trade) (domain.Position, error) {
	return domain.Position{}, fmt.Errorf("ledger: %w: %w", domain.ErrInvariantViolation, domain.ErrInsufficientQuantity)
}

func TestSellRecordAlertsOnInvariantViolation(t *testing.T) {
	f := newFixture(t)
	f.buyBTC(t)

	alerts := &recordingAlerter{}
	v := NewSellValidator(racingBook{f.ledger}, fees.NewModel(config.DefaultFees()), symbol.NewClassifier(),
		SellPolicy{}, NewEventPublisher(nil, nil, discard()), discard())
	v.SetAlerter(alerts)

	_, err := v.Record(context.Background(), fill(domain.TradeSideSell, "s-1", "BTCUSDT", "binance", "0.01", "60000", "0"))
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	require.Len(t, alerts.messages, 1)
	assert.Contains(t, alerts.messages[0], "invariant_violation: BTCUSDT on binance")
}
