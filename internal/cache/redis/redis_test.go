package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

func TestKeysNormalise(t *testing.T) {
	assert.Equal(t, "price:binance:BTCUSDT", priceKey("Binance", "btcusdt"))
	assert.Equal(t, "prices:okx", priceIndexKey("OKX"))
	assert.Equal(t, "balances:gate", balanceKey(" Gate "))
	assert.Equal(t, "lock:ledger:binance:BTCUSDT", lockKey("ledger:binance:BTCUSDT"))
}

func TestParseMark(t *testing.T) {
	price, ts, err := parseMark(map[string]string{"price": "101.25", "ts": "1700000000000000000"})
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("101.25")))
	assert.Equal(t, int64(1700000000), ts.Unix())

	_, _, err = parseMark(map[string]string{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = parseMark(map[string]string{"price": "x", "ts": "1"})
	assert.Error(t, err)
}

// testClient connects to SPOTLEDGER_TEST_REDIS_ADDR and skips otherwise.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("SPOTLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SPOTLEDGER_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLockManagerIntegration(t *testing.T) {
	lm := NewLockManager(testClient(t))
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	unlock, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, key, time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	again()
}

func TestPriceAndBalanceCacheIntegration(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	exchange := "ex" + uuid.NewString()[:8]

	prices := NewPriceCache(c)
	now := time.Now().UTC()
	require.NoError(t, prices.SetPrice(ctx, exchange, "btcusdt", decimal.RequireFromString("65000.5"), now))

	p, ts, err := prices.GetPrice(ctx, exchange, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("65000.5")))
	assert.Equal(t, now.UnixNano(), ts.UnixNano())

	all, err := prices.GetPrices(ctx, exchange)
	require.NoError(t, err)
	assert.Contains(t, all, "BTCUSDT")

	balances := NewBalanceCache(c)
	_, err = balances.Balances(ctx, exchange)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, balances.SetBalances(ctx, exchange, map[string]decimal.Decimal{
		"btcusdt": decimal.RequireFromString("0.5"),
	}))
	got, err := balances.Balances(ctx, exchange)
	require.NoError(t, err)
	assert.True(t, got["BTCUSDT"].Equal(decimal.RequireFromString("0.5")))
}

func TestRateLimiterIntegration(t *testing.T) {
	rl := NewRateLimiter(testClient(t))
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
