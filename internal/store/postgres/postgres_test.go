package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spotledger/internal/config"
	"github.com/alanyoungcy/spotledger/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://x@y/z", Host: "ignored"},
			want: "postgres://x@y/z",
		},
		{
			name: "defaults port and sslmode",
			cfg:  ClientConfig{Host: "db", Database: "ledger", User: "u", Password: "p"},
			want: "postgres://u:p@db:5432/ledger?sslmode=disable",
		},
		{
			name: "explicit port and sslmode",
			cfg:  ClientConfig{Host: "db", Port: 6432, Database: "ledger", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@db:6432/ledger?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestClientConfigFrom(t *testing.T) {
	cc := ClientConfigFrom(config.PostgresConfig{Host: "h", Port: 1, PoolMaxConns: 8, PoolMinConns: 2})
	assert.Equal(t, "h", cc.Host)
	assert.Equal(t, 8, cc.MaxConns)
	assert.Equal(t, 2, cc.MinConns)
}

// testClient connects to SPOTLEDGER_TEST_POSTGRES_DSN and skips otherwise.
func testClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("SPOTLEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SPOTLEDGER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	return c
}

func TestLedgerStoreIntegration(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	store := NewLedgerStore(c.Pool())
	at := time.Now().UTC().Truncate(time.Microsecond)
	symbol := "IT" + uuid.NewString()[:6] + "USDT"

	pos := domain.Position{
		ID: uuid.NewString(), Symbol: symbol, Exchange: "binance",
		Quantity: decimal.RequireFromString("0.12345678"), AvgCostBasis: decimal.RequireFromString("100.5"),
		TotalCost: decimal.RequireFromString("12.40740390"), BuyOrderIDs: []string{"o-" + symbol},
		FirstBuyAt: at, LastBuyAt: at, RealizedPnL: decimal.Zero, Status: domain.PositionStatusOpen,
	}
	tr := domain.NewTrade(domain.Fill{
		OrderID: "o-" + symbol, Symbol: symbol, Exchange: "binance", Side: domain.TradeSideBuy,
		Quantity: pos.Quantity, Price: decimal.RequireFromString("100.5"), Timestamp: at,
	})
	require.NoError(t, store.CommitTrade(ctx, pos, tr))
	assert.ErrorIs(t, store.CommitTrade(ctx, pos, tr), domain.ErrDuplicateTrade)

	got, err := store.GetPosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, got.Quantity.Equal(pos.Quantity))
	assert.Equal(t, pos.BuyOrderIDs, got.BuyOrderIDs)

	byKey, err := store.GetOpenPosition(ctx, pos.Key())
	require.NoError(t, err)
	assert.Equal(t, pos.ID, byKey.ID)
	_, err = store.GetOpenPosition(ctx, domain.NewPositionKey(symbol, "okx"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	trades, err := store.ListTrades(ctx, domain.TradeFilter{Symbol: symbol}, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].NetAmount.Equal(tr.NetAmount))
}
