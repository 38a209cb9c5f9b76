package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// BalanceCache implements domain.BalanceCache. Each exchange's latest
// balance snapshot is a hash at "balances:{exchange}" mapping symbol to
// decimal text. Exchange connectors write snapshots; reconciliation reads
// them.
type BalanceCache struct {
	rdb *redis.Client
}

// NewBalanceCache creates a BalanceCache backed by the given Client.
func NewBalanceCache(c *Client) *BalanceCache {
	return &BalanceCache{rdb: c.Underlying()}
}

func balanceKey(exchange string) string {
	return "balances:" + domain.NormalizeExchange(exchange)
}

// SetBalances replaces the exchange's snapshot atomically.
func (bc *BalanceCache) SetBalances(ctx context.Context, exchange string, balances map[string]decimal.Decimal) error {
	key := balanceKey(exchange)
	pipe := bc.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(balances) > 0 {
		fields := make(map[string]any, len(balances))
		for sym, qty := range balances {
			fields[domain.NormalizeSymbol(sym)] = qty.String()
		}
		pipe.HSet(ctx, key, fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set balances %s: %w", exchange, err)
	}
	return nil
}

// Balances returns the last snapshot written for exchange. It returns
// domain.ErrNotFound when none exists so a missing snapshot is never read as
// "holds nothing".
func (bc *BalanceCache) Balances(ctx context.Context, exchange string) (map[string]decimal.Decimal, error) {
	vals, err := bc.rdb.HGetAll(ctx, balanceKey(exchange)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get balances %s: %w", exchange, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("redis: balances %s: %w", exchange, domain.ErrNotFound)
	}

	out := make(map[string]decimal.Decimal, len(vals))
	for sym, raw := range vals {
		qty, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("redis: parse balance %s/%s: %w", exchange, sym, err)
		}
		out[sym] = qty
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.BalanceCache = (*BalanceCache)(nil)
