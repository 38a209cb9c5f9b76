package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each mark is a
// hash at "price:{exchange}:{symbol}" with fields "price" (decimal text) and
// "ts" (Unix nanoseconds); the set "prices:{exchange}" indexes the symbols.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(exchange, symbol string) string {
	return "price:" + domain.NormalizeExchange(exchange) + ":" + domain.NormalizeSymbol(symbol)
}

func priceIndexKey(exchange string) string {
	return "prices:" + domain.NormalizeExchange(exchange)
}

// SetPrice stores the latest mark price for a symbol.
func (pc *PriceCache) SetPrice(ctx context.Context, exchange, symbol string, price decimal.Decimal, ts time.Time) error {
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, priceKey(exchange, symbol), map[string]any{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	pipe.SAdd(ctx, priceIndexKey(exchange), domain.NormalizeSymbol(symbol))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s/%s: %w", exchange, symbol, err)
	}
	return nil
}

// GetPrice retrieves the latest mark for a symbol.
// It returns domain.ErrNotFound when no mark has been stored.
func (pc *PriceCache) GetPrice(ctx context.Context, exchange, symbol string) (decimal.Decimal, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(exchange, symbol)).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %s/%s: %w", exchange, symbol, err)
	}
	price, ts, err := parseMark(vals)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %s/%s: %w", exchange, symbol, err)
	}
	return price, ts, nil
}

// GetPrices returns every stored mark on an exchange keyed by symbol.
// Symbols whose hash has expired or is malformed are omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, exchange string) (map[string]decimal.Decimal, error) {
	symbols, err := pc.rdb.SMembers(ctx, priceIndexKey(exchange)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list prices %s: %w", exchange, err)
	}
	if len(symbols) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, sym := range symbols {
		cmds[sym] = pipe.HGetAll(ctx, priceKey(exchange, sym))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]decimal.Decimal, len(symbols))
	for sym, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		price, _, err := parseMark(vals)
		if err != nil {
			continue
		}
		result[sym] = price
	}
	return result, nil
}

func parseMark(vals map[string]string) (decimal.Decimal, time.Time, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("parse price: %w", err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("parse ts: %w", err)
	}
	return price, time.Unix(0, tsNano).UTC(), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
