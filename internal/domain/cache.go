package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache holds the latest mark price per exchange and symbol.
type PriceCache interface {
	SetPrice(ctx context.Context, exchange, symbol string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, exchange, symbol string) (decimal.Decimal, time.Time, error)
	GetPrices(ctx context.Context, exchange string) (map[string]decimal.Decimal, error)
}

// BalanceSource supplies exchange-reported balances keyed by symbol.
type BalanceSource interface {
	Balances(ctx context.Context, exchange string) (map[string]decimal.Decimal, error)
}

// BalanceCache is a BalanceSource that connectors can write to.
type BalanceCache interface {
	BalanceSource
	SetBalances(ctx context.Context, exchange string, balances map[string]decimal.Decimal) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
