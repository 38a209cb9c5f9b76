package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spotledger/internal/config"
	"github.com/alanyoungcy/spotledger/internal/domain"
	"github.com/alanyoungcy/spotledger/internal/fees"
	"github.com/alanyoungcy/spotledger/internal/ledger"
	"github.com/alanyoungcy/spotledger/internal/ledger/ledgertest"
	"github.com/alanyoungcy/spotledger/internal/symbol"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingBus struct {
	mu       sync.Mutex
	events   []domain.LedgerEvent
	appended int
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	var ev domain.LedgerEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *recordingBus) StreamAppend(context.Context, string, []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appended++
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *recordingBus) types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, ev.Type)
	}
	return out
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *recordingAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (a *recordingAudit) List(_ context.Context, event string, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(a.entries) - 1; i >= 0; i-- {
		if event == "" || a.entries[i].Event == event {
			out = append(out, a.entries[i])
		}
	}
	return out, nil
}

type fixture struct {
	ledger *ledger.Ledger
	store  *ledgertest.MemStore
	bus    *recordingBus
	audit  *recordingAudit
	buys   *BuyValidator
	sells  *SellValidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledgertest.NewMemStore()
	l := ledger.New(store, nil, 0, discard())
	bus := &recordingBus{}
	audit := &recordingAudit{}
	events := NewEventPublisher(bus, audit, discard())
	feeModel := fees.NewModel(config.DefaultFees())
	classifier := symbol.NewClassifier()
	policy := SellPolicy{MinProfitMargin: d("0.005"), SlippageBuffer: d("0.002")}
	return &fixture{
		ledger: l,
		store:  store,
		bus:    bus,
		audit:  audit,
		buys:   NewBuyValidator(l, feeModel, classifier, events, discard()),
		sells:  NewSellValidator(l, feeModel, classifier, policy, events, discard()),
	}
}

func fill(side domain.TradeSide, id, sym, exchange, qty, price, fee string) domain.Fill {
	return domain.Fill{
		OrderID:     id,
		Symbol:      sym,
		Exchange:    exchange,
		Side:        side,
		Quantity:    d(qty),
		Price:       d(price),
		Fee:         d(fee),
		FeeCurrency: "USDT",
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// buyBTC opens the position used by most sell tests: 0.05 BTC at an
// average cost of 50050.
func (f *fixture) buyBTC(t *testing.T) domain.Position {
	t.Helper()
	pos, err := f.buys.Record(context.Background(), fill(domain.TradeSideBuy, "buy-1", "BTCUSDT", "binance", "0.05", "50000", "2.5"))
	require.NoError(t, err)
	return pos
}
