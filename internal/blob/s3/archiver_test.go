package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	multi   int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.mu.Lock()
	m.multi++
	m.mu.Unlock()
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type stubSource struct {
	trades        []domain.Trade
	discrepancies []domain.InventoryDiscrepancy
}

func (s stubSource) ListTradesBefore(_ context.Context, before time.Time, _ int) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range s.trades {
		if t.Timestamp.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s stubSource) ListDiscrepanciesBefore(_ context.Context, before time.Time, _ int) ([]domain.InventoryDiscrepancy, error) {
	var out []domain.InventoryDiscrepancy
	for _, d := range s.discrepancies {
		if d.DetectedAt.Before(before) {
			out = append(out, d)
		}
	}
	return out, nil
}

type auditLog struct{ events []string }

func (a *auditLog) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *auditLog) List(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveTradesWritesJSONL(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	src := stubSource{trades: []domain.Trade{
		domain.NewTrade(domain.Fill{OrderID: "a", Symbol: "BTCUSDT", Exchange: "binance", Side: domain.TradeSideBuy,
			Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), Timestamp: cutoff.Add(-48 * time.Hour)}),
		domain.NewTrade(domain.Fill{OrderID: "b", Symbol: "BTCUSDT", Exchange: "binance", Side: domain.TradeSideSell,
			Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(110), Timestamp: cutoff.Add(-24 * time.Hour)}),
		domain.NewTrade(domain.Fill{OrderID: "c", Symbol: "ETHUSDT", Exchange: "binance", Side: domain.TradeSideBuy,
			Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(10), Timestamp: cutoff.Add(time.Hour)}),
	}}
	blobs := newMemBlobs()
	audit := &auditLog{}
	a := NewArchiver(blobs, blobs, src, src, audit)

	n, err := a.ArchiveTrades(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	body, ok := blobs.objects["archive/trades/2026-02-01.jsonl"]
	require.True(t, ok)
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var tr domain.Trade
		require.NoError(t, json.Unmarshal(sc.Bytes(), &tr))
		ids = append(ids, tr.OrderID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.Equal(t, []string{"archive.trades"}, audit.events)

	// Same cutoff date again is a no-op.
	n, err = a.ArchiveTrades(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, audit.events, 1)
}

func TestArchiveDiscrepanciesEmpty(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, stubSource{}, stubSource{}, nil)

	n, err := a.ArchiveDiscrepancies(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
}

func TestArchiveLargePayloadUsesMultipart(t *testing.T) {
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	var src stubSource
	note := string(bytes.Repeat([]byte("x"), 1024))
	for i := 0; i < 6*1024; i++ {
		src.discrepancies = append(src.discrepancies, domain.InventoryDiscrepancy{
			ID: "d", Exchange: "okx", Symbol: "BTCUSDT", Note: note, DetectedAt: cutoff.Add(-time.Hour),
		})
	}
	blobs := newMemBlobs()
	a := NewArchiver(blobs, nil, src, src, nil)

	n, err := a.ArchiveDiscrepancies(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(len(src.discrepancies)), n)
	assert.Equal(t, 1, blobs.multi)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://keep.me", normaliseEndpoint("http://keep.me", true))
}
