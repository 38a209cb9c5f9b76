package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

var d = decimal.RequireFromString

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBuys struct {
	quote  domain.BuyQuote
	err    error
	record domain.Fill
}

func (f *fakeBuys) Validate(symbol, exchange string, qty, price decimal.Decimal, isMaker bool) (domain.BuyQuote, error) {
	if f.err != nil {
		return domain.BuyQuote{}, f.err
	}
	q := f.quote
	q.Symbol, q.Exchange, q.Quantity, q.Price, q.IsMaker = symbol, exchange, qty, price, isMaker
	return q, nil
}

func (f *fakeBuys) Record(_ context.Context, fill domain.Fill) (domain.Position, error) {
	f.record = fill
	if f.err != nil {
		return domain.Position{}, f.err
	}
	return domain.Position{Symbol: fill.Symbol, Exchange: fill.Exchange, Quantity: fill.Quantity}, nil
}

type fakeSells struct {
	err    error
	record domain.Fill
}

func (f *fakeSells) Validate(_ context.Context, symbol, exchange string, qty, price decimal.Decimal, _ bool) (domain.SellQuote, error) {
	if f.err != nil {
		return domain.SellQuote{}, f.err
	}
	return domain.SellQuote{Symbol: symbol, Exchange: exchange, Quantity: qty, Price: price}, nil
}

func (f *fakeSells) Record(_ context.Context, fill domain.Fill) (domain.Position, error) {
	f.record = fill
	if f.err != nil {
		return domain.Position{}, f.err
	}
	return domain.Position{Symbol: fill.Symbol, Exchange: fill.Exchange}, nil
}

func post(t *testing.T, h http.HandlerFunc, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestValidateSellRejectionIs422(t *testing.T) {
	sells := &fakeSells{err: &domain.LossPrevention{
		ExpectedLoss:       d("2.5"),
		MinProfitablePrice: d("101.2"),
	}}
	h := NewTradeHandler(&fakeBuys{}, sells, discardLogger())

	rec := post(t, h.ValidateSell, "/api/sells/validate",
		`{"symbol":"BTCUSDT","exchange":"binance","quantity":"1","price":"99"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "loss_prevention", body["code"])
	detail, ok := body["detail"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "101.2", detail["min_profitable_price"])
}

func TestValidateSellAccepted(t *testing.T) {
	h := NewTradeHandler(&fakeBuys{}, &fakeSells{}, discardLogger())

	rec := post(t, h.ValidateSell, "/api/sells/validate",
		`{"symbol":"ETHUSDT","exchange":"okx","quantity":"2","price":"3000"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var quote domain.SellQuote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quote))
	assert.Equal(t, "ETHUSDT", quote.Symbol)
	assert.True(t, quote.Price.Equal(d("3000")))
}

func TestValidateBuyRejectsUnknownFields(t *testing.T) {
	h := NewTradeHandler(&fakeBuys{}, &fakeSells{}, discardLogger())

	rec := post(t, h.ValidateBuy, "/api/buys/validate", `{"symbol":"BTCUSDT","leverage":3}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordBuyDefaultsSide(t *testing.T) {
	buys := &fakeBuys{}
	h := NewTradeHandler(buys, &fakeSells{}, discardLogger())

	rec := post(t, h.RecordBuy, "/api/fills/buy",
		`{"order_id":"b-1","symbol":"BTCUSDT","exchange":"binance","quantity":"0.5","price":"60000","fee":"30"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.TradeSideBuy, buys.record.Side)
	assert.True(t, buys.record.Fee.Equal(d("30")))
}

func TestRecordRequiresOrderID(t *testing.T) {
	sells := &fakeSells{}
	h := NewTradeHandler(&fakeBuys{}, sells, discardLogger())

	rec := post(t, h.RecordSell, "/api/fills/sell", `{"symbol":"BTCUSDT","exchange":"binance"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, sells.record.Symbol)
}

func TestServiceErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"duplicate", fmt.Errorf("ledger: %w", domain.ErrDuplicateTrade), http.StatusConflict},
		{"invariant", fmt.Errorf("ledger: %w", domain.ErrInvariantViolation), http.StatusConflict},
		{"sold elsewhere", fmt.Errorf("ledger: %w", domain.ErrInsufficientQuantity), http.StatusConflict},
		{"lock", fmt.Errorf("redis: %w", domain.ErrLockHeld), http.StatusServiceUnavailable},
		{"storage", fmt.Errorf("sqlite: %w: %w", domain.ErrStorage, errors.New("disk full")), http.StatusServiceUnavailable},
		{"not found", domain.ErrPositionNotFound, http.StatusNotFound},
		{"invalid", fmt.Errorf("ledger: %w", domain.ErrInvalidTrade), http.StatusBadRequest},
		{"other", errors.New("boom"), http.StatusInternalServerError},
		{"rejection", &domain.NoPosition{Symbol: "BTCUSDT", Exchange: "gate"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewTradeHandler(&fakeBuys{}, &fakeSells{err: tt.err}, discardLogger())
			rec := post(t, h.RecordSell, "/api/fills/sell",
				`{"order_id":"s-1","symbol":"BTCUSDT","exchange":"gate","quantity":"1","price":"1"}`)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

type fakePositions struct {
	positions []domain.Position
}

func (f *fakePositions) List(_ context.Context, exchange string) []domain.Position {
	var out []domain.Position
	for _, p := range f.positions {
		if exchange == "" || p.Exchange == exchange {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakePositions) Get(_ context.Context, symbol, exchange string) (domain.Position, error) {
	key := domain.NewPositionKey(symbol, exchange)
	for _, p := range f.positions {
		if p.Key() == key {
			return p, nil
		}
	}
	return domain.Position{}, fmt.Errorf("ledger: %s: %w", key, domain.ErrPositionNotFound)
}

func (f *fakePositions) Summary(context.Context) domain.PositionSummary {
	return domain.PositionSummary{TotalPositions: len(f.positions)}
}

func TestPositionEndpoints(t *testing.T) {
	svc := &fakePositions{positions: []domain.Position{
		{Symbol: "BTCUSDT", Exchange: "binance", Quantity: d("1")},
		{Symbol: "ETHUSDT", Exchange: "okx", Quantity: d("3")},
	}}
	h := NewPositionHandler(svc, discardLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/positions", h.ListPositions)
	mux.HandleFunc("GET /api/positions/{exchange}/{symbol}", h.GetPosition)
	mux.HandleFunc("GET /api/summary", h.Summary)

	get := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec
	}

	rec := get("/api/positions?exchange=okx")
	require.Equal(t, http.StatusOK, rec.Code)
	var list listPositionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Positions, 1)
	assert.Equal(t, "ETHUSDT", list.Positions[0].Symbol)

	rec = get("/api/positions?exchange=gate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"positions":[]}`, rec.Body.String())

	rec = get("/api/positions/binance/btcusdt")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get("/api/positions/binance/DOGEUSDT")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get("/api/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeBody(t, rec)["total_positions"])
}

type fakeHistory struct {
	filter domain.TradeFilter
	opts   domain.ListOpts
	event  string
}

func (f *fakeHistory) Position(context.Context, string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}

func (f *fakeHistory) Audit(_ context.Context, event string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	f.event, f.opts = event, opts
	return []domain.AuditEntry{{ID: 7, Event: event}}, nil
}

func (f *fakeHistory) Trades(_ context.Context, filter domain.TradeFilter, opts domain.ListOpts) ([]domain.Trade, error) {
	f.filter, f.opts = filter, opts
	return nil, nil
}

func (f *fakeHistory) Discrepancies(_ context.Context, _ string, opts domain.ListOpts) ([]domain.InventoryDiscrepancy, error) {
	f.opts = opts
	return []domain.InventoryDiscrepancy{{Symbol: "XRPUSDT", Severity: domain.SeverityCritical}}, nil
}

func TestListTradesFilters(t *testing.T) {
	hist := &fakeHistory{}
	h := NewHistoryHandler(hist, discardLogger())

	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?symbol=btcusdt&exchange=Binance&side=sell&limit=9999&offset=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"trades":[]}`, rec.Body.String())
	assert.Equal(t, domain.TradeFilter{Symbol: "BTCUSDT", Exchange: "binance", Side: domain.TradeSideSell}, hist.filter)
	assert.Equal(t, 500, hist.opts.Limit)
	assert.Equal(t, 5, hist.opts.Offset)

	rec = httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?side=short", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListDiscrepancies(t *testing.T) {
	h := NewHistoryHandler(&fakeHistory{}, discardLogger())

	rec := httptest.NewRecorder()
	h.ListDiscrepancies(rec, httptest.NewRequest(http.MethodGet, "/api/discrepancies", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"severity":"critical"`)
}

func TestListAuditPassesEventFilter(t *testing.T) {
	hist := &fakeHistory{}
	h := NewHistoryHandler(hist, discardLogger())

	rec := httptest.NewRecorder()
	h.ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit?event=sell_rejected&limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sell_rejected", hist.event)
	assert.Equal(t, 10, hist.opts.Limit)
	assert.Contains(t, rec.Body.String(), `"event":"sell_rejected"`)
}

type fakeReconciler struct {
	exchange string
	reported map[string]decimal.Decimal
}

func (f *fakeReconciler) Reconcile(_ context.Context, exchange string, reported map[string]decimal.Decimal) (domain.ReconciliationReport, error) {
	f.exchange, f.reported = exchange, reported
	return domain.ReconciliationReport{Exchange: exchange, Reconciled: true}, nil
}

type staticBalances map[string]decimal.Decimal

func (s staticBalances) Balances(context.Context, string) (map[string]decimal.Decimal, error) {
	return s, nil
}

func reconcileMux(h *ReconcileHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/reconcile/{exchange}", h.Reconcile)
	return mux
}

func TestReconcileUsesRequestBalances(t *testing.T) {
	rec := &fakeReconciler{}
	mux := reconcileMux(NewReconcileHandler(rec, nil, discardLogger()))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/reconcile/Binance",
		strings.NewReader(`{"balances":{"BTCUSDT":"1.5"}}`)))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "binance", rec.exchange)
	assert.True(t, rec.reported["BTCUSDT"].Equal(d("1.5")))
}

func TestReconcileFallsBackToBalanceSource(t *testing.T) {
	rec := &fakeReconciler{}
	source := staticBalances{"ETHUSDT": d("4")}
	mux := reconcileMux(NewReconcileHandler(rec, source, discardLogger()))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/reconcile/okx", http.NoBody))

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, rec.reported["ETHUSDT"].Equal(d("4")))
}

func TestReconcileWithoutAnySource(t *testing.T) {
	mux := reconcileMux(NewReconcileHandler(&fakeReconciler{}, nil, discardLogger()))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/reconcile/okx", http.NoBody))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthDegraded(t *testing.T) {
	h := NewHealthHandler(map[string]HealthCheck{
		"sqlite": func(context.Context) error { return nil },
		"redis":  func(context.Context) error { return errors.New("connection refused") },
	}, discardLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "ok", deps["sqlite"])
	assert.Equal(t, "connection refused", deps["redis"])
}
