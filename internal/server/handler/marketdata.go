package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// MarketDataHandler lets exchange connectors push balance snapshots and mark
// prices into the shared cache.
type MarketDataHandler struct {
	balances domain.BalanceCache
	prices   domain.PriceCache
	logger   *slog.Logger
}

// NewMarketDataHandler creates a MarketDataHandler.
func NewMarketDataHandler(balances domain.BalanceCache, prices domain.PriceCache, logger *slog.Logger) *MarketDataHandler {
	return &MarketDataHandler{
		balances: balances,
		prices:   prices,
		logger:   logHandler(logger, "marketdata"),
	}
}

type balancesRequest struct {
	Balances map[string]decimal.Decimal `json:"balances"`
}

// PutBalances replaces the cached balance snapshot for an exchange.
// POST /api/balances/{exchange}
func (h *MarketDataHandler) PutBalances(w http.ResponseWriter, r *http.Request) {
	exchange := domain.NormalizeExchange(r.PathValue("exchange"))

	var req balancesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for sym, qty := range req.Balances {
		if qty.IsNegative() {
			writeError(w, http.StatusBadRequest, "negative balance for "+sym)
			return
		}
	}

	if err := h.balances.SetBalances(r.Context(), exchange, req.Balances); err != nil {
		writeServiceError(w, r, h.logger, "set balances", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exchange": exchange, "symbols": len(req.Balances)})
}

type pricesRequest struct {
	Prices map[string]decimal.Decimal `json:"prices"`
	At     time.Time                  `json:"at"`
}

// PutPrices stores mark prices for an exchange. Each symbol is written
// independently; a zero at defaults to now.
// POST /api/prices/{exchange}
func (h *MarketDataHandler) PutPrices(w http.ResponseWriter, r *http.Request) {
	exchange := domain.NormalizeExchange(r.PathValue("exchange"))

	var req pricesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.At.IsZero() {
		req.At = time.Now().UTC()
	}
	for sym, px := range req.Prices {
		if !px.IsPositive() {
			writeError(w, http.StatusBadRequest, "price must be positive for "+sym)
			return
		}
	}

	for sym, px := range req.Prices {
		if err := h.prices.SetPrice(r.Context(), exchange, domain.NormalizeSymbol(sym), px, req.At); err != nil {
			writeServiceError(w, r, h.logger, "set price", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"exchange": exchange, "symbols": len(req.Prices)})
}

// GetPrice returns the cached mark for one symbol.
// GET /api/prices/{exchange}/{symbol}
func (h *MarketDataHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	exchange := domain.NormalizeExchange(r.PathValue("exchange"))
	symbol := domain.NormalizeSymbol(r.PathValue("symbol"))

	px, at, err := h.prices.GetPrice(r.Context(), exchange, symbol)
	if err != nil {
		writeServiceError(w, r, h.logger, "get price", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exchange": exchange,
		"symbol":   symbol,
		"price":    px,
		"at":       at,
	})
}
