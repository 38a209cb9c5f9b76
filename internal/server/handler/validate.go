package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// BuyValidator defines the buy-side checks the handler requires.
type BuyValidator interface {
	Validate(symbol, exchange string, qty, price decimal.Decimal, isMaker bool) (domain.BuyQuote, error)
	Record(ctx context.Context, fill domain.Fill) (domain.Position, error)
}

// SellValidator defines the sell-side checks the handler requires.
type SellValidator interface {
	Validate(ctx context.Context, symbol, exchange string, qty, price decimal.Decimal, isMaker bool) (domain.SellQuote, error)
	Record(ctx context.Context, fill domain.Fill) (domain.Position, error)
}

// TradeHandler serves order validation and fill recording.
type TradeHandler struct {
	buys   BuyValidator
	sells  SellValidator
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(buys BuyValidator, sells SellValidator, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		buys:   buys,
		sells:  sells,
		logger: logHandler(logger, "trades"),
	}
}

// validateRequest is a prospective order.
type validateRequest struct {
	Symbol   string          `json:"symbol"`
	Exchange string          `json:"exchange"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	IsMaker  bool            `json:"is_maker"`
}

// ValidateBuy quotes a prospective buy or explains why it is refused.
// POST /api/buys/validate
func (h *TradeHandler) ValidateBuy(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	quote, err := h.buys.Validate(req.Symbol, req.Exchange, req.Quantity, req.Price, req.IsMaker)
	if err != nil {
		writeServiceError(w, r, h.logger, "validate buy", err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// ValidateSell quotes a prospective sell. A 422 is a veto: the order must
// not be placed at these inputs.
// POST /api/sells/validate
func (h *TradeHandler) ValidateSell(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	quote, err := h.sells.Validate(r.Context(), req.Symbol, req.Exchange, req.Quantity, req.Price, req.IsMaker)
	if err != nil {
		writeServiceError(w, r, h.logger, "validate sell", err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// RecordBuy applies an executed buy to the ledger.
// POST /api/fills/buy
func (h *TradeHandler) RecordBuy(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, domain.TradeSideBuy, h.buys.Record)
}

// RecordSell applies an executed sell to the ledger.
// POST /api/fills/sell
func (h *TradeHandler) RecordSell(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, domain.TradeSideSell, h.sells.Record)
}

func (h *TradeHandler) record(w http.ResponseWriter, r *http.Request, side domain.TradeSide, apply func(context.Context, domain.Fill) (domain.Position, error)) {
	var fill domain.Fill
	if err := decodeJSON(w, r, &fill); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fill.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}
	if fill.Side == "" {
		fill.Side = side
	}

	pos, err := apply(r.Context(), fill)
	if err != nil {
		writeServiceError(w, r, h.logger, "record "+string(side), err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
