package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// HistoryService reads the ledger's persisted history.
type HistoryService interface {
	Position(ctx context.Context, id string) (domain.Position, error)
	Trades(ctx context.Context, filter domain.TradeFilter, opts domain.ListOpts) ([]domain.Trade, error)
	Discrepancies(ctx context.Context, exchange string, opts domain.ListOpts) ([]domain.InventoryDiscrepancy, error)
	Audit(ctx context.Context, event string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// HistoryHandler serves stored positions, trades, discrepancies and the
// audit log.
type HistoryHandler struct {
	history HistoryService
	logger  *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(history HistoryService, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{history: history, logger: logHandler(logger, "history")}
}

// ListTrades returns trades newest first.
// GET /api/trades[?symbol=&exchange=&side=&limit=&offset=]
func (h *HistoryHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.TradeFilter{
		Symbol:   domain.NormalizeSymbol(q.Get("symbol")),
		Exchange: domain.NormalizeExchange(q.Get("exchange")),
		Side:     domain.TradeSide(q.Get("side")),
	}
	if filter.Side != "" && !filter.Side.Valid() {
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}

	trades, err := h.history.Trades(r.Context(), filter, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list trades", err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// ListDiscrepancies returns reconciliation findings newest first.
// GET /api/discrepancies[?exchange=&limit=&offset=]
func (h *HistoryHandler) ListDiscrepancies(w http.ResponseWriter, r *http.Request) {
	exchange := domain.NormalizeExchange(r.URL.Query().Get("exchange"))
	ds, err := h.history.Discrepancies(r.Context(), exchange, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list discrepancies", err)
		return
	}
	if ds == nil {
		ds = []domain.InventoryDiscrepancy{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"discrepancies": ds})
}

// GetPosition returns a stored position, open or closed, by ID.
// GET /api/history/positions/{id}
func (h *HistoryHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.history.Position(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get stored position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ListAudit returns audit log entries newest first.
// GET /api/audit[?event=&limit=&offset=]
func (h *HistoryHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.history.Audit(r.Context(), r.URL.Query().Get("event"), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
