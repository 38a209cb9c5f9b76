package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	List(ctx context.Context, exchange string) []domain.Position
	Get(ctx context.Context, symbol, exchange string) (domain.Position, error)
	Summary(ctx context.Context) domain.PositionSummary
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logHandler(logger, "positions"),
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns open positions, optionally for one exchange.
// GET /api/positions[?exchange=binance]
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.positions.List(r.Context(), r.URL.Query().Get("exchange"))
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns the open position for one symbol.
// GET /api/positions/{exchange}/{symbol}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.positions.Get(r.Context(), r.PathValue("symbol"), r.PathValue("exchange"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Summary returns the ledger rollup with unrealized PnL where marks exist.
// GET /api/summary
func (h *PositionHandler) Summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.positions.Summary(r.Context()))
}
