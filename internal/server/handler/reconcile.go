package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// Reconciler defines the reconciliation entry point the handler requires.
type Reconciler interface {
	Reconcile(ctx context.Context, exchange string, reported map[string]decimal.Decimal) (domain.ReconciliationReport, error)
}

// ReconcileHandler triggers an on-demand reconciliation.
type ReconcileHandler struct {
	reconciler Reconciler
	balances   domain.BalanceSource
	logger     *slog.Logger
}

// NewReconcileHandler creates a ReconcileHandler. balances supplies the
// exchange view when the request carries none; it may be nil.
func NewReconcileHandler(reconciler Reconciler, balances domain.BalanceSource, logger *slog.Logger) *ReconcileHandler {
	return &ReconcileHandler{
		reconciler: reconciler,
		balances:   balances,
		logger:     logHandler(logger, "reconcile"),
	}
}

type reconcileRequest struct {
	Balances map[string]decimal.Decimal `json:"balances"`
}

// Reconcile compares the ledger with balances from the request body or, when
// the body is empty, from the configured balance source.
// POST /api/reconcile/{exchange}
func (h *ReconcileHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	exchange := domain.NormalizeExchange(r.PathValue("exchange"))

	var req reconcileRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reported := req.Balances
	if reported == nil {
		if h.balances == nil {
			writeError(w, http.StatusBadRequest, "balances required: no balance source configured")
			return
		}
		var err error
		if reported, err = h.balances.Balances(r.Context(), exchange); err != nil {
			writeServiceError(w, r, h.logger, "load balances", err)
			return
		}
	}

	report, err := h.reconciler.Reconcile(r.Context(), exchange, reported)
	if err != nil {
		writeServiceError(w, r, h.logger, "reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
