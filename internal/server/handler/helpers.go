// Package handler implements the ledger's HTTP endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// rejectionResponse is the body of a 422 answer.
type rejectionResponse struct {
	Error  string            `json:"error"`
	Code   domain.RejectCode `json:"code"`
	Detail domain.Rejection  `json:"detail"`
}

// writeServiceError maps a service error onto a status code. Rejections are
// business answers (422); everything else is a system failure.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	if rej, ok := domain.AsRejection(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, rejectionResponse{
			Error:  rej.Error(),
			Code:   rej.Code(),
			Detail: rej,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrPositionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTrade), errors.Is(err, domain.ErrUnknownExchange):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicateTrade), errors.Is(err, domain.ErrInvariantViolation),
		errors.Is(err, domain.ErrInsufficientQuantity):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrLockHeld), errors.Is(err, domain.ErrStorage):
		status = http.StatusServiceUnavailable
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.Log(r.Context(), level, "handler: "+op+" failed",
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	writeError(w, status, err.Error())
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, 500)

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
