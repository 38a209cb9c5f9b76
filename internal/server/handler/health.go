package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

const healthTimeout = 3 * time.Second

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks map[string]HealthCheck
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks maps a dependency name
// (postgres, redis, s3) to its probe.
func NewHealthHandler(checks map[string]HealthCheck, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logHandler(logger, "health")}
}

// HealthCheck reports "ok" when every probe passes and "degraded" with a 503
// otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "dependency unhealthy",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
