package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// RateLimit returns middleware that limits each client IP to limit requests
// per window. Limiter errors fail open so a Redis outage never blocks fill
// recording.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(max(1, int(window.Seconds())))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "api:" + extractClientIP(r)

			allowed, err := limiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", retryAfter)
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractClientIP attempts to determine the real client IP from standard
// proxy headers, falling back to the direct remote address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
