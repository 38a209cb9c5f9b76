package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Auth returns middleware that validates API requests using either a Bearer
// token in the Authorization header or a static key in the X-API-Key header.
// If apiKey is empty, the middleware passes all requests through. Paths in
// public skip the check.
func Auth(apiKey string, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || open[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
				return
			}

			// Constant-time comparison to prevent timing attacks.
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeJSONError(w, http.StatusUnauthorized, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
