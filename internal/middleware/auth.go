package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/melibackend/offline-inventory/internal/models"
)

// APIKeyHeader carries the caller's key on every authenticated request
const APIKeyHeader = "X-API-Key"

// AuthMiddleware provides API key authentication against a fixed key set.
// The returned function fits both chi's Use and mux's MiddlewareFunc.
func AuthMiddleware(validKeys []string) func(http.Handler) http.Handler {
	keys := make(map[string]struct{}, len(validKeys))
	for _, k := range validKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys[k] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(APIKeyHeader)
			if apiKey == "" {
				slog.Warn("Authentication failed: missing API key", "remote_addr", r.RemoteAddr)
				writeErrorResponse(w, http.StatusUnauthorized, "unauthorized", "API key required")
				return
			}

			if _, ok := keys[apiKey]; !ok {
				slog.Warn("Authentication failed: invalid API key", "remote_addr", r.RemoteAddr)
				writeErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Code:    code,
		Message: message,
	})
}
