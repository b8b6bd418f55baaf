package proxy

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// APIKeyHeader carries the shared secret.
const APIKeyHeader = "X-API-Key"

// publicPaths never require the shared secret.
var publicPaths = map[string]bool{
	"/":              true,
	"/docs":          true,
	"/redoc":         true,
	"/openapi.json":  true,
	"/api/v1/health": true,
}

// APIKeyAuth rejects requests without a valid X-API-Key header: 401 when it
// is missing, 403 when it matches none of keys.
func APIKeyAuth(keys []string, logger *slog.Logger) func(http.Handler) http.Handler {
	secrets := make([][]byte, 0, len(keys))
	for _, k := range keys {
		secrets = append(secrets, []byte(k))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				logger.Warn("missing API key", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
				writeError(w, http.StatusUnauthorized, "API key required. Please provide X-API-Key header.")
				return
			}
			if !validKey([]byte(key), secrets) {
				logger.Warn("invalid API key", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
				writeError(w, http.StatusForbidden, "Invalid API key provided.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// validKey compares key against every secret without short-circuiting.
func validKey(key []byte, secrets [][]byte) bool {
	match := 0
	for _, s := range secrets {
		match |= subtle.ConstantTimeCompare(key, s)
	}
	return match == 1
}
