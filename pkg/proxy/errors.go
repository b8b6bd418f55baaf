package proxy

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/abdhe/llm-chat-proxy/pkg/provider"
)

// statusFor maps a categorized provider failure to an HTTP status and a
// message that is safe to show callers.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, provider.ErrRateLimit):
		return http.StatusTooManyRequests, "Rate limit exceeded. Please try again later."
	case errors.Is(err, provider.ErrConfiguration):
		return http.StatusInternalServerError, "AI service configuration error."
	case errors.Is(err, provider.ErrProvider):
		return http.StatusBadGateway, "AI provider error. Please try again later."
	default:
		return http.StatusInternalServerError, "Internal server error."
	}
}

// detail returns msg, extended with the internal error text in development.
func (h *Handler) detail(msg string, err error) string {
	if h.development && err != nil {
		return msg + " " + err.Error()
	}
	return msg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}
