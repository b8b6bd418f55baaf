package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/abdhe/llm-chat-proxy/pkg/provider"
)

// ChatRequest is the body of both chat endpoints.
type ChatRequest struct {
	Messages []provider.Message `json:"messages"`
}

// ChatResponse is the body of a successful unary chat call.
type ChatResponse struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

// HealthResponse is returned by the unauthenticated health endpoint.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// RootResponse describes the service at "/".
type RootResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
	Status  string `json:"status"`
	Docs    string `json:"docs"`
}

// ModelsResponse is the default provider's metadata plus the registered names.
type ModelsResponse struct {
	provider.ModelInfo
	DefaultProvider string   `json:"default_provider"`
	Providers       []string `json:"providers"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// streamEvent is one SSE data frame on the streaming endpoint.
type streamEvent struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	Model    string `json:"model,omitempty"`
	Category string `json:"category,omitempty"`
	Status   int    `json:"status,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// requestError is a client-side failure detected before any provider work.
type requestError struct {
	status int
	detail string
}

func (e *requestError) Error() string { return e.detail }

// Limits bounds the size of an accepted conversation.
type Limits struct {
	MaxMessageLength int
	MaxHistoryLength int
}

// decodeChatRequest reads and validates a chat body. Malformed JSON is a 400,
// a well-formed body that breaks the message schema is a 422.
func decodeChatRequest(r *http.Request, w http.ResponseWriter, lim Limits) (ChatRequest, error) {
	maxBytes := int64(lim.MaxHistoryLength)*int64(lim.MaxMessageLength)*4 + 64<<10
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, &requestError{status: http.StatusRequestEntityTooLarge, detail: "request body too large"}
		}
		return req, &requestError{status: http.StatusBadRequest, detail: "invalid request body"}
	}
	if err := validateMessages(req.Messages, lim); err != nil {
		return req, err
	}
	return req, nil
}

func validateMessages(msgs []provider.Message, lim Limits) error {
	if len(msgs) == 0 {
		return unprocessable("messages: at least 1 message is required")
	}
	if len(msgs) > lim.MaxHistoryLength {
		return unprocessable(fmt.Sprintf("messages: at most %d messages are allowed", lim.MaxHistoryLength))
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return unprocessable(fmt.Sprintf("messages[%d].role: must be one of system, user, assistant", i))
		}
		n := utf8.RuneCountInString(m.Content)
		if n == 0 {
			return unprocessable(fmt.Sprintf("messages[%d].content: must not be empty", i))
		}
		if n > lim.MaxMessageLength {
			return unprocessable(fmt.Sprintf("messages[%d].content: must be at most %d characters", i, lim.MaxMessageLength))
		}
	}
	return nil
}

func unprocessable(detail string) *requestError {
	return &requestError{status: http.StatusUnprocessableEntity, detail: detail}
}
