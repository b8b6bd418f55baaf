// Package proxy implements the HTTP API that relays chat conversations to
// the configured provider.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/abdhe/llm-chat-proxy/pkg/logging"
	"github.com/abdhe/llm-chat-proxy/pkg/metrics"
	"github.com/abdhe/llm-chat-proxy/pkg/provider"
	"github.com/abdhe/llm-chat-proxy/pkg/version"
)

// Handler serves the chat API.
type Handler struct {
	registry    *provider.Registry
	limits      Limits
	development bool
	logger      *slog.Logger
}

// Config holds the handler configuration.
type Config struct {
	Registry    *provider.Registry
	Limits      Limits
	Development bool // append internal error text to responses
	Logger      *slog.Logger
}

// NewHandler creates a new proxy handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Limits.MaxMessageLength <= 0 {
		cfg.Limits.MaxMessageLength = 10000
	}
	if cfg.Limits.MaxHistoryLength <= 0 {
		cfg.Limits.MaxHistoryLength = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Handler{
		registry:    cfg.Registry,
		limits:      cfg.Limits,
		development: cfg.Development,
		logger:      cfg.Logger,
	}
}

func (h *Handler) log(r *http.Request) *slog.Logger {
	return h.logger.With("request_id", middleware.GetReqID(r.Context()))
}

// Root returns basic service information.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RootResponse{
		Message: "AI Chatbot API",
		Version: version.APIVersion,
		Status:  "running",
		Docs:    "/docs",
	})
}

// Health reports liveness. It never touches the provider.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.log(r).Debug("health check")
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   version.APIVersion,
	})
}

// Models describes the default provider.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	p, err := h.registry.Default()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ModelsResponse{
		ModelInfo:       p.ModelInfo(),
		DefaultProvider: h.registry.DefaultName(),
		Providers:       h.registry.Providers(),
	})
}

// Chat relays a conversation and returns the complete answer.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	logger := h.log(r)

	req, err := decodeChatRequest(r, w, h.limits)
	if err != nil {
		h.rejectRequest(w, r, err)
		return
	}

	p, err := h.registry.Default()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	logger.Info("processing chat request", "provider", p.Name(), "messages", len(req.Messages))

	content, err := p.Chat(r.Context(), req.Messages)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	logger.Info("chat request completed", "provider", p.Name(), "chars", len(content))
	writeJSON(w, http.StatusOK, ChatResponse{Content: content, Model: p.ModelInfo().Model})
}

// ChatStream relays a conversation as server-sent events. Once the request is
// valid the response is committed, so later failures are sent as an error
// event.
func (h *Handler) ChatStream(w http.ResponseWriter, r *http.Request) {
	logger := h.log(r)

	req, err := decodeChatRequest(r, w, h.limits)
	if err != nil {
		h.rejectRequest(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Stops the producer when the client goes away or the handler returns.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(ev streamEvent) bool {
		b, _ := json.Marshal(ev)
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	sendErr := func(err error) {
		status, msg := statusFor(err)
		logger.Error("stream failed", "category", provider.CategoryOf(err), "error", err)
		send(streamEvent{
			Type:     "error",
			Category: string(provider.CategoryOf(err)),
			Status:   status,
			Detail:   h.detail(msg, err),
		})
	}

	p, err := h.registry.Default()
	if err != nil {
		sendErr(err)
		return
	}

	logger.Info("processing streaming chat request", "provider", p.Name(), "messages", len(req.Messages))

	chunks, err := p.ChatStream(ctx, req.Messages)
	if err != nil {
		sendErr(err)
		return
	}

	fragments := metrics.StreamFragmentsTotal.WithLabelValues(p.Name())
	n := 0
	for chunk := range chunks {
		if chunk.Err != nil {
			if errors.Is(chunk.Err, context.Canceled) && ctx.Err() != nil {
				logger.Info("client disconnected during stream", "fragments", n)
				return
			}
			sendErr(chunk.Err)
			return
		}
		if !send(streamEvent{Type: "content", Content: chunk.Text}) {
			logger.Info("client disconnected during stream", "fragments", n)
			return
		}
		fragments.Inc()
		n++
	}

	if ctx.Err() != nil {
		logger.Info("client disconnected during stream", "fragments", n)
		return
	}
	send(streamEvent{Type: "done", Model: p.ModelInfo().Model})
	logger.Info("streaming chat request completed", "provider", p.Name(), "fragments", n)
}

// rejectRequest writes a validation failure.
func (h *Handler) rejectRequest(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *requestError
	if !errors.As(err, &reqErr) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.log(r).Warn("rejected chat request", "status", reqErr.status, "detail", reqErr.detail)
	writeError(w, reqErr.status, reqErr.detail)
}

// fail writes a provider failure with its mapped status.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	logger := h.log(r)
	if status == http.StatusTooManyRequests {
		logger.Warn("chat request rate limited", "error", err)
	} else {
		logger.Error("chat request failed", "status", status, "category", provider.CategoryOf(err), "error", err)
	}
	writeError(w, status, h.detail(msg, err))
}
