package proxy

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/abdhe/llm-chat-proxy/pkg/logging"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	APIKeys        []string
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter wires h behind request ID, access log, recovery, CORS and
// shared-secret middleware.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(logger.With("component", "http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", APIKeyHeader, RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(APIKeyAuth(opts.APIKeys, logger.With("component", "auth")))

	r.Get("/", h.Root)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)           // GET /api/v1/health
		r.Get("/models", h.Models)           // GET /api/v1/models
		r.Post("/chat", h.Chat)              // POST /api/v1/chat
		r.Post("/chat/stream", h.ChatStream) // POST /api/v1/chat/stream
	})

	return r
}
