package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/abdhe/llm-chat-proxy/pkg/config"
	"github.com/abdhe/llm-chat-proxy/pkg/grpchealth"
	"github.com/abdhe/llm-chat-proxy/pkg/logging"
	"github.com/abdhe/llm-chat-proxy/pkg/provider"
	"github.com/abdhe/llm-chat-proxy/pkg/proxy"
	"github.com/abdhe/llm-chat-proxy/pkg/resilience"
	"github.com/abdhe/llm-chat-proxy/pkg/version"
)

const (
	healthInterval  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func (a *app) serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(a.envFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, a.stderr)
	logger.Info("starting llm-chat-proxy",
		"version", version.Get().String(),
		"provider", cfg.ModelProvider,
		"environment", cfg.Environment,
	)

	registry := newRegistry(cfg, logger)
	if p, err := registry.Default(); err != nil {
		logger.Warn("default provider unavailable, requests will fail until fixed", "provider", cfg.ModelProvider, "error", err)
	} else {
		logger.Info("default provider ready", "provider", p.Name(), "model", p.ModelInfo().Model)
	}

	handler := proxy.NewHandler(proxy.Config{
		Registry: registry,
		Limits: proxy.Limits{
			MaxMessageLength: cfg.MaxMessageLen,
			MaxHistoryLength: cfg.MaxHistoryLen,
		},
		Development: cfg.IsDevelopment(),
		Logger:      logger.With("component", "proxy"),
	})
	router := proxy.NewRouter(handler, proxy.RouterOptions{
		APIKeys:        cfg.APIKeys(),
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	apiServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: streaming responses stay open for as long as the
		// upstream keeps producing.
	}
	metricsServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.MetricsPort),
		Handler:      metricsMux(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	reporter := grpchealth.NewReporter(registry, logger.With("component", "grpc-health"))
	grpcServer := grpchealth.NewServer(reporter)
	grpcLis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen on gRPC port %d: %w", cfg.GRPCPort, err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP API listening", "addr", apiServer.Addr)
		return listenAndServe(apiServer)
	})
	g.Go(func() error {
		logger.Info("metrics server listening", "addr", metricsServer.Addr+"/metrics")
		return listenAndServe(metricsServer)
	})
	g.Go(func() error {
		logger.Info("gRPC health server listening", "addr", grpcLis.Addr().String())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		reporter.Run(ctx, healthInterval)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcServer.GracefulStop()
		logger.Info("gRPC health server stopped")

		var errs []error
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP API shutdown: %w", err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		return err
	}
	logger.Info("llm-chat-proxy shut down successfully")
	return nil
}

func listenAndServe(s *http.Server) error {
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", s.Addr, err)
	}
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	return mux
}

// newRegistry registers every supported provider. Only the default one is
// normally constructed; each reads the same upstream settings.
func newRegistry(cfg *config.Config, logger *slog.Logger) *provider.Registry {
	retry := resilience.RetryConfig{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
	}
	reg := provider.NewRegistry(cfg.ModelProvider, provider.WithLogger(logger.With("component", "registry")))

	reg.Register(provider.GeminiName, func() (provider.Provider, error) {
		p, err := provider.NewGeminiProvider(provider.GeminiConfig{
			APIKey:  cfg.ModelAPIKey,
			Model:   cfg.ModelName,
			BaseURL: cfg.ModelBaseURL,
			Timeout: cfg.RequestTimeout,
			Retry:   retry,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	reg.Register(provider.OpenAIName, func() (provider.Provider, error) {
		p, err := provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:  cfg.ModelAPIKey,
			Model:   cfg.ModelName,
			BaseURL: cfg.ModelBaseURL,
			Timeout: cfg.RequestTimeout,
			Retry:   retry,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	return reg
}
