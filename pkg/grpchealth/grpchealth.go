// Package grpchealth exposes provider readiness over the standard gRPC
// health-checking protocol.
package grpchealth

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/abdhe/llm-chat-proxy/pkg/logging"
	"github.com/abdhe/llm-chat-proxy/pkg/metrics"
	"github.com/abdhe/llm-chat-proxy/pkg/provider"
)

// ChatService is the service name reported alongside the overall status.
const ChatService = "chat"

// Reporter keeps the health status in step with the default provider.
type Reporter struct {
	registry *provider.Registry
	health   *health.Server
	logger   *slog.Logger
}

// NewReporter creates a reporter. Status starts as NOT_SERVING until Sync.
func NewReporter(registry *provider.Registry, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = logging.Discard()
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ChatService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Reporter{registry: registry, health: hs, logger: logger}
}

// HealthServer returns the grpc.health.v1 implementation.
func (r *Reporter) HealthServer() healthpb.HealthServer { return r.health }

// Sync resolves the default provider and publishes whether it is usable.
func (r *Reporter) Sync() bool {
	name := r.registry.DefaultName()
	ready := true

	p, err := r.registry.Default()
	if err == nil {
		err = p.ValidateConfiguration()
	}
	if err != nil {
		ready = false
		r.logger.Warn("default provider not ready", "provider", name, "error", err)
	}

	status := healthpb.HealthCheckResponse_SERVING
	gauge := 1.0
	if !ready {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		gauge = 0
	}
	r.health.SetServingStatus("", status)
	r.health.SetServingStatus(ChatService, status)
	metrics.ProviderReady.WithLabelValues(name).Set(gauge)
	return ready
}

// Run syncs immediately and then every interval until ctx is done, after
// which all statuses are set to NOT_SERVING.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) {
	r.Sync()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.health.Shutdown()
			return
		case <-ticker.C:
			r.Sync()
		}
	}
}

// NewServer returns a gRPC server with the health service and reflection
// registered.
func NewServer(r *Reporter, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(4 * 1024 * 1024), // 4MB
	}, opts...)
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, r.HealthServer())
	reflection.Register(s) // Enable gRPC reflection for grpcurl
	return s
}
