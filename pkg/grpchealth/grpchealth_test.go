package grpchealth

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/abdhe/llm-chat-proxy/pkg/provider"
)

type stubProvider struct{ validErr error }

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Chat(context.Context, []provider.Message) (string, error) {
	return "", nil
}

func (s *stubProvider) ChatStream(context.Context, []provider.Message) (<-chan provider.StreamChunk, error) {
	return nil, nil
}

func (s *stubProvider) ValidateConfiguration() error { return s.validErr }

func (s *stubProvider) ModelInfo() provider.ModelInfo { return provider.ModelInfo{Model: "stub-1"} }

func check(t *testing.T, hs healthpb.HealthServer, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.Status
}

func TestSync_Serving(t *testing.T) {
	t.Parallel()

	reg := provider.NewRegistry("stub")
	reg.Register("stub", func() (provider.Provider, error) { return &stubProvider{}, nil })
	r := NewReporter(reg, nil)

	if got := check(t, r.HealthServer(), ChatService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status before Sync = %v", got)
	}
	if !r.Sync() {
		t.Fatal("expected ready")
	}
	for _, svc := range []string{"", ChatService} {
		if got := check(t, r.HealthServer(), svc); got != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("service %q status = %v", svc, got)
		}
	}
}

func TestSync_NotServingWhenProviderFails(t *testing.T) {
	t.Parallel()

	reg := provider.NewRegistry("stub")
	reg.Register("stub", func() (provider.Provider, error) {
		return &stubProvider{validErr: errors.New("no key")}, nil
	})
	r := NewReporter(reg, nil)

	if r.Sync() {
		t.Fatal("expected not ready")
	}
	if got := check(t, r.HealthServer(), ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v", got)
	}
}

func TestServer_OverBufconn(t *testing.T) {
	t.Parallel()

	reg := provider.NewRegistry("stub")
	reg.Register("stub", func() (provider.Provider, error) { return &stubProvider{}, nil })
	r := NewReporter(reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, time.Hour)

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(r)
	go srv.Serve(lis) //nolint:errcheck
	defer srv.Stop()

	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ChatService})
		if err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("never became SERVING: resp=%v err=%v", resp, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
