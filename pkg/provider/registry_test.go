package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stubProvider is an in-memory Provider for registry tests.
type stubProvider struct {
	name     string
	validErr error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Chat(context.Context, []Message) (string, error) { return "ok", nil }

func (s *stubProvider) ChatStream(context.Context, []Message) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Text: "ok"}
	close(ch)
	return ch, nil
}

func (s *stubProvider) ValidateConfiguration() error { return s.validErr }

func (s *stubProvider) ModelInfo() ModelInfo {
	return ModelInfo{Provider: s.name, Model: "stub-1", Type: "chat"}
}

func countingConstructor(n *atomic.Int32, p Provider, err error) Constructor {
	return func() (Provider, error) {
		n.Add(1)
		time.Sleep(5 * time.Millisecond)
		return p, err
	}
}

func TestRegistry_CreateCachesInstance(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	r := NewRegistry("stub")
	r.Register("stub", countingConstructor(&n, &stubProvider{name: "stub"}, nil))

	a, err := r.Create("")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := r.Create("STUB")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a != b {
		t.Error("expected the same cached instance")
	}
	if got := n.Load(); got != 1 {
		t.Errorf("constructor called %d times, want 1", got)
	}
}

func TestRegistry_ConcurrentCreateConstructsOnce(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	r := NewRegistry("stub")
	r.Register("stub", countingConstructor(&n, &stubProvider{name: "stub"}, nil))

	const workers = 50
	results := make([]Provider, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := r.Create("stub")
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			results[i] = p
		}(i)
	}
	wg.Wait()

	if got := n.Load(); got != 1 {
		t.Errorf("constructor called %d times, want 1", got)
	}
	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("worker %d got a different instance", i)
		}
	}
}

func TestRegistry_UnsupportedProvider(t *testing.T) {
	t.Parallel()

	r := NewRegistry("gemini")
	r.Register("gemini", func() (Provider, error) { return &stubProvider{name: "gemini"}, nil })

	_, err := r.Create("unknown")
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported AI provider: unknown") ||
		!strings.Contains(err.Error(), "gemini") {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestRegistry_FailedValidationIsNotCached(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	cause := errors.New("missing key")
	r := NewRegistry("stub")
	r.Register("stub", countingConstructor(&n, &stubProvider{name: "stub", validErr: cause}, nil))

	for i := 0; i < 2; i++ {
		_, err := r.Create("stub")
		if !errors.Is(err, ErrConfiguration) || !errors.Is(err, cause) {
			t.Fatalf("expected wrapped configuration error, got %v", err)
		}
		if !strings.Contains(err.Error(), "failed to create stub provider") {
			t.Errorf("unexpected message: %q", err.Error())
		}
	}
	if got := n.Load(); got != 2 {
		t.Errorf("constructor called %d times, want 2", got)
	}
}

func TestRegistry_ConstructorError(t *testing.T) {
	t.Parallel()

	cause := NewConfigurationError("stub", "stub API key not configured", nil)
	r := NewRegistry("stub")
	r.Register("stub", func() (Provider, error) { return nil, cause })

	_, err := r.Create("stub")
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be wrapped, got %v", err)
	}
}

func TestRegistry_ClearCache(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	r := NewRegistry("stub")
	r.Register("stub", func() (Provider, error) {
		n.Add(1)
		return &stubProvider{name: "stub"}, nil
	})

	a, _ := r.Create("stub")
	r.ClearCache()
	b, _ := r.Create("stub")
	if a == b {
		t.Error("expected a fresh instance after ClearCache")
	}
	if got := n.Load(); got != 2 {
		t.Errorf("constructor called %d times, want 2", got)
	}
}

func TestRegistry_ProvidersSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry("gemini", WithLogger(discardLogger()))
	r.Register("openai", func() (Provider, error) { return &stubProvider{}, nil })
	r.Register(" Gemini ", func() (Provider, error) { return &stubProvider{}, nil })

	got := r.Providers()
	if len(got) != 2 || got[0] != "gemini" || got[1] != "openai" {
		t.Errorf("Providers() = %v", got)
	}
	if r.DefaultName() != "gemini" {
		t.Errorf("DefaultName() = %q", r.DefaultName())
	}
}

func TestRegistry_ClearCacheDuringConstruction(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	var n atomic.Int32
	r := NewRegistry("stub")
	r.Register("stub", func() (Provider, error) {
		if n.Add(1) == 1 {
			close(entered)
			<-release
		}
		return &stubProvider{name: "stub"}, nil
	})

	first := make(chan Provider, 1)
	go func() {
		p, _ := r.Create("stub")
		first <- p
	}()

	<-entered
	r.ClearCache()
	close(release)
	old := <-first
	if old == nil {
		t.Fatal("in-flight Create returned no instance")
	}

	fresh, err := r.Create("stub")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if fresh == old {
		t.Error("instance built before ClearCache was cached")
	}
	if got := n.Load(); got != 2 {
		t.Errorf("constructor called %d times, want 2", got)
	}
}

func TestRegistry_NilProvider(t *testing.T) {
	t.Parallel()

	r := NewRegistry("stub")
	r.Register("stub", func() (Provider, error) { return nil, nil })

	p, err := r.Create("stub")
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if p != nil {
		t.Errorf("expected no instance, got %v", p)
	}
	if !strings.Contains(err.Error(), "nil provider") {
		t.Errorf("error %q does not name the nil provider", err)
	}
}
