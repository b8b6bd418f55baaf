package provider

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/abdhe/llm-chat-proxy/pkg/logging"
	"github.com/abdhe/llm-chat-proxy/pkg/metrics"
)

// Constructor builds a new provider instance. It is called at most once per
// provider name between cache clears.
type Constructor func() (Provider, error)

// Registry selects provider implementations by name and caches one validated
// instance per name. It replaces process-wide state: callers own its lifetime.
type Registry struct {
	defaultName string
	logger      *slog.Logger

	mu           sync.RWMutex
	constructors map[string]Constructor
	instances    map[string]Provider
	generation   uint64 // bumped by ClearCache

	flights singleflight.Group
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty registry whose Default resolves to defaultName.
func NewRegistry(defaultName string, opts ...RegistryOption) *Registry {
	r := &Registry{
		defaultName:  normalizeName(defaultName),
		logger:       logging.Discard(),
		constructors: make(map[string]Constructor),
		instances:    make(map[string]Provider),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces the constructor for name.
func (r *Registry) Register(name string, c Constructor) {
	name = normalizeName(name)
	r.mu.Lock()
	r.constructors[name] = c
	r.mu.Unlock()
	r.logger.Info("registered AI provider", "provider", name)
}

// Providers returns the registered provider names in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultName returns the provider name used when Create is given "".
func (r *Registry) DefaultName() string { return r.defaultName }

// Default returns the instance for the default provider.
func (r *Registry) Default() (Provider, error) {
	return r.Create("")
}

// Create returns the cached instance for name, constructing and validating a
// new one on first use. An empty name selects the default provider.
// Concurrent first calls for the same name share a single construction.
func (r *Registry) Create(name string) (Provider, error) {
	if name == "" {
		name = r.defaultName
	}
	name = normalizeName(name)

	if p, ok := r.cached(name); ok {
		r.logger.Debug("returning cached provider instance", "provider", name)
		return p, nil
	}

	v, err, _ := r.flights.Do(name, func() (any, error) {
		if p, ok := r.cached(name); ok {
			return p, nil
		}
		return r.construct(name)
	})
	if err != nil {
		return nil, err
	}
	return v.(Provider), nil
}

// ClearCache evicts all cached instances. Later Create calls reconstruct.
func (r *Registry) ClearCache() {
	r.mu.Lock()
	r.instances = make(map[string]Provider)
	r.generation++
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	r.mu.Unlock()

	// Later Create calls must not join a construction that started before
	// the clear.
	for _, name := range names {
		r.flights.Forget(name)
	}
	r.logger.Debug("cleared provider instance cache")
}

func (r *Registry) cached(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.instances[name]
	return p, ok
}

func (r *Registry) construct(name string) (Provider, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[name]
	gen := r.generation
	r.mu.RUnlock()
	if !ok {
		return nil, NewConfigurationError(name,
			fmt.Sprintf("unsupported AI provider: %s. Available providers: %v", name, r.Providers()), nil)
	}

	metrics.ProviderConstructions.WithLabelValues(name).Inc()

	p, err := ctor()
	if err == nil && p == nil {
		err = fmt.Errorf("constructor returned nil provider")
	}
	if err == nil {
		err = p.ValidateConfiguration()
	}
	if err != nil {
		r.logger.Error("failed to create provider", "provider", name, "error", err)
		return nil, NewConfigurationError(name, fmt.Sprintf("failed to create %s provider", name), err)
	}

	r.mu.Lock()
	stale := gen != r.generation
	if !stale {
		r.instances[name] = p
	}
	r.mu.Unlock()

	if stale {
		r.logger.Debug("cache cleared during construction, instance not cached", "provider", name)
		return p, nil
	}
	r.logger.Info("created and cached provider instance", "provider", name, "model", p.ModelInfo().Model)
	return p, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
