package upstream

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/vyrodovalexey/avalb/internal/observability"
)

// Registry holds the ordered set of backend targets. Membership is
// append-only; target order is stable once appended, which the round-robin
// selector depends on. Adds take the write lock, snapshots the read lock.
type Registry struct {
	mu      sync.RWMutex
	targets []*Target
	logger  observability.Logger
}

// RegistryOption is a functional option for configuring the registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger for the registry.
func WithRegistryLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a new empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Add appends a new target for the given endpoint. The endpoint is not
// probed for reachability at add time; the target starts healthy and the
// monitor corrects the flag on its next pass.
func (r *Registry) Add(endpoint *url.URL) *Target {
	target := NewTarget(endpoint)

	r.mu.Lock()
	r.targets = append(r.targets, target)
	r.mu.Unlock()

	r.logger.Info("registered backend",
		observability.String("endpoint", endpoint.String()),
	)

	return target
}

// AddURL parses the raw endpoint URL and appends a target for it.
func (r *Registry) AddURL(raw string) (*Target, error) {
	endpoint, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL %q: %w", raw, err)
	}
	if endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q: missing scheme or host", raw)
	}
	return r.Add(endpoint), nil
}

// Snapshot returns a point-in-time view of all targets, safe to iterate
// while other goroutines add to the registry.
func (r *Registry) Snapshot() []*Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]*Target, len(r.targets))
	copy(targets, r.targets)
	return targets
}

// Len returns the number of registered targets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.targets)
}
