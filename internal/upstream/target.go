// Package upstream provides backend target management for the load balancer.
package upstream

import (
	"net/url"
	"sync"
)

// Target represents an upstream server the balancer can forward requests to.
// The health flag is written only by the health monitor; every other reader
// must treat it as eventually consistent.
type Target struct {
	endpoint *url.URL
	mu       sync.RWMutex
	healthy  bool
}

// NewTarget creates a new target. Targets start healthy; the first probe
// cycle corrects the flag if the endpoint is unreachable.
func NewTarget(endpoint *url.URL) *Target {
	return &Target{
		endpoint: endpoint,
		healthy:  true,
	}
}

// Endpoint returns the target's endpoint URL.
func (t *Target) Endpoint() *url.URL {
	return t.endpoint
}

// Healthy returns the target's current health status.
func (t *Target) Healthy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.healthy
}

// SetHealthy sets the target's health status.
func (t *Target) SetHealthy(healthy bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.healthy = healthy
}
