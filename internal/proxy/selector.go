// Package proxy provides round-robin backend selection and request
// forwarding for the load balancer.
package proxy

import (
	"errors"
	"sync"

	"github.com/vyrodovalexey/avalb/internal/upstream"
)

// ErrNoHealthyBackend is returned when every registered backend is unhealthy
// or the pool is empty.
var ErrNoHealthyBackend = errors.New("no healthy backend available")

// Selector picks targets in round-robin order over the healthy subset of a
// registry snapshot. The cursor is logical rotation state owned by the
// selector, not tied to any target identity: when the healthy set changes
// between selections the cursor still advances positionally, which can skew
// distribution briefly after a health transition.
type Selector struct {
	mu     sync.Mutex
	cursor int
}

// NewSelector creates a new selector with the cursor at zero.
func NewSelector() *Selector {
	return &Selector{}
}

// Select filters the given targets to the healthy ones, preserving order,
// and returns the next target in round-robin order. It returns
// ErrNoHealthyBackend when no target is healthy. The cursor is reduced modulo
// the healthy-set size on read, so a cursor left over from a larger healthy
// set stays in range.
func (s *Selector) Select(targets []*upstream.Target) (*upstream.Target, error) {
	healthy := make([]*upstream.Target, 0, len(targets))
	for _, target := range targets {
		if target.Healthy() {
			healthy = append(healthy, target)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthyBackend
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.cursor % len(healthy)
	s.cursor = (idx + 1) % len(healthy)
	return healthy[idx], nil
}
