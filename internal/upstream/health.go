package upstream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/vyrodovalexey/avalb/internal/observability"
)

// Health check default configuration constants.
const (
	// DefaultProbeInterval is the default interval between probe passes.
	DefaultProbeInterval = 20 * time.Second

	// DefaultProbeTimeout is the default timeout for a single probe request.
	DefaultProbeTimeout = 5 * time.Second
)

// TargetSource provides the targets to probe. The registry satisfies it;
// tests can supply a fake with controllable targets.
type TargetSource interface {
	Snapshot() []*Target
}

// Monitor periodically probes every target from its source and updates each
// target's health flag. Probe failures are expected outcomes, never errors:
// the target is marked unhealthy and retried on the next pass. The loop has
// no terminal state short of Stop or context cancellation.
type Monitor struct {
	source   TargetSource
	client   *http.Client
	interval time.Duration
	logger   observability.Logger
	metrics  *observability.Metrics

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// MonitorOption is a functional option for configuring the monitor.
type MonitorOption func(*Monitor)

// WithMonitorLogger sets the logger for the monitor.
func WithMonitorLogger(logger observability.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithMonitorClient sets the HTTP client used for probe requests.
func WithMonitorClient(client *http.Client) MonitorOption {
	return func(m *Monitor) {
		m.client = client
	}
}

// WithProbeInterval sets the interval between probe passes.
func WithProbeInterval(interval time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.interval = interval
	}
}

// WithMonitorMetrics sets the metrics sink for probe outcomes.
func WithMonitorMetrics(metrics *observability.Metrics) MonitorOption {
	return func(m *Monitor) {
		m.metrics = metrics
	}
}

// NewMonitor creates a new health monitor for the given target source.
func NewMonitor(source TargetSource, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		source:   source,
		client:   &http.Client{Timeout: DefaultProbeTimeout},
		interval: DefaultProbeInterval,
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start starts the monitor loop in a new goroutine. The channels are re-armed
// on every Start so a stopped monitor can be started again.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.stoppedCh = make(chan struct{})
	stopCh, stoppedCh := m.stopCh, m.stoppedCh
	m.mu.Unlock()

	go m.run(ctx, stopCh, stoppedCh)
}

// Stop stops the monitor and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh, stoppedCh := m.stopCh, m.stoppedCh
	m.mu.Unlock()

	close(stopCh)
	<-stoppedCh
}

// IsRunning returns true if the monitor loop is running.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// run is the main probe loop.
func (m *Monitor) run(ctx context.Context, stopCh <-chan struct{}, stoppedCh chan<- struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Run an initial pass so startup does not wait a full interval.
	m.ProbeAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.ProbeAll(ctx)
		}
	}
}

// ProbeAll probes every target sequentially. Probe latency scales linearly
// with target count; acceptable for small pools.
func (m *Monitor) ProbeAll(ctx context.Context) {
	for _, target := range m.source.Snapshot() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m.Probe(ctx, target)
	}
}

// Probe issues a health-check GET to the target's endpoint and updates its
// health flag: a 200 response marks it healthy, any other status or a
// transport error marks it unhealthy. Transitions are logged.
func (m *Monitor) Probe(ctx context.Context, target *Target) {
	endpoint := target.Endpoint().String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		m.setHealth(target, false, err)
		return
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.setHealth(target, false, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		m.setHealth(target, true, nil)
	} else {
		m.logger.Warn("backend returned unexpected status",
			observability.String("endpoint", endpoint),
			observability.Int("status", resp.StatusCode),
		)
		m.setHealth(target, false, nil)
	}
}

// setHealth updates the target's flag, logging transitions and recording
// probe outcomes.
func (m *Monitor) setHealth(target *Target, healthy bool, err error) {
	endpoint := target.Endpoint().String()
	previous := target.Healthy()
	target.SetHealthy(healthy)

	if m.metrics != nil {
		result := "success"
		if !healthy {
			result = "failure"
		}
		m.metrics.RecordHealthCheck(endpoint, result)
		m.metrics.RecordBackendHealth(endpoint, healthy)
	}

	switch {
	case healthy && !previous:
		m.logger.Info("backend became healthy",
			observability.String("endpoint", endpoint),
		)
	case !healthy && previous:
		m.logger.Warn("backend became unhealthy",
			observability.String("endpoint", endpoint),
			observability.Error(err),
		)
	}
}
