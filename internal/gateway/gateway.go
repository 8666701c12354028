// Package gateway wires the registry, rate limiter, selector, and forwarder
// into the request pipeline and owns the listening server.
package gateway

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vyrodovalexey/avalb/internal/middleware"
	"github.com/vyrodovalexey/avalb/internal/observability"
	"github.com/vyrodovalexey/avalb/internal/proxy"
	"github.com/vyrodovalexey/avalb/internal/ratelimit"
	"github.com/vyrodovalexey/avalb/internal/upstream"
)

// Client key used when the request carries no forwarded-for header. All
// header-less clients share this one rate-limit bucket.
const unknownClientKey = "unknown"

// Responses produced directly by the balancer, not proxied.
const (
	rateLimitedBody   = "Too Many Requests\n"
	noBackendBody     = "Service Unavailable"
	upstreamErrorBody = "Bad Gateway\n"
)

// Balancer owns the backend registry, the rate limiter, and the shared HTTP
// client, and serves the request pipeline: rate-limit check, backend
// selection, forward. It does not start the health monitor; the caller runs
// one against Registry() so the two subsystems stay decoupled.
type Balancer struct {
	registry  *upstream.Registry
	limiter   *ratelimit.FixedWindowLimiter
	selector  *proxy.Selector
	forwarder *proxy.Forwarder
	pool      *proxy.ConnectionPool
	logger    observability.Logger
	metrics   *observability.Metrics
	server    *http.Server
}

// Option is a functional option for configuring the balancer.
type Option func(*Balancer)

// WithLogger sets the logger for the balancer.
func WithLogger(logger observability.Logger) Option {
	return func(b *Balancer) {
		b.logger = logger
	}
}

// WithMetrics sets the metrics sink for the balancer.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(b *Balancer) {
		b.metrics = metrics
	}
}

// WithConnectionPool sets the connection pool for outbound requests.
func WithConnectionPool(pool *proxy.ConnectionPool) Option {
	return func(b *Balancer) {
		b.pool = pool
	}
}

// New constructs a balancer with an empty registry and a fixed-window rate
// limiter admitting maxRequests per client key per window.
func New(window time.Duration, maxRequests int, opts ...Option) *Balancer {
	b := &Balancer{
		limiter:  ratelimit.NewFixedWindowLimiter(window, maxRequests),
		selector: proxy.NewSelector(),
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.pool == nil {
		b.pool = proxy.NewConnectionPool(proxy.DefaultPoolConfig())
	}

	b.registry = upstream.NewRegistry(upstream.WithRegistryLogger(b.logger))
	b.forwarder = proxy.NewForwarder(b.pool.Client(),
		proxy.WithForwarderLogger(b.logger))

	return b
}

// AddServer appends a backend endpoint to the registry. It is the only
// mutation entry point for the backend pool; there is no removal.
func (b *Balancer) AddServer(raw string) error {
	_, err := b.registry.AddURL(raw)
	return err
}

// Registry returns the backend registry, for wiring the health monitor.
func (b *Balancer) Registry() *upstream.Registry {
	return b.registry
}

// Handler returns the balancer's request pipeline wrapped in the standard
// middleware chain.
func (b *Balancer) Handler() http.Handler {
	var h http.Handler = http.HandlerFunc(b.handle)
	h = middleware.Logging(b.logger)(h)
	h = middleware.RequestID()(h)
	h = middleware.Recovery(b.logger)(h)
	return h
}

// handle runs the per-request pipeline: rate-limit check, backend selection,
// forward. Each stage short-circuits with its own response; a forward is
// attempted exactly once with no retry.
func (b *Balancer) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := b.dispatch(w, r)

	if b.metrics != nil {
		b.metrics.RecordRequest(r.Method, status, time.Since(start))
	}
}

// dispatch executes the pipeline and returns the response status code.
func (b *Balancer) dispatch(w http.ResponseWriter, r *http.Request) int {
	key := clientKey(r)

	if !b.limiter.Check(key) {
		b.logger.Info("rate limit exceeded",
			observability.String("client_key", key),
			observability.String("path", r.URL.Path),
		)
		if b.metrics != nil {
			b.metrics.RecordRateLimitHit()
		}
		w.Header().Set(middleware.HeaderContentType, middleware.ContentTypeTextPlain)
		w.Header().Set(middleware.HeaderRetryAfter, "1")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, rateLimitedBody)
		return http.StatusTooManyRequests
	}

	target, err := b.selector.Select(b.registry.Snapshot())
	if err != nil {
		b.logger.Warn("rejecting request", observability.Error(err))
		w.Header().Set(middleware.HeaderContentType, middleware.ContentTypeTextPlain)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, noBackendBody)
		return http.StatusServiceUnavailable
	}

	status, err := b.forwarder.Forward(r.Context(), w, r, target)
	if err != nil {
		b.logger.Error("failed to forward request",
			observability.String("backend", target.Endpoint().String()),
			observability.Error(err),
		)
		if b.metrics != nil {
			b.metrics.RecordUpstreamError(target.Endpoint().String())
		}
		w.Header().Set(middleware.HeaderContentType, middleware.ContentTypeTextPlain)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, upstreamErrorBody)
		return http.StatusBadGateway
	}

	return status
}

// clientKey buckets the request for rate limiting by the first value of the
// X-Forwarded-For header, falling back to a shared key when absent.
func clientKey(r *http.Request) string {
	xff := r.Header.Get(middleware.HeaderXForwardedFor)
	if xff == "" {
		return unknownClientKey
	}
	if idx := strings.IndexByte(xff, ','); idx >= 0 {
		xff = xff[:idx]
	}
	key := strings.TrimSpace(xff)
	if key == "" {
		return unknownClientKey
	}
	return key
}

// Run binds the listener on addr and serves until the listener fails or
// Shutdown is called. A bind failure is returned to the caller; it is the
// only fatal error in the system.
func (b *Balancer) Run(addr string) error {
	b.server = &http.Server{
		Addr:              addr,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	b.logger.Info("listening", observability.String("address", addr))

	return b.server.ListenAndServe()
}

// Shutdown gracefully shuts down the listener.
func (b *Balancer) Shutdown(ctx context.Context) error {
	if b.server == nil {
		return nil
	}
	return b.server.Shutdown(ctx)
}
