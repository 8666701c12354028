package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/vyrodovalexey/avalb/internal/observability"
	"github.com/vyrodovalexey/avalb/internal/upstream"
)

// hopHeaders are headers that should not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder relays a request to a chosen target through a shared
// connection-pooling client and writes the upstream response back verbatim.
// Each request is attempted exactly once against exactly one backend; there
// are no retries.
type Forwarder struct {
	client *http.Client
	logger observability.Logger
}

// ForwarderOption is a functional option for configuring the forwarder.
type ForwarderOption func(*Forwarder)

// WithForwarderLogger sets the logger for the forwarder.
func WithForwarderLogger(logger observability.Logger) ForwarderOption {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// NewForwarder creates a forwarder that sends requests through client.
func NewForwarder(client *http.Client, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		client: client,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Forward rebuilds the request against the target's endpoint, sends it, and
// relays status, headers, and body to w. The outbound URL is the target
// endpoint joined with the original path and query ("/" when absent). The
// Host header is not rewritten to the backend's host: virtual-host-aware
// backends see the host the client sent.
//
// A transport failure is returned as an error and nothing is written to w;
// the caller maps it to a response. Once the upstream response headers are
// relayed a body copy failure can only be logged. On success the relayed
// upstream status code is returned.
func (f *Forwarder) Forward(ctx context.Context, w http.ResponseWriter, r *http.Request, target *upstream.Target) (int, error) {
	endpoint := target.Endpoint().String()

	uri := endpoint + requestPathAndQuery(r)
	req, err := http.NewRequestWithContext(ctx, r.Method, uri, r.Body)
	if err != nil {
		return 0, fmt.Errorf("building upstream request for %s: %w", endpoint, err)
	}

	copyHeaders(req.Header, r.Header)
	req.Host = r.Host
	// The transport ignores a header-map Content-Length; without the field
	// set it would re-send the body chunked.
	req.ContentLength = r.ContentLength

	f.logger.Info("forwarding request",
		observability.String("backend", endpoint),
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
	)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("forwarding to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	f.logger.Info("received upstream response",
		observability.String("backend", endpoint),
		observability.Int("status", resp.StatusCode),
	)

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		f.logger.Warn("failed to relay upstream body",
			observability.String("backend", endpoint),
			observability.Error(err),
		)
	}

	return resp.StatusCode, nil
}

// requestPathAndQuery returns the original request's path and query,
// defaulting to "/" when the request has neither.
func requestPathAndQuery(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		return path + "?" + r.URL.RawQuery
	}
	return path
}

// copyHeaders copies src into dst, skipping hop-by-hop headers.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// isHopHeader reports whether the header is hop-by-hop.
func isHopHeader(key string) bool {
	for _, h := range hopHeaders {
		if http.CanonicalHeaderKey(key) == h {
			return true
		}
	}
	return false
}
