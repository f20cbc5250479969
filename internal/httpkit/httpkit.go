// Package httpkit provides shared HTTP client construction for all
// outbound calls in adpilot. Both the oracle client and the platform
// gateway clients build on it, so timeouts, connection pooling, and
// User-Agent handling stay consistent in one place.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/slyngg/adpilot/internal/buildinfo"
)

// Default timeouts and connection pool limits for the shared transport.
const (
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultResponseHeader      = 15 * time.Second
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxIdleConns        = 20
	DefaultMaxIdleConnsPerHost = 5
)

// ClientOption configures a Client built by NewClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout    time.Duration
	transport  *http.Transport
	retryCount int
	retryDelay time.Duration
	logger     *slog.Logger
}

// WithTimeout sets the overall request timeout on the http.Client.
// A zero value disables the timeout (useful for streaming responses).
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithTransport overrides the default transport. Use sparingly — the
// default transport handles connection pooling.
func WithTransport(t *http.Transport) ClientOption {
	return func(c *clientConfig) { c.transport = t }
}

// WithRetry enables automatic retry on transient connection errors
// (dial failures, connection refused). Retries are only attempted when
// the request body can be rewound via GetBody, so POST requests that
// reached the server are never replayed.
func WithRetry(count int, delay time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.retryCount = count
		c.retryDelay = delay
	}
}

// WithLogger sets a logger for retry diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = l }
}

// NewTransport creates an http.Transport with the shared defaults.
func NewTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient builds an *http.Client with the shared transport, a
// User-Agent roundtripper, and optional retry.
func NewClient(opts ...ClientOption) *http.Client {
	cfg := &clientConfig{
		timeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(cfg)
	}

	t := cfg.transport
	if t == nil {
		t = NewTransport()
	}

	var rt http.RoundTripper = &userAgentTransport{base: t, ua: buildinfo.UserAgent()}

	if cfg.retryCount > 0 {
		rt = &retryTransport{
			base:   rt,
			count:  cfg.retryCount,
			delay:  cfg.retryDelay,
			logger: cfg.logger,
		}
	}

	return &http.Client{
		Timeout:   cfg.timeout,
		Transport: rt,
	}
}

// userAgentTransport injects the User-Agent header on every request
// unless one is already set.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		// Clone to avoid mutating the caller's request, per RoundTripper contract.
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

// retryTransport wraps a RoundTripper and retries transient connection
// errors. Retries happen only when the body is rewindable via GetBody.
type retryTransport struct {
	base   http.RoundTripper
	count  int
	delay  time.Duration
	logger *slog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil || !isRetryableError(err) {
		return resp, err
	}

	// http.NoBody is treated as empty (common for GET/DELETE).
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, err
	}

	for attempt := 1; attempt <= t.count; attempt++ {
		if t.logger != nil {
			t.logger.Debug("retrying request after transient error",
				"method", req.Method,
				"url", req.URL.String(),
				"attempt", attempt,
				"error", err,
			)
		}

		timer := time.NewTimer(t.delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		retryReq := req.Clone(req.Context())
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("retry: rewind body: %w", bodyErr)
			}
			retryReq.Body = body
		}

		resp, err = t.base.RoundTrip(retryReq)
		if err == nil || !isRetryableError(err) {
			return resp, err
		}
	}

	return resp, err
}

// isRetryableError reports whether err is a transient connection-level
// failure that occurred before any bytes reached the server.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var opErr *net.OpError
	if ok := errors.As(err, &opErr); ok && opErr.Op == "dial" {
		return true
	}

	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}

	return strings.Contains(err.Error(), "connection reset by peer")
}

// ReadErrorBody reads up to limit bytes of an error response body for
// inclusion in error messages, replacing an unreadable body with a
// placeholder rather than failing.
func ReadErrorBody(r io.Reader, limit int64) string {
	b, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil || len(b) == 0 {
		return "(no body)"
	}
	return strings.TrimSpace(string(b))
}

// DrainAndClose reads up to limit bytes from rc and closes it, so the
// underlying connection returns to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}
