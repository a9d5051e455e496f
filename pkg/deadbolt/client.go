package deadbolt

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/deadbolt/pkg/httpx"
	"github.com/aussiebroadwan/deadbolt/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultEndpoint is the service address used when none is configured.
const DefaultEndpoint = "http://localhost:3000/"

// Transport executes requests against the service. Non-2xx responses are
// results, not errors; errors mean no usable response was obtained.
// *httpx.Transport is the standard implementation.
type Transport interface {
	Get(ctx context.Context, path string) (*httpx.Result, error)
	Post(ctx context.Context, path string, body any) (*httpx.Result, error)
	Put(ctx context.Context, path string, body any) (*httpx.Result, error)
	Delete(ctx context.Context, path string) (*httpx.Result, error)
}

// Client talks to a Deadbolt service. It keeps no per-call state and is safe
// for concurrent use.
type Client struct {
	endpoint  string
	transport Transport
	logger    *slog.Logger
	// expiryClock is set only when CheckSession should also reject sessions
	// whose expiry has passed locally.
	expiryClock func() time.Time
}

type options struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	rateLimit  httpx.RateLimitConfig
	registerer prometheus.Registerer
	transport  Transport
	userAgent  string
	now        func() time.Time
}

// Option configures a Client.
type Option func(*options)

// WithHTTPClient sends requests through c. The client is not modified.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTimeout bounds each round trip. It is ignored when WithHTTPClient
// supplies a client.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger sets the fallback logger. A logger carried by the call context
// through slogx.WithContext takes precedence.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRateLimit throttles outgoing requests client side.
func WithRateLimit(cfg httpx.RateLimitConfig) Option {
	return func(o *options) { o.rateLimit = cfg }
}

// WithMetrics records request counts and latencies in reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithTransport replaces the HTTP transport entirely. The HTTP related
// options are ignored when it is set.
func WithTransport(t Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithExpiryCheck makes CheckSession also fail with "session-expired" when
// the session's expiry has passed by now, even if the service still accepts
// it. Off by default; the service is authoritative.
func WithExpiryCheck(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New returns a client for the service at endpoint, or DefaultEndpoint when
// endpoint is empty.
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	o := options{
		timeout: httpx.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		endpoint:  endpoint,
		transport: o.transport,
		logger:    o.logger,
		expiryClock: o.now,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	if c.transport != nil {
		return c, nil
	}

	hc := &http.Client{Timeout: o.timeout}
	if o.httpClient != nil {
		copied := *o.httpClient
		hc = &copied
	}

	if o.registerer != nil {
		m, err := httpx.NewMetrics(o.registerer)
		if err != nil {
			return nil, fmt.Errorf("deadbolt: register metrics: %w", err)
		}
		hc.Transport = m.RoundTripper(hc.Transport)
	}

	topts := []httpx.TransportOption{httpx.WithHTTPClient(hc)}
	if l := o.rateLimit.Limiter(); l != nil {
		topts = append(topts, httpx.WithLimiter(l))
	}
	if o.userAgent != "" {
		topts = append(topts, httpx.WithHeader("User-Agent", o.userAgent))
	}

	t, err := httpx.NewTransport(endpoint, topts...)
	if err != nil {
		return nil, fmt.Errorf("deadbolt: %w", err)
	}
	c.endpoint = t.BaseURL()
	c.transport = t

	return c, nil
}

// Endpoint returns the service base address.
func (c *Client) Endpoint() string { return c.endpoint }

func (c *Client) log(ctx context.Context) *slog.Logger {
	return slogx.FromContext(ctx, c.logger)
}

// unexpected logs a response the operation has no structured outcome for and
// returns the fatal error describing it.
func (c *Client) unexpected(ctx context.Context, code string, res *httpx.Result) error {
	c.log(ctx).Error("unexpected deadbolt response",
		"code", code,
		"status", res.Status,
		"body", string(res.Raw),
	)
	return responseError(code, res)
}

// unreachable logs and wraps a transport failure.
func (c *Client) unreachable(ctx context.Context, code string, err error) error {
	c.log(ctx).Error("deadbolt request failed", "code", code, "err", err)
	return transportError(code, err)
}

// malformed reports a 200 response whose body could not be decoded.
func (c *Client) malformed(ctx context.Context, code string, res *httpx.Result, err error) error {
	c.log(ctx).Error("malformed deadbolt response",
		"code", code,
		"status", res.Status,
		"body", string(res.Raw),
		"err", err,
	)
	return &Error{Code: code, Message: "malformed response", Status: res.Status, Err: err}
}
