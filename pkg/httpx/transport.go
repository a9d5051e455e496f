package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/deadbolt/pkg/idx"
	"github.com/aussiebroadwan/deadbolt/pkg/slogx"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single round trip when no client is supplied.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

// Transport issues JSON requests against a fixed base address. It holds no
// per-call state and is safe for concurrent use.
type Transport struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	header  http.Header
}

type TransportOption func(*Transport)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithLimiter makes every request wait for a token from l first.
func WithLimiter(l *rate.Limiter) TransportOption {
	return func(t *Transport) { t.limiter = l }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) TransportOption {
	return func(t *Transport) { t.header.Set(key, value) }
}

// NewTransport validates baseURL and returns a Transport rooted at it. Request
// paths are resolved relative to the base, which always ends in a slash.
func NewTransport(baseURL string, opts ...TransportOption) (*Transport, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("httpx: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("httpx: base url %q must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("httpx: base url %q has no host", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawQuery, u.Fragment = "", ""

	t := &Transport{
		baseURL: u.String(),
		client:  &http.Client{Timeout: DefaultTimeout},
		header:  make(http.Header),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// BaseURL returns the normalised base address.
func (t *Transport) BaseURL() string { return t.baseURL }

func (t *Transport) Get(ctx context.Context, path string) (*Result, error) {
	return t.Do(ctx, http.MethodGet, path, nil)
}

func (t *Transport) Post(ctx context.Context, path string, body any) (*Result, error) {
	return t.Do(ctx, http.MethodPost, path, body)
}

func (t *Transport) Put(ctx context.Context, path string, body any) (*Result, error) {
	return t.Do(ctx, http.MethodPut, path, body)
}

func (t *Transport) Delete(ctx context.Context, path string) (*Result, error) {
	return t.Do(ctx, http.MethodDelete, path, nil)
}

// Do sends one request. body, when non-nil, is encoded as JSON. An error is
// returned only when no response was obtained or it could not be read.
func (t *Transport) Do(ctx context.Context, method, path string, body any) (*Result, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("httpx: encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("httpx: rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+strings.TrimPrefix(path, "/"), reader)
	if err != nil {
		return nil, fmt.Errorf("httpx: build request: %w", err)
	}
	for k, v := range t.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	reqID := idx.FromContext(ctx)
	req.Header.Set(idx.Header, reqID.String())

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpx: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("httpx: read %s %s response: %w", method, path, err)
	}

	slogx.FromContext(ctx).Debug("http_client_request",
		"req_id", reqID.String(),
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Result{
		Status: resp.StatusCode,
		Body:   decodeBody(raw),
		Raw:    raw,
		Header: resp.Header,
	}, nil
}
