// Package httpclient provides the shared HTTP client used by all provider
// adapters: context-aware timeouts, connection pooling, User-Agent injection
// and a JSON GET helper.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultTimeout is applied when the request context has no deadline.
	DefaultTimeout = 30 * time.Second

	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultDialTimeout         = 30 * time.Second

	defaultUserAgent = "storyboard-enrich"
)

// maxResponseBytes bounds provider response bodies; a misbehaving provider
// must not be able to exhaust memory.
const maxResponseBytes = 8 << 20

// Client wraps http.Client with per-request timeout handling. Thread-safe.
type Client struct {
	client         *http.Client
	defaultTimeout time.Duration
	userAgent      string
}

// Config holds configuration for creating a Client.
type Config struct {
	DefaultTimeout time.Duration
	UserAgent      string
}

// New creates a client with pooled transport settings. A nil cfg uses the
// defaults.
func New(cfg *Config) *Client {
	timeout := DefaultTimeout
	userAgent := defaultUserAgent
	if cfg != nil {
		if cfg.DefaultTimeout > 0 {
			timeout = cfg.DefaultTimeout
		}
		if cfg.UserAgent != "" {
			userAgent = cfg.UserAgent
		}
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultDialTimeout,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
	}

	return &Client{
		client:         &http.Client{Transport: transport},
		defaultTimeout: timeout,
		userAgent:      userAgent,
	}
}

// Do executes a request, applying the default timeout when the context has
// no deadline. The caller must close the response body on success.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
		defer cancel()
	}
	req = req.WithContext(ctx)

	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.client.Do(req)
}

// Get performs a GET request with context.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}
	return c.Do(ctx, req)
}

// GetJSON fetches url and unmarshals the body into out. The HTTP status is
// returned alongside so callers can classify quota and transient failures;
// a non-2xx status is not an error here.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("error reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, nil
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("error unmarshaling response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// GetBody fetches url and returns the raw body for callers that parse
// loosely-typed JSON themselves.
func (c *Client) GetBody(ctx context.Context, url string, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("error reading response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// HTTPClient exposes the underlying http.Client, primarily so tests can
// register a mock transport on it.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
