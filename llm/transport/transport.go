// Package transport is the shared HTTP capability every vendor adapter composes:
// base URL, timeout, default headers/query, pluggable authentication, and the
// two call shapes (JSON and raw stream). Mapping failures to llm.Error is left
// to the vendor packages.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BaSui01/gptproxy/internal/tlsutil"
	"github.com/BaSui01/gptproxy/llm"
	"go.uber.org/zap"
)

// DefaultTimeout is the request deadline used when Config.Timeout is zero.
const DefaultTimeout = 50 * time.Second

// maxErrorBody caps how much of a non-2xx body is kept for error mapping.
const maxErrorBody = 1 << 20

// Config holds the immutable per-vendor transport settings.
type Config struct {
	// Provider names the vendor in errors and logs.
	Provider string

	// BaseURL is prefixed to every path.
	BaseURL string

	// Timeout bounds a JSON call end to end, and a streaming call until
	// response headers arrive. Defaults to DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the pooled, TLS-hardened default client.
	HTTPClient *http.Client

	// DefaultHeaders and DefaultQuery are merged into every call.
	DefaultHeaders http.Header
	DefaultQuery   url.Values

	// Auth injects vendor authentication. Nil means no authentication.
	Auth Authenticator

	Logger *zap.Logger
}

// Client performs authenticated POSTs. Safe for concurrent use: it holds
// only read-only configuration.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Client. Header and query maps are copied so later mutation by
// the caller has no effect.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.DefaultHeaders = cfg.DefaultHeaders.Clone()
	cfg.DefaultQuery = cloneValues(cfg.DefaultQuery)

	client := cfg.HTTPClient
	if client == nil {
		client = tlsutil.SecureHTTPClient(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("component", "transport"), zap.String("provider", cfg.Provider)),
	}
}

// Provider returns the configured vendor name.
func (c *Client) Provider() string { return c.cfg.Provider }

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// Timeout returns the effective request deadline.
func (c *Client) Timeout() time.Duration { return c.cfg.Timeout }

// StatusError is returned for non-2xx responses. Body holds the (capped) raw
// vendor payload for the vendor's error mapper.
type StatusError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// PostJSON issues one POST and decodes a 2xx JSON body into out. The raw body
// is returned as well so callers can keep it for malformed-response errors.
func (c *Client) PostJSON(ctx context.Context, path string, body any, opts llm.RequestOptions, out any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.do(ctx, path, body, opts, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &llm.TransportError{Provider: c.cfg.Provider, Op: "read body", Err: err}
	}
	c.logger.Debug("upstream call",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("stream", false),
	)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return data, &StatusError{StatusCode: resp.StatusCode, Header: resp.Header, Body: capBody(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return data, llm.Malformed(c.cfg.Provider, "invalid JSON body: "+err.Error(), data)
		}
	}
	return data, nil
}

// PostStream issues one POST and returns the raw 2xx response for streaming.
// The body is aborted when it is closed or when ctx is cancelled. Non-2xx
// responses are read (capped) and returned as *StatusError.
func (c *Client) PostStream(ctx context.Context, path string, body any, opts llm.RequestOptions) (*http.Response, error) {
	ctx, cancel := context.WithCancel(ctx)

	var timedOut atomic.Bool
	timer := time.AfterFunc(c.cfg.Timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	start := time.Now()
	resp, err := c.do(ctx, path, body, opts, true)
	if !timer.Stop() && err == nil {
		resp.Body.Close()
		err = &llm.TransportError{Provider: c.cfg.Provider, Op: "await headers", Err: context.DeadlineExceeded}
	}
	if err != nil {
		cancel()
		if timedOut.Load() {
			return nil, &llm.TransportError{Provider: c.cfg.Provider, Op: "await headers", Err: context.DeadlineExceeded}
		}
		return nil, err
	}
	c.logger.Debug("upstream call",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("stream", true),
	)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		return nil, &StatusError{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *Client) do(ctx context.Context, path string, body any, opts llm.RequestOptions, stream bool) (*http.Response, error) {
	payload, err := MarshalJSON(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint, err := c.endpoint(path, opts.Query)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}
	for k, vs := range c.cfg.DefaultHeaders {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range opts.Headers {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	if c.cfg.Auth != nil {
		if err := c.cfg.Auth.Authenticate(httpReq, body); err != nil {
			return nil, fmt.Errorf("failed to authenticate request: %w", err)
		}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &llm.TransportError{Provider: c.cfg.Provider, Op: "POST " + path, Err: unwrapURLError(err)}
	}
	return resp, nil
}

// MarshalJSON 编码为紧凑 JSON，不转义 &、<、>。
// 发送的请求体与签名用的 JSON 必须是同一种形式。
func MarshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (c *Client) endpoint(path string, extra url.Values) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL + path)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	if len(c.cfg.DefaultQuery) == 0 && len(extra) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, vs := range c.cfg.DefaultQuery {
		q[k] = append([]string(nil), vs...)
	}
	for k, vs := range extra {
		q[k] = append([]string(nil), vs...)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// cancelBody releases the per-call context when the stream body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	b.cancel()
	return b.ReadCloser.Close()
}

func unwrapURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return ue.Err
	}
	return err
}

func capBody(data []byte) []byte {
	if len(data) > maxErrorBody {
		return data[:maxErrorBody]
	}
	return data
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
