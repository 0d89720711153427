// Package transport issues JSON requests to vendor APIs and reads their
// server-sent event streams.
//
// The transport knows nothing about vendors: it encodes bodies, applies
// headers, turns non-2xx responses into *StatusError, and yields raw SSE
// events lazily. Every call is bound to the caller's context, so cancelling
// the context aborts the in-flight request and any stream read.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// maxErrorBodySize caps how much of a failed response body is kept.
const maxErrorBodySize int64 = 1 << 20

// DefaultTimeout bounds the connection and header phase of a request.
// Streams may run longer; their lifetime is governed by the context.
const DefaultTimeout = 30 * time.Second

// Option customises a single request.
type Option func(*http.Request)

// WithHeader sets a request header.
func WithHeader(key, value string) Option {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithBearer sets an Authorization bearer token when token is non-empty.
func WithBearer(token string) Option {
	return func(r *http.Request) {
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// Client wraps an *http.Client shared by every adapter built on one
// connection.
type Client struct {
	http *http.Client
}

// New returns a Client. A nil httpClient gets a client whose transport
// times out slow connects and response headers but not stream bodies.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				TLSHandshakeTimeout:   DefaultTimeout,
				ResponseHeaderTimeout: DefaultTimeout,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConnsPerHost:   4,
			},
		}
	}
	return &Client{http: httpClient}
}

// HTTPClient exposes the underlying client so vendor SDKs can share it.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// PostJSON sends body as JSON and decodes a 2xx response into out.
func (c *Client) PostJSON(ctx context.Context, url string, body, out any, opts ...Option) error {
	resp, err := c.do(ctx, http.MethodPost, url, body, "application/json", opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp.Body, out)
}

// GetJSON issues a GET and decodes a 2xx response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any, opts ...Option) error {
	resp, err := c.do(ctx, http.MethodGet, url, nil, "application/json", opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp.Body, out)
}

// Stream posts body and returns a reader over the response's SSE events.
// The caller must Close the reader.
func (c *Client) Stream(ctx context.Context, url string, body any, opts ...Option) (*EventReader, error) {
	resp, err := c.do(ctx, http.MethodPost, url, body, "text/event-stream", opts)
	if err != nil {
		return nil, err
	}
	return NewEventReader(resp.Body), nil
}

func (c *Client) do(ctx context.Context, method, url string, body any, accept string, opts []Option) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       data,
		}
	}

	return resp, nil
}

func decode(r io.Reader, out any) error {
	if out == nil {
		_, err := io.Copy(io.Discard, r)
		return err
	}
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *StatusError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}
