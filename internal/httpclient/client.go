// Package httpclient fetches upstream open-data documents
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultTimeout bounds a single attempt
	DefaultTimeout = 2 * time.Minute

	// DefaultMaxTries is the number of attempts before giving up
	DefaultMaxTries = 3

	// MaxResponseSize is the maximum allowed response size (512MB)
	MaxResponseSize = 512 * 1024 * 1024

	// UserAgent is the user agent string for HTTP requests
	UserAgent = "housing-insights-loader/1.0"
)

// Client is an interface for HTTP operations
type Client interface {
	// Get performs an HTTP GET request and returns the response body
	Get(ctx context.Context, url string) ([]byte, error)
}

// DefaultClient retries temporary failures with exponential backoff
type DefaultClient struct {
	client          *http.Client
	maxTries        uint
	initialInterval time.Duration
}

// Option configures a DefaultClient
type Option func(*DefaultClient)

// WithMaxTries sets the number of attempts per Get
func WithMaxTries(n uint) Option {
	return func(c *DefaultClient) {
		if n > 0 {
			c.maxTries = n
		}
	}
}

// WithInitialInterval sets the first backoff delay
func WithInitialInterval(d time.Duration) Option {
	return func(c *DefaultClient) {
		c.initialInterval = d
	}
}

// NewDefaultClient creates a client whose attempts time out after timeout.
// If timeout is 0, uses DefaultTimeout.
func NewDefaultClient(timeout time.Duration, opts ...Option) Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	c := &DefaultClient{
		client:          &http.Client{Timeout: timeout},
		maxTries:        DefaultMaxTries,
		initialInterval: backoff.DefaultInitialInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches url. Network errors, 429 and 5xx answers are retried; any other
// non-200 answer fails immediately.
func (c *DefaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval

	attempt := 0
	return backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		body, err := c.get(ctx, url)
		if err == nil {
			return body, nil
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Temporary() {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		slog.Debug("Upstream fetch failed", "url", url, "attempt", attempt, "error", err)
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
	)
}

func (c *DefaultClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, NewHTTPError(resp.StatusCode, url, resp.Status)
	}

	if resp.ContentLength > MaxResponseSize {
		return nil, backoff.Permanent(fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes",
			resp.ContentLength, MaxResponseSize))
	}

	// +1 to detect an oversized body without a Content-Length
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, backoff.Permanent(fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize))
	}

	return body, nil
}
