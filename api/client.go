package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	appconfig "creditflow/config"
	"creditflow/logger"
	"creditflow/session"
)

// ErrSnapshotUnavailable signals a transient fetch failure. Prior in-memory
// state must be retained by the caller; the error is retryable.
var ErrSnapshotUnavailable = errors.New("snapshot unavailable")

// Client talks to the scoring backend. A cookie jar is attached so the
// refresh-token cookie issued at login round-trips on refresh calls.
type Client struct {
	config  appconfig.BackendConfig
	http    *http.Client
	base    *url.URL
	limiter *rate.Limiter
	log     *logger.Log
}

// NewClient creates a backend client from the provided configuration.
func NewClient(cfg appconfig.BackendConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend base url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		config:  cfg,
		http:    &http.Client{Jar: jar, Timeout: timeout},
		base:    base,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     logger.GetLogger(),
	}, nil
}

// endpoint resolves a path against the backend origin.
func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

// do issues one request with rate limiting and common headers applied. The
// bearer token is attached when non-empty.
func (c *Client) do(ctx context.Context, method, path, token, contentType string, body io.Reader) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-Request-ID", uuid.New().String())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.http.Do(req)
}

// checkStatus maps response codes to the error taxonomy: 401 exits to the
// shared unauthenticated path, everything else non-2xx is retryable.
func checkStatus(res *http.Response, what string) error {
	if res.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s returned 401", session.ErrUnauthenticated, what)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned status %d", ErrSnapshotUnavailable, what, res.StatusCode)
	}
	return nil
}
