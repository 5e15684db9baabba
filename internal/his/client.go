package his

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stealthcompany.com/hisextract/internal/metrics"
)

// Config carries the portal connection parameters. It is built once by the
// CLI and passed down explicitly; there is no ambient configuration.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration

	// PageSize is the row count requested from listing endpoints. The client
	// still follows pagination if the total exceeds it.
	PageSize int
}

// Client is the adapter for the hospital portal. All protocol detail (paths,
// markup attribute names, field positions) is confined to this package; the
// orchestrator only sees the typed operations.
type Client struct {
	sessions *Manager
	baseURL  string
	pageSize int
	pacer    *Pacer
}

// NewClient creates a portal client with its own session manager.
func NewClient(cfg Config) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Client{
		sessions: NewManager(cfg.BaseURL, cfg.Username, cfg.Password, cfg.Timeout),
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		pageSize: pageSize,
	}
}

// Sessions exposes the session manager for lifecycle control (initial
// acquisition, recycling, shutdown release).
func (c *Client) Sessions() *Manager {
	return c.sessions
}

// WithPacer returns a client that waits on p before every portal request,
// including each listing page and each retry attempt. The session manager is
// shared; only the pacing differs. Workers use this so the inter-request
// delay holds per request, not per high-level operation.
func (c *Client) WithPacer(p *Pacer) *Client {
	paced := *c
	paced.pacer = p
	return &paced
}

// Close releases the underlying session transport.
func (c *Client) Close() {
	c.sessions.Close()
}

// authRequired detects a response that landed on the login flow instead of
// the requested resource.
func authRequired(resp *http.Response) bool {
	if resp.StatusCode == http.StatusUnauthorized {
		return true
	}
	return resp.Request != nil && strings.Contains(resp.Request.URL.Path, "/portal/login")
}

// do issues one portal request, reading the full body. If the session has
// expired mid-run it refreshes and retries exactly once; a second
// authentication failure for the same operation is returned as
// ErrAuthRequired rather than looping against a possibly-down portal.
func (c *Client) do(ctx context.Context, op string, build func() (*http.Request, error)) ([]byte, error) {
	sess, err := c.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	body, retry, err := c.doOnce(ctx, op, build)
	if !retry {
		return body, err
	}

	if _, err := c.sessions.Refresh(ctx, sess); err != nil {
		return nil, fmt.Errorf("%s: session refresh failed: %w", op, err)
	}
	metrics.RecordSessionRefresh("expired")

	body, retry, err = c.doOnce(ctx, op, build)
	if retry {
		return nil, fmt.Errorf("%s: %w", op, ErrAuthRequired)
	}
	return body, err
}

// doOnce performs a single request attempt. The second return value reports
// that the response was an auth bounce and the caller may retry with a
// refreshed session.
func (c *Client) doOnce(ctx context.Context, op string, build func() (*http.Request, error)) ([]byte, bool, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, false, err
	}

	req, err := build()
	if err != nil {
		return nil, false, fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req = req.WithContext(ctx)

	start := time.Now()
	resp, err := c.sessions.HTTP().Do(req)
	duration := time.Since(start)

	if err != nil {
		metrics.RecordPortalRequest(op, "error")
		metrics.RecordPortalRequestDuration(op, duration)
		return nil, false, retryable(op, err)
	}
	defer resp.Body.Close()

	if authRequired(resp) {
		io.Copy(io.Discard, resp.Body)
		metrics.RecordPortalRequest(op, "auth_expired")
		metrics.RecordPortalRequestDuration(op, duration)
		return nil, true, nil
	}

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		metrics.RecordPortalRequest(op, "error")
		metrics.RecordPortalRequestDuration(op, duration)
		return nil, false, retryable(op, fmt.Errorf("portal returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		metrics.RecordPortalRequest(op, "error")
		metrics.RecordPortalRequestDuration(op, duration)
		return nil, false, fmt.Errorf("%s: portal returned status %d", op, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordPortalRequest(op, "error")
		metrics.RecordPortalRequestDuration(op, duration)
		return nil, false, retryable(op, err)
	}

	metrics.RecordPortalRequest(op, "success")
	metrics.RecordPortalRequestDuration(op, duration)
	return body, false, nil
}

// get issues an authenticated GET with query parameters.
func (c *Client) get(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	return c.do(ctx, op, func() (*http.Request, error) {
		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		return http.NewRequest(http.MethodGet, u, nil)
	})
}

// postJSON issues an authenticated POST with a JSON body.
func (c *Client) postJSON(ctx context.Context, op, path string, payload []byte) ([]byte, error) {
	return c.do(ctx, op, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.baseURL+path, strings.NewReader(string(payload)))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}
