// Package awx is a minimal typed client for the AWX-style job-execution
// backend that the cluster engine drives. It covers organisations, teams,
// role grants, credentials, inventories, job templates, jobs and job events.
// Every response status is translated through the shared error taxonomy so
// callers branch on error kind, never on status codes.
package awx

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

	"golang.org/x/time/rate"

	"github.com/azimuth-cloud/azimuth-portal/internal/apperrors"
	"github.com/azimuth-cloud/azimuth-portal/internal/config"
	"github.com/azimuth-cloud/azimuth-portal/internal/pkg/metrics"
)

// Client talks to one AWX deployment. It is safe for concurrent use.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	token    string
	username string
	password string
	// Limiter optionally rate-limits outbound API calls. Nil = no limit.
	limiter *rate.Limiter
}

// NewClient builds a client from configuration. The returned client owns its
// transport; call Close when done with it.
func NewClient(cfg *config.Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.AWXURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid awx_url: %w", err)
	}
	timeout := 30 * time.Second
	if cfg.AWXTimeoutSec > 0 {
		timeout = time.Duration(cfg.AWXTimeoutSec) * time.Second
	}
	c := &Client{
		baseURL:  base,
		http:     &http.Client{Timeout: timeout},
		token:    cfg.AWXToken,
		username: cfg.AWXUsername,
		password: cfg.AWXPassword,
	}
	if cfg.AWXRateLimitPerSec > 0 && cfg.AWXRateLimitBurst > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.AWXRateLimitPerSec), cfg.AWXRateLimitBurst)
	}
	return c, nil
}

// Close releases idle connections held by the client's transport.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// listPage is the common AWX list envelope.
type listPage[T any] struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}

// do performs one request against the API and decodes a JSON body into out
// (out may be nil for responses whose body is irrelevant).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return apperrors.Wrap(apperrors.KindCommunicationError, err, "rate limit wait interrupted")
		}
	}

	u := *c.baseURL
	if bp := strings.TrimSuffix(c.baseURL.Path, "/"); bp != "" && !strings.HasPrefix(path, bp) {
		u.Path = bp + path
	} else {
		u.Path = path
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.JobBackendRequestDurationSeconds.WithLabelValues(method, resourceLabel(path)).
		Observe(time.Since(start).Seconds())
	if err != nil {
		return apperrors.Wrap(apperrors.KindCommunicationError, err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return apperrors.FromStatusError(resp.StatusCode, fmt.Sprintf("%s %s", method, path))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Wrap(apperrors.KindCommunicationError, err, "decoding %s %s response", method, path)
		}
	}
	return nil
}

// list follows pagination until every result page has been consumed.
func list[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var results []T
	for {
		var page listPage[T]
		if err := c.do(ctx, http.MethodGet, path, query, nil, &page); err != nil {
			return nil, err
		}
		results = append(results, page.Results...)
		if page.Next == nil {
			return results, nil
		}
		next, err := url.Parse(*page.Next)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindCommunicationError, err, "parsing pagination link")
		}
		path = next.Path
		query = next.Query()
	}
}

// findByName returns the single object with the given name, or a not-found
// error. AWX name filters are exact-match.
func findByName[T any](ctx context.Context, c *Client, path, name string, extra url.Values) (*T, error) {
	query := url.Values{}
	for k, vs := range extra {
		query[k] = vs
	}
	query.Set("name", name)
	items, err := list[T](ctx, c, path, query)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperrors.NotFound("no object named %q at %s", name, path)
	}
	return &items[0], nil
}

// resourceLabel reduces an API path to a low-cardinality metrics label.
func resourceLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 {
		return "unknown"
	}
	// Use the last non-numeric segment: "/inventories/3/copy/" -> "copy".
	for i := len(parts) - 1; i >= 0; i-- {
		if !isNumeric(parts[i]) {
			return parts[i]
		}
	}
	return parts[0]
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
