// Package httpx provides the rate-limited HTTP client shared by every
// component that talks to the filing API. One token bucket pair per host:
// a slow quota bucket (daily call budget) and a fast burst bucket.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a token cannot be acquired before the
// call's deadline, or the origin answers 429 past all retries.
var ErrRateLimited = errors.New("rate limited")

// HostLimit configures the bucket pair for one host.
type HostLimit struct {
	PerDay int // quota bucket: refills PerDay tokens over 24h, burst = PerDay
	Burst  int // burst bucket: Burst tokens per second
}

type hostBuckets struct {
	quota *rate.Limiter
	burst *rate.Limiter
}

// Client is a retrying HTTP client with per-host token buckets. Safe for
// concurrent use; one instance is shared process-wide.
type Client struct {
	http    *http.Client
	retries int
	backoff time.Duration

	mu      sync.Mutex
	buckets map[string]*hostBuckets
	limits  map[string]HostLimit
}

// New builds a Client. limits maps hostnames to their bucket configuration;
// hosts without an entry are not throttled.
func New(timeout time.Duration, retries int, backoff time.Duration, limits map[string]HostLimit) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	if backoff == 0 {
		backoff = 500 * time.Millisecond
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		retries: retries,
		backoff: backoff,
		buckets: make(map[string]*hostBuckets),
		limits:  limits,
	}
}

func (c *Client) bucketsFor(host string) *hostBuckets {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.buckets[host]; ok {
		return b
	}
	lim, ok := c.limits[host]
	if !ok {
		return nil
	}
	b := &hostBuckets{}
	if lim.PerDay > 0 {
		b.quota = rate.NewLimiter(rate.Limit(float64(lim.PerDay)/(24*60*60)), lim.PerDay)
	}
	if lim.Burst > 0 {
		b.burst = rate.NewLimiter(rate.Limit(lim.Burst), lim.Burst)
	}
	c.buckets[host] = b
	return b
}

func (c *Client) acquire(ctx context.Context, host string) error {
	b := c.bucketsFor(host)
	if b == nil {
		return nil
	}
	if b.burst != nil {
		if err := b.burst.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}
	if b.quota != nil {
		if err := b.quota.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}
	return nil
}

// Get issues a GET with query params and returns the full body and status.
// Transient failures (network errors, 5xx, 429) are retried with exponential
// backoff and ±25% jitter. Non-429 4xx responses are returned as-is.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, headers map[string]string) ([]byte, int, error) {
	rc, status, err := c.GetStream(ctx, rawURL, params, headers)
	if err != nil {
		return nil, status, err
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, status, err
	}
	return body, status, nil
}

// GetStream is Get without buffering; the caller owns the returned body.
func (c *Client) GetStream(ctx context.Context, rawURL string, params url.Values, headers map[string]string) (io.ReadCloser, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, 0, err
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var lastErr error
	tries := c.retries + 1
	for attempt := 0; attempt < tries; attempt++ {
		if err := c.acquire(ctx, u.Hostname()); err != nil {
			return nil, 0, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, 0, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp.Body, resp.StatusCode, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = errors.New(resp.Status + ": " + string(b))
			if resp.StatusCode == http.StatusTooManyRequests {
				lastErr = fmt.Errorf("%w: %s", ErrRateLimited, resp.Status)
			}
		default:
			// other 4xx: not retryable
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, resp.StatusCode, errors.New(resp.Status + ": " + string(b))
		}

		if attempt < tries-1 {
			select {
			case <-time.After(jitter(c.backoff * time.Duration(1<<attempt))):
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			}
		}
	}
	return nil, 0, lastErr
}

// jitter spreads d by ±25% so retry storms against the quota desynchronize.
func jitter(d time.Duration) time.Duration {
	f := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * f)
}
