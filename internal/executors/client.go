package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rendis/nodeflow/pkg/schema"
)

// HTTPConfig configures outbound calls made by executors.
type HTTPConfig struct {
	MaxResponseBody int64
	Timeout         time.Duration
	// RatePerHost caps requests per second to a single destination host.
	RatePerHost float64
	Burst       int
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
	defaultRatePerHost     = 5
	defaultBurst           = 10
)

// Client performs outbound HTTP for executors. Calls are rate limited and
// guarded by a circuit breaker per destination host.
type Client struct {
	http     *http.Client
	breakers *Breakers
	maxBody  int64
	limit    rate.Limit
	burst    int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a Client. A nil breakers set gets the default config.
func NewClient(cfg HTTPConfig, breakers *Breakers) *Client {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.RatePerHost <= 0 {
		cfg.RatePerHost = defaultRatePerHost
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if breakers == nil {
		breakers = NewBreakers(DefaultBreakerConfig())
	}
	return &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		breakers: breakers,
		maxBody:  cfg.MaxResponseBody,
		limit:    rate.Limit(cfg.RatePerHost),
		burst:    cfg.Burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

type response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
}

// Do sends req and reads the whole body. It does not judge the status code;
// see checkStatus.
func (c *Client) Do(req *http.Request) (*response, error) {
	ctx := req.Context()
	host := req.URL.Host

	if err := c.limiter(host).Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeTimeout, "rate limit wait for %s: %s", host, err.Error()).WithCause(err)
	}
	if err := c.breakers.Allow(host); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breakers.Failure(host)
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "%s %s: %s", req.Method, redactURL(req), transportMessage(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		c.breakers.Failure(host)
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "read response from %s: %s", host, err.Error()).WithCause(err)
	}

	// The host answered, so the circuit outcome is decided by the status
	// even when the body is rejected below.
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		c.breakers.Failure(host)
	} else {
		c.breakers.Success(host)
	}

	if int64(len(body)) > c.maxBody {
		return nil, schema.NewErrorf(schema.ErrCodeNonRetryable, "response from %s exceeds %d bytes", host, c.maxBody)
	}

	return &response{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// PostJSON marshals payload and posts it to url, failing on non-2xx.
func (c *Client) PostJSON(ctx context.Context, url string, payload any) (*response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNonRetryable, "encode request body: %s", err.Error()).WithCause(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNonRetryable, "build request: %s", err.Error()).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(c.limit, c.burst)
		c.limiters[host] = l
	}
	return l
}

// checkStatus classifies non-2xx responses: 5xx and 429 are transient and
// retried; every other 4xx will fail the same way again.
func checkStatus(r *response) error {
	if r.Status >= 200 && r.Status < 300 {
		return nil
	}
	details := map[string]any{"status": r.Status, "body": snippet(r.Body, 512)}
	if r.Status >= 500 || r.Status == http.StatusTooManyRequests {
		return schema.NewErrorf(schema.ErrCodeExecution, "request failed with status %d %s", r.Status, r.StatusText).
			WithDetails(details)
	}
	return schema.NewErrorf(schema.ErrCodeNonRetryable, "request rejected with status %d %s", r.Status, r.StatusText).
		WithDetails(details)
}

func snippet(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// transportMessage strips the request URL from transport errors.
func transportMessage(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err.Error()
	}
	return err.Error()
}

// redactURL drops the path, which for bot and webhook URLs carries the
// secret token.
func redactURL(req *http.Request) string {
	return fmt.Sprintf("%s://%s", req.URL.Scheme, req.URL.Host)
}
