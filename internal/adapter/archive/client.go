package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/archive-fetch/internal/domain"
	"github.com/vertextoedge/archive-fetch/internal/domain/service"
	"github.com/vertextoedge/archive-fetch/internal/util/ratelimiter"
)

// Archive politeness defaults
const (
	DefaultBaseURL              = "https://archive.org"
	DefaultUserAgent            = "archive-fetch/0.1 (+https://github.com/vertextoedge/archive-fetch)"
	DefaultMinRequestDelay      = 250 * time.Millisecond
	DefaultRetryAfter           = 60 * time.Second
	DefaultMaxRequestsPerMinute = 30
	DefaultBaseTimeout          = 60 * time.Second
	DefaultMaxTimeout           = 600 * time.Second
	DefaultMetadataAttempts     = 5

	// Assumed worst-case transfer rate when sizing request timeouts.
	minExpectedThroughput = 100 * 1024
	timeoutSlack          = 30 * time.Second
)

// Config contains archive client configuration
type Config struct {
	BaseURL              string
	UserAgent            string
	MinRequestDelay      time.Duration
	DefaultRetryAfter    time.Duration
	MaxRequestsPerMinute float64
	BaseTimeout          time.Duration
	MaxTimeout           time.Duration
	MaxIdleConnsPerHost  int

	// MetadataRetry drives manifest fetches. Nil uses five attempts.
	MetadataRetry *service.RetryPolicy
}

// DefaultConfig returns default client configuration
func DefaultConfig() *Config {
	return &Config{
		BaseURL:              DefaultBaseURL,
		UserAgent:            DefaultUserAgent,
		MinRequestDelay:      DefaultMinRequestDelay,
		DefaultRetryAfter:    DefaultRetryAfter,
		MaxRequestsPerMinute: DefaultMaxRequestsPerMinute,
		BaseTimeout:          DefaultBaseTimeout,
		MaxTimeout:           DefaultMaxTimeout,
		MaxIdleConnsPerHost:  10,
	}
}

// RequestOptions tunes a single request
type RequestOptions struct {
	Accept string
}

// Client is a rate-limited HTTP client for the archive. Every request from
// every goroutine passes through one limiter, so send times are always at
// least MinRequestDelay apart.
type Client struct {
	cfg           *Config
	httpClient    *http.Client
	limiter       *ratelimiter.Limiter
	metadataRetry *service.RetryPolicy
	logger        *zap.Logger
}

// NewClient creates a new archive client
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MinRequestDelay < 0 {
		cfg.MinRequestDelay = 0
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = def.DefaultRetryAfter
	}
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = def.MaxRequestsPerMinute
	}
	if cfg.BaseTimeout <= 0 {
		cfg.BaseTimeout = def.BaseTimeout
	}
	if cfg.MaxTimeout < cfg.BaseTimeout {
		cfg.MaxTimeout = max(def.MaxTimeout, cfg.BaseTimeout)
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	metadataRetry := cfg.MetadataRetry
	if metadataRetry == nil {
		metadataRetry = service.NewRetryPolicy(DefaultMetadataAttempts, 30*time.Second, 600*time.Second)
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,

		// Archive payloads are already compressed more often than not
		DisableCompression: true,

		// Response header timeout (not total download timeout)
		ResponseHeaderTimeout: cfg.BaseTimeout,
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   0, // Per-request deadlines come from Timeout(size)
		},
		limiter:       ratelimiter.New(cfg.MinRequestDelay),
		metadataRetry: metadataRetry,
		logger:        logger,
	}
}

// BaseURL returns the archive base URL
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Get performs a paced GET request. 2xx responses are returned to the caller,
// who must close the body. 429 and 503 become rate-limit errors carrying the
// server's Retry-After, other 4xx/5xx become network errors with the status.
func (c *Client) Get(ctx context.Context, url string, opts RequestOptions) (*http.Response, error) {
	op := "GET " + url

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewInvalidInputError(op, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("X-Accept-Reduced-Priority", "1")
	if opts.Accept != "" {
		req.Header.Set("Accept", opts.Accept)
	} else {
		req.Header.Set("Accept", "*/*")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, domain.NewNetworkError(op, 0, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), c.cfg.DefaultRetryAfter, time.Now())
		drainAndClose(resp.Body)
		c.logger.Warn("archive rate limited request",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
			zap.Duration("retry_after", retryAfter))
		return nil, domain.NewRateLimitedError(op, resp.StatusCode, retryAfter)
	case resp.StatusCode >= 400:
		drainAndClose(resp.Body)
		return nil, domain.NewNetworkError(op, resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}

	return resp, nil
}

// Timeout returns the deadline for transferring size bytes: enough time at
// 100 KiB/s plus slack, clamped to [BaseTimeout, MaxTimeout].
// Unknown sizes get BaseTimeout.
func (c *Client) Timeout(size int64) time.Duration {
	if size <= 0 {
		return c.cfg.BaseTimeout
	}
	d := time.Duration(size/minExpectedThroughput)*time.Second + timeoutSlack
	return max(c.cfg.BaseTimeout, min(d, c.cfg.MaxTimeout))
}

// RequestsPerMinute returns the client's lifetime request rate
func (c *Client) RequestsPerMinute() float64 {
	return c.limiter.RequestsPerMinute()
}

// IsRateHealthy reports whether the request rate is under the configured
// ceiling. It is advisory: the client never refuses a request because of it.
func (c *Client) IsRateHealthy() bool {
	return c.limiter.RequestsPerMinute() < c.cfg.MaxRequestsPerMinute
}

// Stats returns request counters for logging
func (c *Client) Stats() ratelimiter.Stats {
	return c.limiter.Stats()
}

// parseRetryAfter reads a Retry-After value in seconds or HTTP-date form.
func parseRetryAfter(value string, fallback time.Duration, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.CopyN(io.Discard, body, 64*1024)
	body.Close()
}
