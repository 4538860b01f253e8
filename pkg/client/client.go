// Package client provides the HTTP transport of the message feed: a GET
// client with retry, error budget gating and response caching, and the
// GET helper that turns every outcome into a (data, *Error, cancel) triple.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/message-feed-client/pkg/cache"
	"github.com/Sternrassler/message-feed-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for client operations.
var (
	feedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_requests_total",
		Help: "Total feed API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	feedRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feed_request_duration_seconds",
		Help:    "Feed API request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	feedErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_errors_total",
		Help: "Total feed API errors by class",
	}, []string{"class"})
)

// Client is the feed API client.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root every request path is resolved against.
	BaseURL string

	// Redis enables the response cache and the shared error budget.
	// Optional: without it responses are not cached and no budget is kept.
	Redis *redis.Client

	// User-Agent header sent with every request.
	UserAgent string

	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration

	// ErrorThreshold blocks requests when errors remaining < threshold.
	ErrorThreshold int

	// Retry configures transient failure handling.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:        baseURL,
		UserAgent:      userAgent,
		Timeout:        30 * time.Second,
		ErrorThreshold: ratelimit.ErrorThresholdCritical,
		Retry:          DefaultRetryConfig(),
	}
}

// New creates a new feed API client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.ErrorThreshold < 1 {
		return nil, fmt.Errorf("error_threshold must be >= 1 (got %d)", cfg.ErrorThreshold)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	defaults := DefaultRetryConfig()
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.Retry.InitialBackoff <= 0 {
		cfg.Retry.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.Retry.MaxBackoff <= 0 {
		cfg.Retry.MaxBackoff = defaults.MaxBackoff
	}
	if cfg.Retry.BackoffMultiplier < 1 {
		cfg.Retry.BackoffMultiplier = defaults.BackoffMultiplier
	}

	logger := log.With().Str("component", "feed-client").Logger()

	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: logger,
	}

	if cfg.Redis != nil {
		c.rateLimiter = ratelimit.NewTracker(cfg.Redis, logger, ratelimit.Thresholds{
			Critical: cfg.ErrorThreshold,
			Warning:  max(cfg.ErrorThreshold, ratelimit.ErrorThresholdWarning),
		})
		c.cache = cache.NewManager(cfg.Redis)
	}

	return c, nil
}

// Do performs an HTTP request with error budget gating, caching, and retry.
// Responses with 4xx status are returned to the caller as is; retryable
// failures that outlive the retry budget are returned as errors.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		feedRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Check error budget
	if c.rateLimiter != nil {
		allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			// Budget bookkeeping is best effort; a Redis outage must not stop reads.
			c.logger.Warn().Err(err).Msg("Error budget check failed")
		case !allowed:
			c.logger.Warn().
				Str("endpoint", endpoint).
				Msg("Request blocked by error budget")
			feedRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
			return nil, &Error{
				Code:       CodeRateLimited,
				Message:    "too many failed requests, try again later",
				ErrorClass: ErrorClassRateLimit,
				Err:        ErrRequestBlocked,
			}
		}
	}

	// Step 2: Check cache
	cacheKey := cache.Key{
		Path:  endpoint,
		Query: req.URL.Query(),
	}

	var cachedEntry *cache.Entry
	if c.cache != nil && req.Method == http.MethodGet {
		entry, err := c.cache.Get(ctx, cacheKey)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
		cachedEntry = entry
	}

	// Step 3: Make conditional request if cache hit
	if cachedEntry != nil && cache.ShouldMakeConditionalRequest(cachedEntry) {
		cache.AddConditionalHeaders(req, cachedEntry)
		cache.ConditionalRequestsSent.Inc()
		c.logger.Debug().
			Str("endpoint", endpoint).
			Str("etag", cachedEntry.ETag).
			Msg("Making conditional request")
	}

	// Step 4: Set headers
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	// Step 5: Execute with retry
	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing request")

	var resp *http.Response

	retryErr := retryWithBackoff(ctx, c.config.Retry, c.logger, func(class *ErrorClass) error {
		var reqErr error
		resp, reqErr = c.httpClient.Do(req)

		if reqErr != nil {
			resp = nil
			if ctx.Err() != nil {
				// Caller gave up; classified as canceled, not retried.
				return ctx.Err()
			}
			c.logger.Error().Err(reqErr).Str("endpoint", endpoint).Msg("HTTP request failed")
			*class = ErrorClassNetwork
			feedErrorsTotal.WithLabelValues(string(*class)).Inc()
			feedRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return reqErr
		}

		if c.rateLimiter != nil {
			if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update error budget from headers")
			}
		}

		if resp.StatusCode == http.StatusNotModified {
			return nil
		}

		if resp.StatusCode >= 400 {
			*class = classifyStatus(resp.StatusCode)
			feedErrorsTotal.WithLabelValues(string(*class)).Inc()
			feedRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(*class)).
				Msg("Request error")

			if shouldRetry(*class) {
				err := statusError(resp, "")
				resp.Body.Close()
				resp = nil
				return err
			}

			// Client errors are not retried; the caller reads the body.
			*class = ""
			return nil
		}

		feedRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
		return nil
	})

	if retryErr != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, retryErr
	}

	// Step 6: Handle 304 Not Modified
	if resp.StatusCode == http.StatusNotModified {
		resp.Body.Close()
		if cachedEntry == nil {
			return nil, &Error{
				Code:       CodeBadResponse,
				Message:    "304 Not Modified without cached entry",
				StatusCode: http.StatusNotModified,
				ErrorClass: ErrorClassServer,
			}
		}

		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified - using cache")
		feedRequestsTotal.WithLabelValues(endpoint, "304").Inc()
		cache.NotModifiedResponses.Inc()

		if expiresStr := resp.Header.Get("Expires"); expiresStr != "" {
			if newExpires, err := http.ParseTime(expiresStr); err == nil {
				if err := c.cache.UpdateTTL(ctx, cacheKey, newExpires); err != nil {
					c.logger.Warn().Err(err).Msg("Failed to update cache TTL")
				}
			}
		}

		return cache.EntryToResponse(cachedEntry, req), nil
	}

	// Step 7: Update cache on success
	if c.cache != nil && resp.StatusCode == http.StatusOK && req.Method == http.MethodGet {
		entry, err := cache.ResponseToEntry(resp)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if entry.TTL() > 0 {
			if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to cache response")
			} else {
				c.logger.Debug().
					Str("endpoint", endpoint).
					Dur("ttl", entry.TTL()).
					Msg("Cached response")
			}
		}
	}

	return resp, nil
}

// NewRequest builds a GET request for path relative to the base URL.
func (c *Client) NewRequest(ctx context.Context, path string, query url.Values) (*http.Request, error) {
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Cache returns the cache manager, nil when caching is disabled.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

// Logger returns the client's component logger.
func (c *Client) Logger() zerolog.Logger {
	return c.logger
}
