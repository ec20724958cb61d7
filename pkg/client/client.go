// Package client provides the HTTP client for the market-data API with
// request rate limiting, quota tracking, retries, a circuit breaker and an
// optional Redis page cache.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/coinmetrics-client/pkg/cache"
	"github.com/Sternrassler/coinmetrics-client/pkg/logging"
	"github.com/Sternrassler/coinmetrics-client/pkg/pagination"
	"github.com/Sternrassler/coinmetrics-client/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Prometheus metrics for API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cm_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

const (
	// DefaultBaseURL is the API root for keyed access.
	DefaultBaseURL = "https://api.coinmetrics.io/v4"

	// CommunityBaseURL is the API root used without an API key.
	CommunityBaseURL = "https://community-api.coinmetrics.io/v4"

	defaultUserAgent = "coinmetrics-client-go/1.0"

	// RequestIDHeader carries a fresh identifier on every attempt.
	RequestIDHeader = "X-Request-ID"
)

// Client talks to the market-data API. It is safe for concurrent use; a
// parallel collection shares one Client across all its workers so the rate
// limiter and quota tracker see every request.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	tracker    *ratelimit.Tracker
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, without a trailing slash.
	BaseURL string

	// APIKey is sent as the api_key query parameter when set.
	APIKey string

	// UserAgent header sent with every request.
	UserAgent string

	// Redis enables the page cache and shares quota state between
	// processes. Optional.
	Redis *redis.Client

	// CacheTTL is the default lifetime of cached pages. Zero disables the
	// page cache even when Redis is set.
	CacheTTL time.Duration

	// Rate limiting
	RateLimit float64 // Requests per second
	RateBurst int

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	Retry RetryConfig

	// Circuit breaker: trip after BreakerFailures consecutive server or
	// network failures and stay open for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	// HTTPClient overrides the HTTP client (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration. Without an API key
// the community endpoint and its lower request rate are used.
func DefaultConfig(apiKey string) Config {
	cfg := Config{
		BaseURL:         DefaultBaseURL,
		APIKey:          apiKey,
		UserAgent:       defaultUserAgent,
		RateLimit:       10,
		RateBurst:       10,
		Timeout:         60 * time.Second,
		Retry:           DefaultRetryConfig(),
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
	if apiKey == "" {
		cfg.BaseURL = CommunityBaseURL
		cfg.RateLimit = 10.0 / 6.0
		cfg.RateBurst = 10
	}
	return cfg
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.RateLimit <= 0 {
		return nil, fmt.Errorf("rate_limit must be > 0 (got %v)", cfg.RateLimit)
	}
	if cfg.RateBurst < 1 {
		return nil, fmt.Errorf("rate_burst must be >= 1 (got %d)", cfg.RateBurst)
	}
	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry max_attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	logger := logging.NewLogger("cm-client")

	var store ratelimit.Store = ratelimit.NewMemoryStore()
	var pageCache *cache.Manager
	if cfg.Redis != nil {
		store = ratelimit.NewRedisStore(cfg.Redis)
		if cfg.CacheTTL > 0 {
			pageCache = cache.NewManager(cfg.Redis)
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		breaker:    newBreaker(cfg, logger),
		tracker:    ratelimit.NewTracker(store, logger),
		cache:      pageCache,
		config:     cfg,
		logger:     logger,
	}, nil
}

func newBreaker(cfg Config, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "cm-api",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Client errors say nothing about the health of the API.
		IsSuccessful: func(err error) bool {
			return err == nil || classify(err) == ErrorClassClient
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// SendRequest performs a GET of rawURL with rate limiting, quota tracking,
// circuit breaking and retries. Network errors, 429 and 5xx responses are
// retried; other 4xx responses fail immediately with an *APIError.
func (c *Client) SendRequest(ctx context.Context, rawURL string) (*Response, error) {
	endpoint := endpointPath(rawURL)
	label := pagination.MetricLabel(endpoint)

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(label).Observe(time.Since(startTime).Seconds())
	}()

	var resp *Response
	err := retryWithBackoff(ctx, c.logger, c.config.Retry, func() error {
		if err := c.tracker.Wait(ctx); err != nil {
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		out, err := c.breaker.Execute(func() (interface{}, error) {
			return c.do(ctx, rawURL, endpoint, label)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			requestsTotal.WithLabelValues(label, "circuit_open").Inc()
			return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		if err != nil {
			return err
		}
		resp = out.(*Response)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// do runs one HTTP attempt. endpoint is the request path for logs and
// errors, label its bounded form for metrics.
func (c *Client) do(ctx context.Context, rawURL, endpoint, label string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)

	c.logger.Debug().Str("endpoint", endpoint).Str("request_id", requestID).Msg("Executing API request")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(label, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, fmt.Errorf("get %s: %w", endpoint, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(label, "network_error").Inc()
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}

	if err := c.tracker.UpdateFromHeaders(ctx, httpResp.Header); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
	}

	requestsTotal.WithLabelValues(label, strconv.Itoa(httpResp.StatusCode)).Inc()
	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}

	if httpResp.StatusCode >= 400 {
		apiErr := newAPIError(resp)
		errorsTotal.WithLabelValues(string(apiErr.ErrorClass)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(apiErr.ErrorClass)).
			Str("error_type", apiErr.Type).
			Msg("API request error")
		return nil, apiErr
	}
	return resp, nil
}

// errorBody is the error object the API returns on failures.
type errorBody struct {
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func newAPIError(resp *Response) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		ErrorClass: classifyStatus(resp.StatusCode),
		Message:    http.StatusText(resp.StatusCode),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
	var eb errorBody
	if json.Unmarshal(resp.Body, &eb) == nil && eb.Error != nil {
		apiErr.Type = eb.Error.Type
		apiErr.Message = eb.Error.Message
	}
	return apiErr
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// endpointPath returns the URL path below the API version, never the query
// string.
func endpointPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid"
	}
	p := strings.Trim(u.Path, "/")
	if i := strings.Index(p, "v4/"); i >= 0 {
		p = p[i+len("v4/"):]
	}
	return p
}

// Tracker returns the quota tracker.
func (c *Client) Tracker() *ratelimit.Tracker {
	return c.tracker
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
