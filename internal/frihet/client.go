// Package frihet provides the HTTP client for the Frihet ERP REST API.
//
// # Client Architecture
//
// The Client wraps Go's standard net/http.Client and provides:
//
//   - Authentication: every request carries the X-API-Key header.
//   - Per-attempt deadline: each HTTP attempt runs under its own timeout
//     (30s by default) and is aborted through its context when it expires.
//   - 429 rate limiting: retried with exponential backoff, honouring the
//     Retry-After header, up to a bounded number of retries.
//   - Error normalization: every failure where the API spoke (or was expected
//     to) becomes an [*APIError].
//   - Optional rate limiter: proactive client-side rate limiting via
//     golang.org/x/time/rate.
//
// # Outcome Table
//
//	┌──────────────────────┬─────────────────────────────────────────────────┐
//	│ Status / Error       │ Result                                          │
//	├──────────────────────┼─────────────────────────────────────────────────┤
//	│ 2xx with JSON body   │ Success: the body, byte for byte                │
//	│ 204 No Content       │ Success: nil                                    │
//	│ 2xx, null/empty/bad  │ APIError{status, "invalid_response"}            │
//	│ 429, retries left    │ Sleep max(Retry-After, backoff·2^n), retry      │
//	│ 429, retries spent   │ APIError{429, "rate_limit_exceeded"}            │
//	│ other non-2xx        │ APIError{status, body.error or "http_<status>"} │
//	│ attempt deadline     │ APIError{408, "request_timeout"}                │
//	│ network error        │ wrapped transport error (not an APIError)       │
//	└──────────────────────┴─────────────────────────────────────────────────┘
//
// Only 429 is retried. Every other failure surfaces on first occurrence.
//
// # Thread Safety
//
// The Client is safe for concurrent use. After construction it holds only
// immutable configuration; each call owns its deadline and retry counter.
package frihet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/frihet-io/frihet-mcp/internal/config"
	"github.com/frihet-io/frihet-mcp/internal/observability"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
	defaultBackoff      = time.Second
	defaultMaxRetryWait = time.Minute
	defaultUserAgent    = "frihet-mcp"

	// backoff·2^n saturates at maxDelay instead of overflowing.
	maxBackoffShift = 62
	maxDelay        = time.Duration(math.MaxInt64)

	// RequestIDHeader correlates all attempts of one logical call.
	RequestIDHeader = "X-Request-Id"

	tracerName = "github.com/frihet-io/frihet-mcp/internal/frihet"
)

// Client issues authenticated calls against the Frihet REST API.
type Client struct {
	baseURL   string
	auth      Authenticator
	http      *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
	tracer    trace.Tracer
	userAgent string

	// Retry configuration
	timeout      time.Duration
	maxRetries   int
	backoff      time.Duration
	maxRetryWait time.Duration
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithBaseURL overrides the production endpoint. Empty values are ignored.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithTimeout sets the per-attempt deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRetries sets how many times a 429 response is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoff sets the base delay of the exponential 429 backoff.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithMaxRetryWait caps a single 429 wait, including server-supplied
// Retry-After values. Zero disables the cap.
func WithMaxRetryWait(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.maxRetryWait = d
		}
	}
}

// WithRateLimiter sets a client-side rate limiter.
func WithRateLimiter(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), int(math.Max(1, rps)))
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Its Timeout should be
// zero or larger than the per-attempt deadline.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTracer sets the OpenTelemetry tracer. Defaults to the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// NewClient creates a Frihet API client. It fails with ErrMissingAPIKey when
// apiKey is empty.
func NewClient(apiKey string, logger *slog.Logger, opts ...Option) (*Client, error) {
	auth, err := NewAPIKeyAuthenticator(apiKey)
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:   config.DefaultBaseURL,
		auth:      auth,
		logger:    logger.With("component", "frihet-client"),
		tracer:    otel.Tracer(tracerName),
		userAgent: defaultUserAgent,

		// Retry defaults
		timeout:      defaultTimeout,
		maxRetries:   defaultMaxRetries,
		backoff:      defaultBackoff,
		maxRetryWait: defaultMaxRetryWait,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		c.http = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return c, nil
}

// NewClientFromConfig creates a client from the frihet section of the config.
func NewClientFromConfig(cfg config.FrihetConfig, logger *slog.Logger, opts ...Option) (*Client, error) {
	base := []Option{
		WithBaseURL(cfg.BaseURL),
		WithTimeout(cfg.Timeout.Duration),
		WithMaxRetries(cfg.MaxRetriesValue()),
		WithBackoff(cfg.RetryBackoff.Duration),
		WithMaxRetryWait(cfg.MaxRetryWaitValue()),
		WithRateLimiter(cfg.RateLimitRPS),
	}
	return NewClient(cfg.APIKey, logger, append(base, opts...)...)
}

// WithAPIKey returns a copy of the client that authenticates with a
// different key. The copy shares the connection pool, limiter and tracer.
func (c *Client) WithAPIKey(apiKey string) (*Client, error) {
	auth, err := NewAPIKeyAuthenticator(apiKey)
	if err != nil {
		return nil, err
	}
	clone := *c
	clone.auth = auth
	return &clone, nil
}

// BaseURL returns the API endpoint the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Timeout returns the per-attempt deadline.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Do issues one logical call: method and path (already escaped by the
// caller), an optional JSON body (nil sends no body) and optional query
// parameters. It returns the raw JSON body, or nil for 204 No Content.
func (c *Client) Do(ctx context.Context, method, path string, body any, query Query) (json.RawMessage, error) {
	raw, _, err := c.do(ctx, method, path, body, query)
	return raw, err
}

// DoPage is Do for endpoints returning a Page. A success body without an
// array-typed "data" member fails with APIError{200, "invalid_response"}.
func (c *Client) DoPage(ctx context.Context, method, path string, query Query) (*Page, error) {
	raw, _, err := c.do(ctx, method, path, nil, query)
	if err != nil {
		return nil, err
	}
	page, ok := decodePage(raw)
	if !ok {
		return nil, newAPIError(http.StatusOK, CodeInvalidResponse, "API returned invalid paginated response")
	}
	return page, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, query Query) (json.RawMessage, int, error) {
	reqID := uuid.NewString()
	ctx, span := c.tracer.Start(
		ctx,
		"frihet.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("frihet.path", path),
			attribute.String("frihet.resource", resourceOf(path)),
			attribute.String("frihet.request_id", reqID),
		),
	)
	defer span.End()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "marshal request body failed")
			return nil, 0, fmt.Errorf("marshaling request body: %w", err)
		}
	}

	call := &call{
		method:  method,
		path:    path,
		url:     c.buildURL(path, query),
		payload: payload,
		reqID:   reqID,
	}

	raw, status, err := c.send(ctx, call, 0)
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if err != nil {
		code := "transport"
		if apiErr, ok := AsAPIError(err); ok {
			code = apiErr.Code
		}
		observability.Metrics.APIErrorsTotal.WithLabelValues(method, code).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		return nil, status, err
	}
	span.SetStatus(codes.Ok, "ok")
	return raw, status, nil
}

// call is the immutable description of one logical request, shared by all
// of its attempts.
type call struct {
	method  string
	path    string
	url     string
	payload []byte
	reqID   string
}

// response is a fully read HTTP response.
type response struct {
	status     int
	statusText string
	header     http.Header
	body       []byte
}

// send performs attempt number retryCount of a call and decides what its
// outcome means. On a 429 with retries left it waits and calls itself with
// retryCount+1; each attempt carries its own counter and deadline.
func (c *Client) send(ctx context.Context, call *call, retryCount int) (json.RawMessage, int, error) {
	// Apply rate limiting if configured.
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	resp, err := c.attempt(ctx, call)
	if err != nil {
		return nil, 0, err
	}

	switch {
	case resp.status == http.StatusTooManyRequests:
		if retryCount >= c.maxRetries {
			c.logger.Warn("rate limit retries exhausted",
				"method", call.method,
				"path", call.path,
				"retries", retryCount,
				"request_id", call.reqID,
			)
			return nil, resp.status, newAPIError(http.StatusTooManyRequests, CodeRateLimitExceeded,
				"Rate limit exceeded after multiple retries. Please try again later.")
		}

		delay := c.retryDelay(resp.header.Get("Retry-After"), retryCount)
		c.logger.Warn("received 429, backing off",
			"method", call.method,
			"path", call.path,
			"retry", retryCount+1,
			"delay", delay,
			"request_id", call.reqID,
		)
		observability.Metrics.APIRetriesTotal.WithLabelValues(resourceOf(call.path)).Inc()
		trace.SpanFromContext(ctx).AddEvent("frihet.retry", trace.WithAttributes(
			attribute.Int("frihet.retry", retryCount+1),
			attribute.String("frihet.delay", delay.String()),
		))

		if err := sleep(ctx, delay); err != nil {
			return nil, resp.status, fmt.Errorf("waiting to retry %s %s: %w", call.method, call.path, err)
		}
		return c.send(ctx, call, retryCount+1)

	case resp.status < 200 || resp.status >= 300:
		apiErr := errorFromResponse(resp.status, resp.statusText, resp.body)
		c.logger.Debug("API returned error",
			"method", call.method,
			"path", call.path,
			"status", resp.status,
			"code", apiErr.Code,
			"request_id", call.reqID,
		)
		return nil, resp.status, apiErr

	case resp.status == http.StatusNoContent:
		return nil, resp.status, nil
	}

	trimmed := bytes.TrimSpace(resp.body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || !json.Valid(trimmed) {
		c.logger.Warn("API returned unusable success body",
			"method", call.method,
			"path", call.path,
			"status", resp.status,
			"body", truncateBody(resp.body),
			"request_id", call.reqID,
		)
		return nil, resp.status, newAPIError(resp.status, CodeInvalidResponse, "API returned empty response")
	}
	return json.RawMessage(trimmed), resp.status, nil
}

// attempt sends a single HTTP request under the per-attempt deadline and
// reads the whole body before the deadline is released.
func (c *Client) attempt(ctx context.Context, call *call) (*response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if call.payload != nil {
		body = bytes.NewReader(call.payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, call.method, call.url, body)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", call.method, err)
	}
	c.auth.Authenticate(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(RequestIDHeader, call.reqID)

	resource := resourceOf(call.path)
	requestStart := time.Now()
	resp, err := c.http.Do(req)
	observability.Metrics.APIRequestsTotal.WithLabelValues(call.method, resource).Inc()
	observability.Metrics.APILatency.WithLabelValues(call.method, resource).Observe(time.Since(requestStart).Seconds())
	if err != nil {
		if c.deadlineHit(ctx, attemptCtx) {
			return nil, c.timeoutError(call)
		}
		c.logger.Warn("request failed",
			"method", call.method,
			"path", call.path,
			"error", err,
			"request_id", call.reqID,
		)
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	data, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		if c.deadlineHit(ctx, attemptCtx) {
			return nil, c.timeoutError(call)
		}
		return nil, fmt.Errorf("reading response body: %w", readErr)
	}

	return &response{
		status:     resp.StatusCode,
		statusText: statusText(resp),
		header:     resp.Header,
		body:       data,
	}, nil
}

// deadlineHit reports whether the attempt failed because its own deadline
// expired, as opposed to the caller's context ending.
func (c *Client) deadlineHit(parent, attemptCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
}

func (c *Client) timeoutError(call *call) *APIError {
	c.logger.Warn("request timed out",
		"method", call.method,
		"path", call.path,
		"timeout", c.timeout,
		"request_id", call.reqID,
	)
	return newAPIError(http.StatusRequestTimeout, CodeRequestTimeout,
		fmt.Sprintf("Request timed out after %g seconds", c.timeout.Seconds()))
}

func (c *Client) buildURL(path string, query Query) string {
	u := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		u += sep + encoded
	}
	return u
}

// retryDelay is the wait before retry number retryCount+1: the larger of the
// server's Retry-After and backoff·2^retryCount, capped at maxRetryWait.
func (c *Client) retryDelay(retryAfter string, retryCount int) time.Duration {
	delay := maxDelay
	if retryCount >= 0 && retryCount < maxBackoffShift && c.backoff <= maxDelay>>retryCount {
		delay = c.backoff << retryCount
	}
	if d, ok := parseRetryAfter(retryAfter, time.Now()); ok && d > delay {
		delay = d
	}
	if c.maxRetryWait > 0 && delay > c.maxRetryWait {
		delay = c.maxRetryWait
	}
	return delay
}

// parseRetryAfter parses a Retry-After header given either as delay-seconds
// or as an HTTP date. ok is false for an empty or unparseable value.
func parseRetryAfter(header string, now time.Time) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0, false
		}
		if int64(seconds) > int64(maxDelay/time.Second) {
			return maxDelay, true
		}
		return time.Duration(seconds) * time.Second, true
	}
	if t, err := http.ParseTime(header); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// sleep waits for d or until ctx is done, without holding a goroutine
// hostage past cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func statusText(resp *http.Response) string {
	if text := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); text != "" && text != resp.Status {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// truncateBody returns the first 500 bytes of a response body for logging.
func truncateBody(body []byte) string {
	if len(body) > 500 {
		return string(body[:500]) + "..."
	}
	return string(body)
}
