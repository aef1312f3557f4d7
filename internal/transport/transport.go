// Package transport wraps raw HTTP calls with rate limiting, outcome
// classification, and backoff-driven retries.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/issuedata/harvester/internal/metrics"
)

// ErrAttemptsExhausted is returned once the retry budget is spent. Callers
// decide whether to skip the item or abort.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Admitter gates each outbound attempt. Satisfied by ratelimit.Limiter.
type Admitter interface {
	Acquire(ctx context.Context) error
}

// pauser abstracts how the transport sleeps between attempts so tests can
// observe waits instead of serving them.
type pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauser struct{}

func (timerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Client executes JSON requests against the upstream API. It is
// operation-agnostic: search pages, issue detail, comments, and project
// metadata all flow through the same Execute path.
type Client struct {
	httpClient *http.Client
	limiter    Admitter
	policy     RetryPolicy
	pause      pauser
	logger     *zap.Logger
}

// New constructs a Client that owns the supplied http.Client for its
// lifetime. Close releases idle connections when the run finishes.
func New(httpClient *http.Client, limiter Admitter, policy RetryPolicy, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: httpClient,
		limiter:    limiter,
		policy:     policy,
		pause:      timerPauser{},
		logger:     logger,
	}
}

// Close releases the client's pooled connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// GetJSON fetches rawURL with the given query parameters and returns the
// response body. A nil byte slice with a nil error means the server answered
// with a non-retryable client error or a non-JSON payload; absence of data,
// not an error, is the give-up signal for that class. A non-nil error means
// the retry budget was exhausted or the context ended.
func (c *Client) GetJSON(ctx context.Context, operation, rawURL string, query url.Values) ([]byte, error) {
	target := rawURL
	if len(query) > 0 {
		target = rawURL + "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("admission for %s: %w", operation, err)
		}

		body, class, retryIn, err := c.attempt(ctx, operation, target)
		switch class {
		case ClassSuccess:
			return body, nil
		case ClassClientFatal:
			return nil, nil
		case ClassThrottled:
			c.logger.Warn("throttled by upstream, honoring wait hint",
				zap.String("operation", operation),
				zap.Duration("retry_after", retryIn),
				zap.Int("attempt", attempt),
			)
			metrics.ObserveRetry(operation, string(ClassThrottled))
			lastErr = fmt.Errorf("throttled (attempt %d)", attempt)
			c.pause.Pause(ctx, retryIn)
		case ClassTransient:
			lastErr = err
			if c.policy.Exhausted(attempt) {
				c.logger.Error("retry attempts exhausted",
					zap.String("operation", operation),
					zap.String("url", rawURL),
					zap.Int("attempts", attempt),
					zap.Error(lastErr),
				)
				return nil, fmt.Errorf("%s: %w: %w", operation, ErrAttemptsExhausted, lastErr)
			}
			backoff := c.policy.Backoff(attempt)
			c.logger.Warn("transient failure, backing off",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			metrics.ObserveRetry(operation, string(ClassTransient))
			c.pause.Pause(ctx, backoff)
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s interrupted: %w", operation, ctx.Err())
		}
	}
}

// attempt performs a single HTTP round trip and classifies its outcome.
func (c *Client) attempt(ctx context.Context, operation, target string) ([]byte, Class, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, ClassClientFatal, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection resets, timeouts, DNS failures: all transient.
		metrics.ObserveRequest(operation, 0, time.Since(start))
		return nil, ClassTransient, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	metrics.ObserveRequest(operation, resp.StatusCode, time.Since(start))

	switch class := Classify(resp.StatusCode); class {
	case ClassThrottled:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ClassThrottled, RetryAfter(resp.Header), nil
	case ClassTransient:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ClassTransient, 0, fmt.Errorf("server error: %d", resp.StatusCode)
	case ClassClientFatal:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Error("client error, not retrying",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", detail),
		)
		return nil, ClassClientFatal, 0, nil
	default:
		contentType := resp.Header.Get("Content-Type")
		if !strings.Contains(contentType, "application/json") {
			c.logger.Warn("non-JSON response received",
				zap.String("operation", operation),
				zap.String("content_type", contentType),
			)
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, ClassSuccess, 0, nil
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, ClassTransient, 0, fmt.Errorf("read body: %w", err)
		}
		return body, ClassSuccess, 0, nil
	}
}
