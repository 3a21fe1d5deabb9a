package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/ferrow/reqscope/internal/breaker"
	"github.com/ferrow/reqscope/internal/cache"
	"github.com/ferrow/reqscope/internal/metrics"
	"github.com/ferrow/reqscope/internal/ratelimit"
)

const (
	// rateLimitBackoffMultiplier slows retries after a rate-limit denial
	// harder than the regular exponential curve (3^n vs 2^n).
	rateLimitBackoffMultiplier = 3
)

// ErrRateLimited is returned when the admission window for a service is
// exhausted and the bounded wait did not free a slot.
var ErrRateLimited = errors.New("rate limit exceeded")

// Options wires the shared resilience components into a client. All state
// is passed explicitly; there are no package-level singletons, so tests
// can run multiple independent instances.
type Options struct {
	Cache     *cache.Store
	Limiter   *ratelimit.Limiter
	Breakers  *breaker.Group
	Transport Transport
	TTL       cache.TTLStrategy

	// PacerRates maps service name to requests-per-minute smoothing rate.
	PacerRates map[string]int

	MaxRetries       int
	BaseRetryDelay   time.Duration
	MaxBackoff       time.Duration
	CallTimeout      time.Duration
	MaxRateLimitWait time.Duration

	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Client is the call-with-protection primitive used by network-bound
// stages. Every call consults the cache, circuit breaker, and rate
// limiter, and retries transient failures with exponential backoff.
type Client struct {
	opts  Options
	pacer *Pacer

	calls     atomic.Int64
	cacheHits atomic.Int64
}

// New creates a resilient client
func New(opts Options) *Client {
	return &Client{
		opts:  opts,
		pacer: NewPacer(opts.Logger),
	}
}

// Stats returns cumulative call and cache-hit counts
func (c *Client) Stats() (calls, cacheHits int64) {
	return c.calls.Load(), c.cacheHits.Load()
}

// Call performs one protected request to an upstream service.
//
// Order of protections: cache, circuit breaker, rate limiter, pacer,
// bounded-timeout wire call. On success the response is cached with a TTL
// from the pluggable strategy. On failure the error is classified and
// transient classes are retried with exponential backoff plus jitter.
func (c *Client) Call(ctx context.Context, service, callerKey string, req Request) (*Response, error) {
	c.calls.Add(1)

	key := CacheKey(service, req)
	if body, ok := c.opts.Cache.Get(key); ok {
		c.cacheHits.Add(1)
		c.opts.Metrics.RecordCacheResult(service, true)
		return &Response{StatusCode: 200, Body: body, FromCache: true}, nil
	}
	c.opts.Metrics.RecordCacheResult(service, false)

	var lastErr error
	unknownRetries := 0
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt, lastErr, service); err != nil {
				return nil, err
			}
		}

		resp, err := c.attempt(ctx, service, callerKey, req)
		if err == nil {
			ttl := c.opts.TTL.TTLFor(service, len(resp.Body))
			if cacheErr := c.opts.Cache.Set(key, resp.Body, ttl); cacheErr != nil {
				c.opts.Logger.Warn("Failed to cache response",
					"service", service,
					"error", cacheErr)
			}
			return resp, nil
		}

		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			// Breaker short-circuit or context cancellation; not retryable.
			return nil, err
		}
		if !apiErr.Retryable() {
			return nil, err
		}
		if apiErr.Class == ClassUnknown {
			// Unknown failures get one conservative retry, then surface.
			unknownRetries++
			if unknownRetries > 1 {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("max retries exceeded for %s: %w", service, lastErr)
}

// attempt performs one protected wire call
func (c *Client) attempt(ctx context.Context, service, callerKey string, req Request) (*Response, error) {
	br := c.opts.Breakers.For(service)
	allowed, release := br.Allow()
	if !allowed {
		c.opts.Metrics.RecordBreakerRejection(service)
		return nil, fmt.Errorf("%s: %w", service, breaker.ErrCircuitOpen)
	}
	if release != nil {
		defer release()
	}

	if err := c.admit(ctx, service, callerKey); err != nil {
		return nil, err
	}

	rpm, ok := c.opts.PacerRates[service]
	if !ok || rpm <= 0 {
		rpm = 120
	}
	if err := c.pacer.Wait(ctx, service, rpm); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.opts.Transport.Do(callCtx, service, req)
	duration := time.Since(start)

	if err != nil {
		apiErr := ClassifyError(err)
		c.opts.Metrics.RecordUpstreamRequest(service, duration, false)
		if apiErr.CountsTowardBreaker() {
			br.RecordFailure()
		}
		c.opts.Logger.Warn("Upstream request failed",
			"service", service,
			"class", apiErr.Class.String(),
			"status", apiErr.StatusCode,
			"duration", duration)
		return nil, apiErr
	}

	br.RecordSuccess()
	c.opts.Metrics.RecordUpstreamRequest(service, duration, true)
	return resp, nil
}

// admit runs the sliding-window check, waiting out burst-cap denials up to
// the bounded max wait.
func (c *Client) admit(ctx context.Context, service, callerKey string) error {
	deadline := time.Now().Add(c.opts.MaxRateLimitWait)
	for {
		decision := c.opts.Limiter.TryAcquire(service, callerKey)
		switch decision.Outcome {
		case ratelimit.Allowed:
			c.opts.Metrics.RecordRateLimitDecision(service, "allowed")
			return nil
		case ratelimit.Rejected:
			c.opts.Metrics.RecordRateLimitDecision(service, "rejected")
			return &APIError{Class: ClassRateLimited, Message: ErrRateLimited.Error()}
		case ratelimit.Wait:
			c.opts.Metrics.RecordRateLimitDecision(service, "wait")
			if time.Now().Add(decision.RetryAfter).After(deadline) {
				return &APIError{
					Class:      ClassRateLimited,
					Message:    "burst cap exceeded and max wait exhausted",
					RetryAfter: decision.RetryAfter,
				}
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(decision.RetryAfter):
			}
		}
	}
}

// backoff sleeps before a retry attempt. Rate-limited failures honor the
// upstream retry-after hint when present and otherwise back off harder
// than the regular transient curve.
func (c *Client) backoff(ctx context.Context, attempt int, lastErr error, service string) error {
	delay := time.Duration(math.Pow(2, float64(attempt-1))) * c.opts.BaseRetryDelay

	var apiErr *APIError
	if errors.As(lastErr, &apiErr) && apiErr.Class == ClassRateLimited {
		if apiErr.RetryAfter > 0 {
			delay = apiErr.RetryAfter
		} else {
			delay = time.Duration(math.Pow(rateLimitBackoffMultiplier, float64(attempt))) * c.opts.BaseRetryDelay
		}
	}

	if delay > c.opts.MaxBackoff {
		delay = c.opts.MaxBackoff
	}
	jitter := time.Duration(float64(delay) * 0.1 * (2*float64(time.Now().UnixNano()%100)/100 - 1))
	delay += jitter

	c.opts.Logger.Warn("Retrying upstream request",
		"service", service,
		"attempt", attempt,
		"max_retries", c.opts.MaxRetries,
		"backoff", delay)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
