// Package ratelimit implements fixed-window request limiting over a shared
// counting store.
//
// Limiting is best effort: the current count is read before it is incremented,
// so two concurrent requests can both observe the last free slot and both be
// allowed. Counters themselves never lose increments.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/cache"
	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/metrics"
	"github.com/rs/zerolog"
)

// Algorithm selects the window strategy.
type Algorithm string

const (
	// AlgorithmMinute uses a single rolling key per client reset by its TTL.
	AlgorithmMinute Algorithm = "minute"
	// AlgorithmHourly uses one key per client per wall-clock hour.
	AlgorithmHourly Algorithm = "hourly"
)

// Policy decides the outcome when the counting store is unavailable.
type Policy string

const (
	PolicyFailOpen   Policy = "open"
	PolicyFailClosed Policy = "closed"
)

const hourSeconds = 3600

// Limiter counts requests per client identifier.
type Limiter struct {
	counter       cache.Counter
	windowMinutes int
	policy        Policy
	now           func() time.Time
	logger        zerolog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindowMinutes sets the per-minute algorithm's window length.
func WithWindowMinutes(minutes int) Option {
	return func(l *Limiter) {
		if minutes > 0 {
			l.windowMinutes = minutes
		}
	}
}

// WithPolicy sets the failure policy.
func WithPolicy(policy Policy) Option {
	return func(l *Limiter) {
		l.policy = policy
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger.With().Str("component", "ratelimit").Logger()
	}
}

// New creates a Limiter over counter. The default window is one minute and
// the default policy is fail-open.
func New(counter cache.Counter, opts ...Option) *Limiter {
	l := &Limiter{
		counter:       counter,
		windowMinutes: 1,
		policy:        PolicyFailOpen,
		now:           time.Now,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AlgorithmMinute, AlgorithmHourly:
		return Algorithm(s), nil
	}
	return "", fmt.Errorf("unknown rate limit algorithm %q", s)
}

// ParsePolicy validates a failure policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyFailOpen, PolicyFailClosed:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown rate limit failure policy %q", s)
}

// Window returns the per-minute algorithm's window length.
func (l *Limiter) Window() time.Duration {
	return time.Duration(l.windowMinutes) * time.Minute
}

// Check applies algorithm to clientID. A nil or non-positive limit means
// unlimited and leaves the counter untouched.
func (l *Limiter) Check(ctx context.Context, algorithm Algorithm, clientID string, limit *int) domain.RateLimitResult {
	if algorithm == AlgorithmHourly {
		return l.Hourly(ctx, clientID, limit)
	}
	return l.PerMinute(ctx, clientID, limit)
}

// Hourly counts requests in the wall-clock hour bucket containing now.
func (l *Limiter) Hourly(ctx context.Context, clientID string, limit *int) domain.RateLimitResult {
	if limit == nil || *limit <= 0 {
		metrics.RecordRateLimit(string(AlgorithmHourly), "unlimited")
		return unlimited()
	}

	now := l.now()
	bucket := now.Unix() / hourSeconds * hourSeconds
	key := fmt.Sprintf("ratelimit:%s:%d", clientID, bucket)
	resetAt := int(bucket + hourSeconds - now.Unix())

	count, err := l.currentCount(ctx, key)
	if err != nil {
		return l.degraded(AlgorithmHourly, clientID, *limit, resetAt, err)
	}

	allowed := count < int64(*limit)

	if _, err := l.counter.Increment(ctx, key); err != nil {
		l.logger.Warn().Err(err).Str("client", clientID).Msg("failed to increment hourly counter")
	} else if err := l.counter.Expire(ctx, key, time.Hour); err != nil {
		l.logger.Warn().Err(err).Str("client", clientID).Msg("failed to set hourly counter expiry")
	}

	return l.decide(AlgorithmHourly, allowed, *limit, count, resetAt)
}

// PerMinute counts requests in a window that starts with the client's first
// request and ends when its counter expires.
func (l *Limiter) PerMinute(ctx context.Context, clientID string, limit *int) domain.RateLimitResult {
	windowSeconds := l.windowMinutes * 60
	if limit == nil || *limit <= 0 {
		metrics.RecordRateLimit(string(AlgorithmMinute), "unlimited")
		return unlimited()
	}

	key := fmt.Sprintf("ratelimit:%s:minute", clientID)
	window := l.Window()

	count, err := l.currentCount(ctx, key)
	if err != nil {
		return l.degraded(AlgorithmMinute, clientID, *limit, windowSeconds, err)
	}

	allowed := count < int64(*limit)

	if err := l.incrementWindow(ctx, key, count, window); err != nil {
		l.logger.Warn().Err(err).Str("client", clientID).Msg("failed to increment minute counter")
	}

	return l.decide(AlgorithmMinute, allowed, *limit, count, l.resetSeconds(ctx, key, windowSeconds))
}

// incrementWindow starts the window on the first request and increments it
// afterwards. A counter recreated by Increment after expiry gets its TTL back.
func (l *Limiter) incrementWindow(ctx context.Context, key string, count int64, window time.Duration) error {
	if count == 0 {
		added, err := l.counter.Add(ctx, key, 1, window)
		if err != nil {
			return err
		}
		if added {
			return nil
		}
	}
	value, err := l.counter.Increment(ctx, key)
	if err != nil {
		return err
	}
	if value == 1 {
		return l.counter.Expire(ctx, key, window)
	}
	return nil
}

// resetSeconds derives the reset hint from the counter's TTL, falling back to
// the whole window when the TTL is unavailable or out of range. A counter that
// lost its expiry is given a fresh window.
func (l *Limiter) resetSeconds(ctx context.Context, key string, windowSeconds int) int {
	ttl, err := l.counter.TTL(ctx, key)
	if err != nil {
		return windowSeconds
	}
	if ttl < 0 {
		if err := l.counter.Expire(ctx, key, l.Window()); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("failed to restore counter expiry")
		}
		return windowSeconds
	}
	seconds := int(math.Ceil(ttl.Seconds()))
	if seconds <= 0 || seconds > windowSeconds {
		return windowSeconds
	}
	return seconds
}

func (l *Limiter) currentCount(ctx context.Context, key string) (int64, error) {
	count, err := l.counter.Get(ctx, key)
	if errors.Is(err, cache.ErrMiss) {
		return 0, nil
	}
	return count, err
}

func (l *Limiter) decide(algorithm Algorithm, allowed bool, limit int, countBefore int64, resetAt int) domain.RateLimitResult {
	remaining := limit - int(countBefore)
	if remaining < 0 {
		remaining = 0
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	metrics.RecordRateLimit(string(algorithm), outcome)
	return domain.RateLimitResult{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

func (l *Limiter) degraded(algorithm Algorithm, clientID string, limit, resetAt int, err error) domain.RateLimitResult {
	allowed := l.policy != PolicyFailClosed
	l.logger.Error().Err(err).
		Str("client", clientID).
		Str("algorithm", string(algorithm)).
		Bool("allowed", allowed).
		Msg("rate limit counter unavailable, applying failure policy")
	metrics.RecordRateLimit(string(algorithm), "degraded")

	remaining := 0
	if allowed {
		remaining = limit
	}
	return domain.RateLimitResult{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
		Degraded:  true,
	}
}

func unlimited() domain.RateLimitResult {
	return domain.RateLimitResult{Allowed: true, Unlimited: true}
}
