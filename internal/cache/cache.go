// Package cache provides the shared counting store used for rate limiting.
// Implementations must make Increment and Add atomic with respect to
// concurrent callers on the same key.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get and TTL when the key does not exist or has expired.
var ErrMiss = errors.New("cache: miss")

// Counter is a keyed integer store with per-key expiry.
type Counter interface {
	// Get returns the current value of key or ErrMiss.
	Get(ctx context.Context, key string) (int64, error)
	// Put stores value under key with the given ttl, replacing any value.
	Put(ctx context.Context, key string, value int64, ttl time.Duration) error
	// Add stores value under key only if the key does not exist. It reports
	// whether the value was stored.
	Add(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error)
	// Increment atomically adds one to key and returns the new value. A
	// missing key starts from zero and has no expiry.
	Increment(ctx context.Context, key string) (int64, error)
	// Expire sets the ttl of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Has reports whether key exists.
	Has(ctx context.Context, key string) (bool, error)
	// TTL returns the remaining lifetime of key or ErrMiss. Keys without
	// expiry report a negative duration.
	TTL(ctx context.Context, key string) (time.Duration, error)
}
