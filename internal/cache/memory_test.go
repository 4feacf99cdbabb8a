package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "k", 5, time.Minute))
	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	ttl, err := m.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	clock.Advance(time.Minute)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
	has, err := m.Has(ctx, "k")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMemoryAddOnlyOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ok, err := m.Add(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Add(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryIncrementConcurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Increment(ctx, "k")
		}()
	}
	wg.Wait()

	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(50), v)

	ttl, err := m.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Negative(t, ttl)
}

func TestMemoryExpireMissing(t *testing.T) {
	m := NewMemory()
	assert.ErrorIs(t, m.Expire(context.Background(), "missing", time.Second), ErrMiss)
}

func TestBuildUniversalOptions(t *testing.T) {
	opts, err := buildUniversalOptions("redis://:secret@cache-1:6379/2, cache-2:6379")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache-1:6379", "cache-2:6379"}, opts.Addrs)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	_, err = buildUniversalOptions(" , ")
	assert.Error(t, err)
}
