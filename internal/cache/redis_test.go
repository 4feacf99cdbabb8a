package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisWithClient(client, "test:"), mr
}

func TestRedisGetMiss(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	_, err := r.Get(ctx, "counter")
	assert.ErrorIs(t, err, ErrMiss)

	mr.Set("test:garbage", "not-a-number")
	_, err = r.Get(ctx, "garbage")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}

func TestRedisAddOnlyOnce(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	added, err := r.Add(ctx, "counter", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = r.Add(ctx, "counter", 7, time.Minute)
	require.NoError(t, err)
	assert.False(t, added)

	value, err := r.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)
	assert.True(t, mr.Exists("test:counter"))
	assert.False(t, mr.Exists("counter"))
}

func TestRedisIncrementAndExpire(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	value, err := r.Increment(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)
	value, err = r.Increment(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), value)

	require.NoError(t, r.Expire(ctx, "counter", 30*time.Second))
	ttl, err := r.TTL(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, ttl)

	mr.FastForward(31 * time.Second)
	has, err := r.Has(ctx, "counter")
	require.NoError(t, err)
	assert.False(t, has)

	assert.ErrorIs(t, r.Expire(ctx, "counter", time.Second), ErrMiss)
}

func TestRedisTTLSentinels(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	_, err := r.TTL(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, r.Put(ctx, "forever", 3, 0))
	ttl, err := r.TTL(ctx, "forever")
	require.NoError(t, err)
	assert.Less(t, ttl, time.Duration(0))

	has, err := r.Has(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestRedisUnavailable(t *testing.T) {
	r, mr := newTestRedis(t)
	mr.Close()

	_, err := r.Increment(context.Background(), "counter")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}
