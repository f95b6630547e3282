package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisSetGetTTL(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "/tasks", []byte(`[]`), time.Second))

	val, ok, err := c.Get(ctx, "/tasks")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`[]`), val)

	mr.FastForward(2 * time.Second)
	_, ok, err = c.Get(ctx, "/tasks")
	require.NoError(t, err)
	assert.False(t, ok, "expired key must read as a miss")
}

func TestRedisInvalidate(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "/tasks", []byte("v"), time.Minute))
	require.NoError(t, c.Invalidate(ctx, "/tasks"))

	_, ok, err := c.Get(ctx, "/tasks")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisClearOnlyTouchesNamespace(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, mr.Set("unrelated", "keep"))

	require.NoError(t, c.Clear(ctx))

	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "b")
	assert.False(t, ok)

	kept, err := mr.Get("unrelated")
	require.NoError(t, err)
	assert.Equal(t, "keep", kept)
}
