package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyDeterministicAndDistinct(t *testing.T) {
	type params struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	k1 := Key("/tasks", params{From: "a", To: "b"})
	k2 := Key("/tasks", params{From: "a", To: "b"})
	k3 := Key("/tasks", params{From: "a", To: "c"})

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Equal(t, "/tasks", Key("/tasks", nil))
}

func TestMemoryTTL(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 100*time.Millisecond))

	val, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	time.Sleep(150 * time.Millisecond)
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry past TTL must read as a miss")
}

func TestMemoryInvalidateAndClear(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), time.Minute))

	require.NoError(t, m.Invalidate(ctx, "a"))
	_, ok, _ := m.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "b")
	assert.True(t, ok)

	require.NoError(t, m.Clear(ctx))
	_, ok, _ = m.Get(ctx, "b")
	assert.False(t, ok)
}

func TestMemorySweepEvicts(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "stale", []byte("x"), 10*time.Millisecond))
	require.NoError(t, m.Set(ctx, "fresh", []byte("y"), time.Minute))
	time.Sleep(20 * time.Millisecond)

	m.sweep(time.Now())

	m.mu.RLock()
	_, staleHeld := m.entries["stale"]
	_, freshHeld := m.entries["fresh"]
	m.mu.RUnlock()
	assert.False(t, staleHeld, "sweep must drop expired entries without a read")
	assert.True(t, freshHeld)
	assert.Equal(t, 1, m.Len())
}
