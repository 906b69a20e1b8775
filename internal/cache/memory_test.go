package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/agentbazaar/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemory(t *testing.T) *cache.MemoryCache {
	t.Helper()
	c := cache.NewMemoryCache(10 * time.Millisecond)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemory_SetGet(t *testing.T) {
	c := newMemory(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	val, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, found, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemory_Expiry(t *testing.T) {
	c := newMemory(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	_, found, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemory_SetNX(t *testing.T) {
	c := newMemory(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "cd", []byte("1"), 30*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "cd", []byte("1"), 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(50 * time.Millisecond)
	ok, err = c.SetNX(ctx, "cd", []byte("1"), 30*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok, "expired key can be claimed again")
}

func TestMemory_IncrWithExpiry(t *testing.T) {
	c := newMemory(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := c.IncrWithExpiry(ctx, "rl", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	c := newMemory(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("abc"), 0))

	val, _, _ := c.Get(ctx, "k")
	val[0] = 'z'

	again, _, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again)
}

func TestMemory_CloseTwice(t *testing.T) {
	c := cache.NewMemoryCache(time.Minute)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
