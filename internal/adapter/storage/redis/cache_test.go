package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	return NewCache(client), s
}

func TestCache_SetAndGet(t *testing.T) {
	cache, s := newTestCache(t)
	ctx := context.Background()

	key := "payment:4f1c2a9e-0000-0000-0000-000000000001"
	value := []byte(`{"payment_id":"4f1c2a9e-0000-0000-0000-000000000001","already_applied":false}`)

	// Get before set => nil
	result, err := cache.Get(ctx, key)
	assert.NoError(t, err)
	assert.Nil(t, result)

	require.NoError(t, cache.Set(ctx, key, value, 24*time.Hour))

	result, err = cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value, result)

	// stored under the ledger prefix
	assert.True(t, s.Exists("tfl:"+key))
}

func TestCache_TTLExpiry(t *testing.T) {
	cache, s := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "wallets:summary", []byte(`{}`), 30*time.Second))

	s.FastForward(31 * time.Second)

	result, err := cache.Get(ctx, "wallets:summary")
	assert.NoError(t, err)
	assert.Nil(t, result, "expired key should return nil")
}

func TestCache_Delete(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, cache.Set(ctx, "b", []byte("2"), time.Minute))

	require.NoError(t, cache.Delete(ctx, "a", "b", "missing"))
	require.NoError(t, cache.Delete(ctx))

	for _, k := range []string{"a", "b"} {
		result, err := cache.Get(ctx, k)
		assert.NoError(t, err)
		assert.Nil(t, result)
	}
}

func TestCache_Unavailable(t *testing.T) {
	cache, s := newTestCache(t)
	s.Close()

	_, err := cache.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, cache.Set(context.Background(), "k", []byte("v"), time.Minute))
	assert.Error(t, cache.Delete(context.Background(), "k"))
}
