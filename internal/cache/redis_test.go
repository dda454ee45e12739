package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Redis tests run against a live server and are skipped unless MATCHDISPATCH_TEST_REDIS_ADDR is set.
func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("MATCHDISPATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MATCHDISPATCH_TEST_REDIS_ADDR not set, skipping redis tests")
	}

	store, err := NewRedisStore(context.Background(), RedisConfig{
		Address:   addr,
		DB:        1,
		KeyPrefix: "matchdispatch-test:" + uuid.NewString() + ":",
	})
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewRedisStoreRequiresAddress(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{})
	require.ErrorContains(t, err, "address is required")
}

func TestRedisStorePrefixesKeys(t *testing.T) {
	store := NewRedisStoreFromClient(nil, "")
	require.Equal(t, "matchdispatch:jobs", store.prefixed("jobs"))
	require.Equal(t, "matchdispatch:jobs", store.prefixed("matchdispatch:jobs"))
}

func TestRedisStoreLockIsExclusive(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	token, ok, err := store.Acquire(ctx, "job:sms_dispatch", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = store.Acquire(ctx, "job:sms_dispatch", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Release(ctx, "job:sms_dispatch", "stale"))
	_, ok, err = store.Acquire(ctx, "job:sms_dispatch", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Release(ctx, "job:sms_dispatch", token))
	_, ok, err = store.Acquire(ctx, "job:sms_dispatch", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisStoreCounters(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "rl", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.LessOrEqual(t, ttl, time.Minute)

	count, _, err = store.IncrementWithTTL(ctx, "rl", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), value)
	require.NoError(t, store.Delete(ctx, "k", "rl"))
}
