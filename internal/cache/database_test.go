package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/matchdispatch/internal/database/testutil"
)

func newDatabaseStore(t *testing.T) (*DatabaseStore, *time.Time) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	return store, &now
}

func TestDatabaseStoreSetGetDelete(t *testing.T) {
	store, now := newDatabaseStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), value)

	*now = now.Add(2 * time.Minute)
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "k2", []byte("v2"), 0))
	require.NoError(t, store.Delete(ctx, "k2"))
	_, ok, err = store.Get(ctx, "k2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDatabaseStoreIncrementWithTTL(t *testing.T) {
	store, now := newDatabaseStore(t)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "rl", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, time.Minute, ttl)

	*now = now.Add(20 * time.Second)
	count, ttl, err = store.IncrementWithTTL(ctx, "rl", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
	require.Equal(t, 40*time.Second, ttl)

	*now = now.Add(time.Minute)
	count, _, err = store.IncrementWithTTL(ctx, "rl", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestDatabaseStoreLockIsExclusive(t *testing.T) {
	store, now := newDatabaseStore(t)
	ctx := context.Background()

	token, ok, err := store.Acquire(ctx, "job:push_dispatch", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = store.Acquire(ctx, "job:push_dispatch", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "second holder must not acquire a live lock")

	// a stale token must not free the lock
	require.NoError(t, store.Release(ctx, "job:push_dispatch", "someone-else"))
	_, ok, err = store.Acquire(ctx, "job:push_dispatch", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Release(ctx, "job:push_dispatch", token))
	second, ok, err := store.Acquire(ctx, "job:push_dispatch", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, token, second)

	// an expired lock is taken over
	*now = now.Add(2 * time.Minute)
	_, ok, err = store.Acquire(ctx, "job:push_dispatch", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDatabaseStoreIncrementRetriesLostInsertRace(t *testing.T) {
	store, _ := newDatabaseStore(t)

	collisions := 0
	require.NoError(t, store.db.Callback().Create().Before("gorm:create").Register("test:lost_race", func(tx *gorm.DB) {
		if tx.Statement.Table == "cache_entries" && collisions == 0 {
			collisions++
			_ = tx.AddError(gorm.ErrDuplicatedKey)
		}
	}))

	count, ttl, err := store.IncrementWithTTL(context.Background(), "ratelimit:10.0.0.1|/api/jobs", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, collisions)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, ttl)
}
