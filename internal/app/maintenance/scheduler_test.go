package maintenance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/charlesng35/matchdispatch/internal/cache"
	"github.com/charlesng35/matchdispatch/internal/database/testutil"
	"github.com/charlesng35/matchdispatch/internal/monitoring"
)

func newTestScheduler(opts ...Option) *Scheduler {
	opts = append([]Option{WithCron(cron.New(cron.WithLogger(cron.DiscardLogger)))}, opts...)
	return NewScheduler(opts...)
}

func noop(context.Context) (string, error) { return "ok", nil }

func TestSchedulerRegisterValidates(t *testing.T) {
	s := newTestScheduler()

	require.Error(t, s.Register(Job{Schedule: "@hourly", Run: noop}))
	require.Error(t, s.Register(Job{Name: "a", Schedule: "@hourly"}))
	require.Error(t, s.Register(Job{Name: "a", Schedule: "every tuesday", Run: noop}))
	require.NoError(t, s.Register(Job{Name: "a", Schedule: "@hourly", Run: noop}))
	require.Error(t, s.Register(Job{Name: "a", Schedule: "@daily", Run: noop}))
}

func TestSchedulerRunOnceRunsInOrderAndAggregates(t *testing.T) {
	s := newTestScheduler()

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string, err error) Func {
		return func(context.Context) (string, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, err
		}
	}

	require.NoError(t, s.Register(Job{Name: "first", Schedule: "@hourly", Run: record("first", nil)}))
	require.NoError(t, s.Register(Job{Name: "second", Schedule: "@hourly", Run: record("second", errors.New("boom"))}))
	require.NoError(t, s.Register(Job{Name: "third", Schedule: "@hourly", Run: func(context.Context) (string, error) {
		panic("kaboom")
	}}))
	require.NoError(t, s.Register(Job{Name: "fourth", Schedule: "@hourly", Run: record("fourth", nil)}))

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)
	require.Equal(t, []string{"first", "second", "fourth"}, order)
	require.Contains(t, err.Error(), "panic recovered")
}

func TestSchedulerRunUnknownJob(t *testing.T) {
	s := newTestScheduler()
	require.ErrorIs(t, s.Run(context.Background(), "missing"), ErrUnknownJob)
}

func TestSchedulerRunAppliesTimeout(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(Job{
		Name:     "slow",
		Schedule: "@hourly",
		Timeout:  10 * time.Millisecond,
		Run: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}))

	require.ErrorIs(t, s.Run(context.Background(), "slow"), context.DeadlineExceeded)
}

func TestSchedulerJobLockIsExclusive(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)

	var runs atomic.Int32
	s := newTestScheduler(WithLocker(store, time.Minute))
	require.NoError(t, s.Register(Job{Name: "locked_job", Schedule: "@hourly", Run: func(context.Context) (string, error) {
		runs.Add(1)
		return "", nil
	}}))

	ctx := context.Background()
	token, ok, err := store.Acquire(ctx, "job:locked_job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.ErrorIs(t, s.Run(ctx, "locked_job"), cache.ErrLockHeld)
	require.Zero(t, runs.Load())

	require.NoError(t, s.RunOnce(ctx), "a held lock is a skip for RunOnce")
	require.Zero(t, runs.Load())

	summary, found := monitoring.JobSnapshot("locked_job")
	require.True(t, found)
	require.GreaterOrEqual(t, summary.LockSkips, uint64(1))

	require.NoError(t, store.Release(ctx, "job:locked_job", token))
	require.NoError(t, s.Run(ctx, "locked_job"))
	require.Equal(t, int32(1), runs.Load())

	// The scheduler released its own lock after the run.
	token, ok, err = store.Acquire(ctx, "job:locked_job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Release(ctx, "job:locked_job", token))
}

func TestSchedulerRecordsJobRuns(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(Job{Name: "recorded_job", Schedule: "@hourly", Run: noop}))

	require.NoError(t, s.Run(context.Background(), "recorded_job"))

	summary, found := monitoring.JobSnapshot("recorded_job")
	require.True(t, found)
	require.Equal(t, "success", summary.LastStatus)
	require.GreaterOrEqual(t, summary.TotalRuns, uint64(1))
}

func TestSchedulerStartRunsOnSchedule(t *testing.T) {
	s := NewScheduler()

	var runs atomic.Int32
	require.NoError(t, s.Register(Job{Name: "tick", Schedule: "@every 1s", Run: func(context.Context) (string, error) {
		runs.Add(1)
		return "", nil
	}}))
	require.NoError(t, s.Start())
	t.Cleanup(func() { <-s.Stop().Done() })

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, "tick", jobs[0].Name)
	require.False(t, jobs[0].Next.IsZero())

	require.Eventually(t, func() bool { return runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	require.Error(t, s.Register(Job{Name: "late", Schedule: "@hourly", Run: noop}))
}
