package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/matchdispatch/internal/cache"
	"github.com/charlesng35/matchdispatch/internal/monitoring"
	"github.com/charlesng35/matchdispatch/pkg/logger"
	"github.com/charlesng35/matchdispatch/pkg/validator"
)

const (
	defaultLockTTL = 15 * time.Minute
	lockKeyPrefix  = "job:"
)

// ErrUnknownJob is returned by Run for a job that was never registered.
var ErrUnknownJob = errors.New("maintenance: unknown job")

// Func performs one run of a job and returns a short summary of what it did.
type Func func(ctx context.Context) (string, error)

// Job is a named unit of scheduled work.
type Job struct {
	Name     string
	Schedule string
	// Timeout bounds a single run. Zero means no limit beyond scheduler shutdown.
	Timeout time.Duration
	Run     Func
}

// JobInfo describes a registered job and its position in the schedule.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitempty"`
	Prev     time.Time `json:"prev,omitempty"`
}

// Scheduler runs registered jobs on cron schedules. Each job is guarded against
// overlapping itself in-process and, with a Locker, across processes.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	locker  cache.Locker
	lockTTL time.Duration
	log     *zap.Logger

	jobs    []Job
	entries map[string]cron.EntryID
	started bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithLocker guards every run with a lock held for at most ttl.
func WithLocker(locker cache.Locker, ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.locker = locker
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// NewScheduler constructs an empty Scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		lockTTL: defaultLockTTL,
		log:     logger.WithModule("scheduler"),
		entries: make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger{log: s.log}),
		)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Register adds a job. Jobs run by RunOnce in registration order.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return errors.New("maintenance: job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("maintenance: job %s has no run function", job.Name)
	}
	if !validator.ValidSchedule(job.Schedule) {
		return fmt.Errorf("maintenance: job %s has invalid schedule %q", job.Name, job.Schedule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("maintenance: cannot register %s after start", job.Name)
	}
	for _, existing := range s.jobs {
		if existing.Name == job.Name {
			return fmt.Errorf("maintenance: job %s already registered", job.Name)
		}
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start schedules every registered job and launches the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	skip := cron.NewChain(cron.SkipIfStillRunning(cronLogger{log: s.log}))
	for _, job := range s.jobs {
		job := job
		id, err := s.cron.AddJob(job.Schedule, skip.Then(cron.FuncJob(func() {
			if err := s.execute(s.ctx, job); err != nil && !errors.Is(err, cache.ErrLockHeld) {
				s.log.Warn("scheduled job failed", zap.String("job", job.Name), zap.Error(err))
			}
		})))
		if err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", job.Name, err)
		}
		s.entries[job.Name] = id
	}

	s.started = true
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Stop cancels running jobs and halts the scheduler. The returned context is
// done once in-flight runs have returned.
func (s *Scheduler) Stop() context.Context {
	s.cancel()
	return s.cron.Stop()
}

// Run executes the named job once, outside its schedule.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	job, ok := s.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, job)
}

// RunOnce executes every registered job sequentially and aggregates failures.
// A job whose lock is held elsewhere is skipped, not reported as a failure.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	var errs error
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if err := s.execute(ctx, job); err != nil && !errors.Is(err, cache.ErrLockHeld) {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.Name, err))
		}
	}
	return errs
}

// Jobs lists registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for _, job := range s.jobs {
		info := JobInfo{Name: job.Name, Schedule: job.Schedule}
		if id, ok := s.entries[job.Name]; ok {
			entry := s.cron.Entry(id)
			info.Next = entry.Next
			info.Prev = entry.Prev
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (s *Scheduler) lookup(name string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.Name == name {
			return job, true
		}
	}
	return Job{}, false
}

func (s *Scheduler) execute(ctx context.Context, job Job) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}
	log := logger.WithJob(job.Name)

	if s.locker != nil {
		key := lockKeyPrefix + job.Name
		token, ok, lockErr := s.locker.Acquire(ctx, key, s.lockTTL)
		if lockErr != nil {
			monitoring.RecordJobRun(job.Name, "failure", lockErr.Error(), 0)
			return fmt.Errorf("acquire lock: %w", lockErr)
		}
		if !ok {
			monitoring.RecordJobLockContention(job.Name)
			log.Info("job skipped, lock held elsewhere")
			return cache.ErrLockHeld
		}
		defer func() {
			if releaseErr := s.locker.Release(context.WithoutCancel(ctx), key, token); releaseErr != nil {
				log.Warn("failed to release job lock", zap.Error(releaseErr))
			}
		}()
	}

	start := time.Now()
	summary, err := runGuarded(ctx, job.Run)
	duration := time.Since(start)

	if err != nil {
		monitoring.RecordJobRun(job.Name, "failure", err.Error(), duration)
		log.Error("job failed", zap.Duration("duration", duration), zap.Error(err))
		return err
	}

	monitoring.RecordJobRun(job.Name, "success", summary, duration)
	log.Info("job complete", zap.Duration("duration", duration), zap.String("summary", summary))
	return nil
}

func runGuarded(ctx context.Context, fn Func) (summary string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic recovered: %v", rec)
		}
	}()
	return fn(ctx)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
