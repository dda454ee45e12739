package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/charlesng35/matchdispatch/internal/cache"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// NewLimiter picks the shared window limiter when a cache backend is
// available and the in-process token bucket otherwise. A non-positive budget
// disables limiting.
func NewLimiter(store cache.Store, requests int, window time.Duration) Limiter {
	if requests <= 0 || window <= 0 {
		return allowAll{}
	}
	if store != nil {
		return NewWindowLimiter(store, requests, window)
	}
	return NewLocalLimiter(requests, window)
}

// WindowLimiter counts requests per fixed window in a cache.Store, so every
// instance sharing the store draws from one budget.
type WindowLimiter struct {
	store    cache.Store
	requests int
	window   time.Duration
}

// NewWindowLimiter allows requests per window for each key.
func NewWindowLimiter(store cache.Store, requests int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{store: store, requests: requests, window: window}
}

func (l *WindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, ttl, err := l.store.IncrementWithTTL(ctx, key, l.window)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   count <= int64(l.requests),
		Limit:     l.requests,
		Remaining: max(0, l.requests-int(count)),
		ResetIn:   ttl,
	}, nil
}

// LocalLimiter keeps one token bucket per key in process memory. A bucket
// holds requests tokens and refills over window. Buckets idle for a full
// window are dropped, since they would be full again anyway.
type LocalLimiter struct {
	requests int
	window   time.Duration
	every    rate.Limit
	now      func() time.Time

	mu        sync.Mutex
	buckets   map[string]*localBucket
	lastSweep time.Time
}

type localBucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewLocalLimiter allows bursts of requests per key, refilled over window.
func NewLocalLimiter(requests int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		requests: requests,
		window:   window,
		every:    rate.Every(window / time.Duration(requests)),
		now:      time.Now,
		buckets:  make(map[string]*localBucket),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = &localBucket{limiter: rate.NewLimiter(l.every, l.requests)}
		l.buckets[key] = bucket
	}
	bucket.seen = now

	decision := Decision{Limit: l.requests}
	reservation := bucket.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		decision.ResetIn = delay
		return decision, nil
	}

	decision.Allowed = true
	decision.Remaining = max(0, int(bucket.limiter.TokensAt(now)))
	return decision, nil
}

func (l *LocalLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	for key, bucket := range l.buckets {
		if now.Sub(bucket.seen) >= l.window {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}
