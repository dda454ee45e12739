// Package gateway holds the delivery plumbing shared by the push and SMS
// senders. Senders mark errors that must not be retried with backoff.Permanent.
package gateway

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Limiter wraps a token bucket. A nil *Limiter never blocks.
type Limiter struct {
	bucket *rate.Limiter
}

// NewLimiter returns a limiter allowing rps sends per second with the given burst.
// A non-positive rps disables throttling.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.bucket.Wait(ctx)
}

// RetryPolicy describes in-call retries of transient gateway failures.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, p.MaxRetries), ctx)
}

// Retry runs op until it succeeds or the retry budget is spent. An error
// wrapped with backoff.Permanent stops retrying and is returned unwrapped.
func Retry(ctx context.Context, policy RetryPolicy, op func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return backoff.Retry(func() error { return op(ctx) }, policy.backOff(ctx))
}
