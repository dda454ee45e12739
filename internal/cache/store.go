package cache

import (
	"context"
	"errors"
	"time"
)

// ErrLockHeld is returned by helpers that require a lock which another holder owns.
var ErrLockHeld = errors.New("cache: lock held by another holder")

// Store represents a shared cache interface used across the application.
type Store interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// Locker grants short-lived exclusive leases on a key across processes.
type Locker interface {
	// Acquire takes the lock when it is free or expired. ok is false when another holder owns it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release frees the lock only if token still owns it.
	Release(ctx context.Context, key, token string) error
}

// Backend is a Store that can also hand out locks.
type Backend interface {
	Store
	Locker
}
