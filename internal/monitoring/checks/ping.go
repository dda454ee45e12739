// Package checks holds the readiness probes the ops API exposes.
package checks

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/matchdispatch/internal/monitoring"
)

const pingTimeout = 2 * time.Second

// Pinger is anything that can confirm a live connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Ping reports whether target answers within timeout.
func Ping(name string, target Pinger, timeout time.Duration) monitoring.Check {
	if timeout <= 0 {
		timeout = pingTimeout
	}
	return monitoring.NewCheck(name, func(ctx context.Context) monitoring.ProbeResult {
		if target == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: name + " not configured"}
		}
		start := time.Now()
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return monitoring.ResultFromError(name, target.Ping(pingCtx), time.Since(start))
	})
}

// Database pings the notification store and reports connection pool usage.
func Database(db *gorm.DB, timeout time.Duration) monitoring.Check {
	var target Pinger
	if db != nil {
		target = pingFunc(func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		})
	}
	ping := Ping("database", target, timeout)

	return monitoring.NewCheck(ping.Name, func(ctx context.Context) monitoring.ProbeResult {
		result := ping.Run(ctx)
		if result.Status != monitoring.StatusUp {
			return result
		}
		if sqlDB, err := db.DB(); err == nil {
			stats := sqlDB.Stats()
			result.Data = map[string]any{
				"dialect":    db.Dialector.Name(),
				"open":       stats.OpenConnections,
				"in_use":     stats.InUse,
				"idle":       stats.Idle,
				"wait_count": stats.WaitCount,
			}
		}
		return result
	})
}

// Cache pings the shared redis cache used for job locks and rate limits.
// Without redis the jobs fall back to the database store, so a missing
// client only degrades readiness when redis was asked for.
func Cache(client Pinger, enabled bool, timeout time.Duration) monitoring.Check {
	ping := Ping("redis", client, timeout)
	return monitoring.NewCheck(ping.Name, func(ctx context.Context) monitoring.ProbeResult {
		switch {
		case !enabled:
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "redis disabled; locks held in database"}
		case client == nil:
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "redis unavailable; locks held in database"}
		}
		return ping.Run(ctx)
	})
}
