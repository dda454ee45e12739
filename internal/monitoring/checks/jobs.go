package checks

import (
	"context"
	"time"

	"github.com/charlesng35/matchdispatch/internal/monitoring"
)

const defaultJobMaxAge = 6 * time.Hour

// JobCheckName is the readiness check name registered for a scheduled job.
func JobCheckName(job string) string {
	return "job:" + job
}

// Job reports the health of one scheduled job. A job that has not run yet is
// up; consecutive failures mark it down and a last run older than maxAge
// degrades it.
func Job(name string, maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultJobMaxAge
	}
	return monitoring.NewCheck(JobCheckName(name), func(context.Context) monitoring.ProbeResult {
		summary, seen := monitoring.JobSnapshot(name)
		if !seen || summary.TotalRuns == 0 {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "awaiting first run"}
		}
		return jobResult(summary, time.Now(), maxAge)
	})
}

func jobResult(summary monitoring.JobSummary, now time.Time, maxAge time.Duration) monitoring.ProbeResult {
	result := monitoring.ProbeResult{
		Status: monitoring.StatusUp,
		Data: map[string]any{
			"last_status":          summary.LastStatus,
			"last_run_at":          summary.LastRunAt,
			"consecutive_failures": summary.ConsecutiveFailures,
			"lock_skips":           summary.LockSkips,
		},
	}
	switch {
	case summary.ConsecutiveFailures > 0:
		result.Status = monitoring.StatusDown
		result.Details = summary.LastError
		if result.Details == "" {
			result.Details = "consecutive failures"
		}
	case now.Sub(summary.LastRunAt) > maxAge:
		result.Status = monitoring.StatusDegraded
		result.Details = "last run " + summary.LastRunAt.UTC().Format(time.RFC3339)
	}
	return result
}
