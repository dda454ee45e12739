package monitoring

import "time"

// Summary surfaces aggregated job and delivery data for the ops API.
type Summary struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Jobs        []JobSummary      `json:"jobs"`
	Channels    []ChannelSummary  `json:"channels"`
	Suggestions SuggestionSummary `json:"suggestions"`
	Retention   RetentionSummary  `json:"retention"`
}

type JobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	ConsecutiveSuccess  uint64        `json:"consecutive_success"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	TotalRuns           uint64        `json:"total_runs"`
	LockSkips           uint64        `json:"lock_skips"`
}

type ChannelSummary struct {
	Channel         string    `json:"channel"`
	Delivered       uint64    `json:"delivered"`
	Failed          uint64    `json:"failed"`
	DeadLettered    uint64    `json:"dead_lettered"`
	Skipped         uint64    `json:"skipped"`
	Conflicts       uint64    `json:"conflicts"`
	Suppressed      uint64    `json:"suppressed"`
	LastDeliveredAt time.Time `json:"last_delivered_at"`
}

type SuggestionSummary struct {
	Emitted uint64 `json:"emitted"`
	Empty   uint64 `json:"empty"`
	Skipped uint64 `json:"skipped"`
	Failed  uint64 `json:"failed"`
}

type RetentionSummary struct {
	Deleted uint64 `json:"deleted"`
}

// Snapshot returns a point-in-time summary from the current module when configured.
func Snapshot() Summary {
	if module := ensureModule(); module != nil && module.stats != nil {
		return module.stats.summary()
	}
	return Summary{GeneratedAt: time.Now(), Jobs: []JobSummary{}, Channels: []ChannelSummary{}}
}

// JobSnapshot returns the summary for a single job and whether it has been seen.
func JobSnapshot(job string) (JobSummary, bool) {
	module := ensureModule()
	if module == nil || module.stats == nil {
		return JobSummary{}, false
	}
	value, ok := module.stats.jobs.Load(normalizeLabel(job))
	if !ok {
		return JobSummary{}, false
	}
	return value.(*jobStats).snapshot(normalizeLabel(job)), true
}
