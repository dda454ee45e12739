package monitoring

import (
	"strings"
	"time"
)

// Delivery results recorded by RecordDelivery.
const (
	DeliveryResultDelivered    = "delivered"
	DeliveryResultFailed       = "failed"
	DeliveryResultDeadLettered = "dead_lettered"
	DeliveryResultSkipped      = "skipped"
	DeliveryResultConflict     = "conflict"
	DeliveryResultError        = "error"
)

// ObserveAPILatency captures the HTTP request latency for the supplied route.
func ObserveAPILatency(method, path, status string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}
	path = sanitizePath(path)
	if path == "" {
		path = "unknown"
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "unknown"
	}
	module.metrics.apiLatency.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordJobRun records the completion of a scheduled job.
func RecordJobRun(job, result, message string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	jobID := normalizeLabel(job)
	result = normalizeLabel(result)
	module.metrics.jobRuns.WithLabelValues(jobID, result).Inc()
	observeDuration(module.metrics.jobDuration.WithLabelValues(jobID), duration)
	if result == "success" {
		module.metrics.jobLastSuccess.WithLabelValues(jobID).Set(float64(time.Now().Unix()))
	}
	stats := module.stats.jobEntry(jobID)
	stats.record(result, strings.TrimSpace(message), duration)
}

// RecordJobLockContention counts a run skipped because the job lock was held elsewhere.
func RecordJobLockContention(job string) {
	module := ensureModule()
	if module == nil {
		return
	}
	jobID := normalizeLabel(job)
	module.metrics.jobLockContention.WithLabelValues(jobID).Inc()
	module.stats.jobEntry(jobID).lockSkips.Add(1)
}

// RecordDelivery counts one per-record dispatch outcome on a channel.
func RecordDelivery(channel, result string) {
	module := ensureModule()
	if module == nil {
		return
	}
	ch := normalizeLabel(channel)
	res := normalizeLabel(result)
	module.metrics.deliveries.WithLabelValues(ch, res).Inc()
	if res == DeliveryResultDeadLettered {
		module.metrics.deadLetters.WithLabelValues(ch).Inc()
	}
	module.stats.channelEntry(ch).record(res)
}

// RecordSuggestion counts a per-user suggestion outcome (emitted, empty, skipped, error).
func RecordSuggestion(result string) {
	module := ensureModule()
	if module == nil {
		return
	}
	res := normalizeLabel(result)
	module.metrics.suggestions.WithLabelValues(res).Inc()
	module.stats.recordSuggestion(res)
}

// RecordRetention adds the number of rows a retention job removed from table.
func RecordRetention(table string, deleted int64) {
	module := ensureModule()
	if module == nil || deleted <= 0 {
		return
	}
	t := normalizeLabel(table)
	module.metrics.retentionDeleted.WithLabelValues(t).Add(float64(deleted))
	module.stats.retentionDeleted.Add(uint64(deleted))
}

// RecordPreferenceSuppression adds the number of channel deliveries suppressed by user preference.
func RecordPreferenceSuppression(channel string, count int64) {
	module := ensureModule()
	if module == nil || count <= 0 {
		return
	}
	ch := normalizeLabel(channel)
	module.metrics.preferenceSuppressed.WithLabelValues(ch).Add(float64(count))
	module.stats.channelEntry(ch).suppressed.Add(uint64(count))
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}

func sanitizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "/" {
		return "root"
	}
	return normalizePath(path)
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	path = strings.ReplaceAll(path, " ", "_")
	if path == "" {
		return "root"
	}
	return path
}
