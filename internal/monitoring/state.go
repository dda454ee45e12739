package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type statStore struct {
	jobs     sync.Map // string -> *jobStats
	channels sync.Map // string -> *channelStats

	suggestionsEmitted atomic.Uint64
	suggestionsEmpty   atomic.Uint64
	suggestionsSkipped atomic.Uint64
	suggestionsFailed  atomic.Uint64

	retentionDeleted atomic.Uint64
}

func newStatStore() *statStore {
	return &statStore{}
}

func (s *statStore) cloneJobs() []JobSummary {
	summaries := []JobSummary{}
	s.jobs.Range(func(key, value any) bool {
		summaries = append(summaries, value.(*jobStats).snapshot(key.(string)))
		return true
	})
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Job < summaries[j].Job })
	return summaries
}

func (s *statStore) cloneChannels() []ChannelSummary {
	summaries := []ChannelSummary{}
	s.channels.Range(func(key, value any) bool {
		summaries = append(summaries, value.(*channelStats).snapshot(key.(string)))
		return true
	})
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Channel < summaries[j].Channel })
	return summaries
}

func (s *statStore) summary() Summary {
	return Summary{
		GeneratedAt: time.Now(),
		Jobs:        s.cloneJobs(),
		Channels:    s.cloneChannels(),
		Suggestions: SuggestionSummary{
			Emitted: s.suggestionsEmitted.Load(),
			Empty:   s.suggestionsEmpty.Load(),
			Skipped: s.suggestionsSkipped.Load(),
			Failed:  s.suggestionsFailed.Load(),
		},
		Retention: RetentionSummary{
			Deleted: s.retentionDeleted.Load(),
		},
	}
}

func (s *statStore) recordSuggestion(result string) {
	switch result {
	case "emitted":
		s.suggestionsEmitted.Add(1)
	case "empty":
		s.suggestionsEmpty.Add(1)
	case "skipped":
		s.suggestionsSkipped.Add(1)
	default:
		s.suggestionsFailed.Add(1)
	}
}

func (s *statStore) jobEntry(job string) *jobStats {
	value, ok := s.jobs.Load(job)
	if ok {
		return value.(*jobStats)
	}
	actual, _ := s.jobs.LoadOrStore(job, &jobStats{})
	return actual.(*jobStats)
}

func (s *statStore) channelEntry(channel string) *channelStats {
	value, ok := s.channels.Load(channel)
	if ok {
		return value.(*channelStats)
	}
	actual, _ := s.channels.LoadOrStore(channel, &channelStats{})
	return actual.(*channelStats)
}

type jobStats struct {
	lastStatus           atomic.Value // string
	lastError            atomic.Value // string
	lastRun              atomic.Int64 // unix nano
	lastDuration         atomic.Int64 // nanoseconds
	consecutiveFailures  atomic.Uint64
	totalRuns            atomic.Uint64
	lastSuccessfulRun    atomic.Int64
	consecutiveSuccesses atomic.Uint64
	lockSkips            atomic.Uint64
}

func (m *jobStats) snapshot(job string) JobSummary {
	status, _ := m.lastStatus.Load().(string)
	errMsg, _ := m.lastError.Load().(string)

	summary := JobSummary{
		Job:                 job,
		LastStatus:          status,
		LastDuration:        time.Duration(m.lastDuration.Load()),
		LastError:           errMsg,
		ConsecutiveFailures: m.consecutiveFailures.Load(),
		ConsecutiveSuccess:  m.consecutiveSuccesses.Load(),
		TotalRuns:           m.totalRuns.Load(),
		LockSkips:           m.lockSkips.Load(),
	}
	if ts := m.lastRun.Load(); ts != 0 {
		summary.LastRunAt = time.Unix(0, ts)
	}
	if ts := m.lastSuccessfulRun.Load(); ts != 0 {
		summary.LastSuccessAt = time.Unix(0, ts)
	}
	return summary
}

func (m *jobStats) record(result, message string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	now := time.Now()
	m.lastStatus.Store(result)
	m.lastError.Store(message)
	m.lastRun.Store(now.UnixNano())
	m.lastDuration.Store(int64(duration))
	m.totalRuns.Add(1)

	switch result {
	case "success":
		m.consecutiveFailures.Store(0)
		m.consecutiveSuccesses.Add(1)
		m.lastSuccessfulRun.Store(now.UnixNano())
	default:
		m.consecutiveFailures.Add(1)
		m.consecutiveSuccesses.Store(0)
	}
}

type channelStats struct {
	delivered    atomic.Uint64
	failed       atomic.Uint64
	deadLettered atomic.Uint64
	skipped      atomic.Uint64
	conflicts    atomic.Uint64
	suppressed   atomic.Uint64
	lastDelivery atomic.Int64
}

func (c *channelStats) record(result string) {
	switch result {
	case DeliveryResultDelivered:
		c.delivered.Add(1)
		c.lastDelivery.Store(time.Now().UnixNano())
	case DeliveryResultFailed:
		c.failed.Add(1)
	case DeliveryResultDeadLettered:
		c.failed.Add(1)
		c.deadLettered.Add(1)
	case DeliveryResultSkipped:
		c.skipped.Add(1)
	case DeliveryResultConflict:
		c.conflicts.Add(1)
	}
}

func (c *channelStats) snapshot(channel string) ChannelSummary {
	summary := ChannelSummary{
		Channel:      channel,
		Delivered:    c.delivered.Load(),
		Failed:       c.failed.Load(),
		DeadLettered: c.deadLettered.Load(),
		Skipped:      c.skipped.Load(),
		Conflicts:    c.conflicts.Load(),
		Suppressed:   c.suppressed.Load(),
	}
	if ts := c.lastDelivery.Load(); ts != 0 {
		summary.LastDeliveredAt = time.Unix(0, ts)
	}
	return summary
}
