package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type collectors struct {
	apiLatency           *prometheus.HistogramVec
	jobRuns              *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	jobLastSuccess       *prometheus.GaugeVec
	jobLockContention    *prometheus.CounterVec
	deliveries           *prometheus.CounterVec
	deadLetters          *prometheus.CounterVec
	suggestions          *prometheus.CounterVec
	retentionDeleted     *prometheus.CounterVec
	preferenceSuppressed *prometheus.CounterVec
}

func newCollectors(namespace string) *collectors {
	buckets := prometheus.DefBuckets
	jobBuckets := []float64{
		0.05, 0.1, 0.5, 1, 5, // seconds
		15, 30, 60, 120, 300, // minutes
	}

	return &collectors{
		apiLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_latency_seconds",
				Help:      "Ops API endpoint latency",
				Buckets:   buckets,
			},
			[]string{"method", "path", "status"},
		),
		jobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_runs_total",
				Help:      "Scheduled job executions grouped by result",
			},
			[]string{"job", "result"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Scheduled job duration",
				Buckets:   jobBuckets,
			},
			[]string{"job"},
		),
		jobLastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "job_last_success_timestamp",
				Help:      "Timestamp of the last successful job run (seconds since epoch)",
			},
			[]string{"job"},
		),
		jobLockContention: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_lock_contention_total",
				Help:      "Job runs skipped because another replica held the job lock",
			},
			[]string{"job"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_deliveries_total",
				Help:      "Notification delivery outcomes per channel",
			},
			[]string{"channel", "result"},
		),
		deadLetters: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_dead_letters_total",
				Help:      "Notifications that exhausted their delivery attempts",
			},
			[]string{"channel"},
		),
		suggestions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "match_suggestions_total",
				Help:      "Match suggestion outcomes per user",
			},
			[]string{"result"},
		),
		retentionDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_deleted_total",
				Help:      "Rows removed by retention jobs",
			},
			[]string{"table"},
		),
		preferenceSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "preference_suppressed_total",
				Help:      "Notification channels marked sent because the user disabled them",
			},
			[]string{"channel"},
		),
	}
}

func (c *collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.apiLatency,
		c.jobRuns,
		c.jobDuration,
		c.jobLastSuccess,
		c.jobLockContention,
		c.deliveries,
		c.deadLetters,
		c.suggestions,
		c.retentionDeleted,
		c.preferenceSuppressed,
	}
}

// observeDuration records a duration in seconds on the supplied histogram observer.
func observeDuration(observer prometheus.Observer, d time.Duration) {
	if observer == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	observer.Observe(d.Seconds())
}
