package checks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/charlesng35/matchdispatch/internal/models"
	"github.com/charlesng35/matchdispatch/internal/monitoring"
)

// ChannelBacklog counts undelivered and dead-lettered notifications on one channel.
type ChannelBacklog struct {
	Backlog      int64 `json:"backlog"`
	DeadLettered int64 `json:"dead_lettered"`
}

// Backlog counts, per channel, notifications still awaiting delivery and
// those that exhausted their attempts.
func Backlog(ctx context.Context, db *gorm.DB) (map[models.Channel]ChannelBacklog, error) {
	out := make(map[models.Channel]ChannelBacklog, len(models.Channels))
	for _, ch := range models.Channels {
		prefix := string(ch) + "_"
		var row ChannelBacklog
		err := db.WithContext(ctx).
			Model(&models.Notification{}).
			Select(
				"COALESCE(SUM(CASE WHEN "+prefix+"sent = ? AND ("+prefix+"state = ? OR "+prefix+"state = ?) THEN 1 ELSE 0 END), 0) AS backlog, "+
					"COALESCE(SUM(CASE WHEN "+prefix+"state = ? THEN 1 ELSE 0 END), 0) AS dead_lettered",
				false, models.DeliveryPending, models.DeliveryInFlight, models.DeliveryFailed,
			).
			Scan(&row).Error
		if err != nil {
			return nil, fmt.Errorf("count %s backlog: %w", ch, err)
		}
		out[ch] = row
	}
	return out, nil
}

// Dispatch reports per-channel backlog and dead-letter counts. Readiness
// degrades once any channel's backlog exceeds maxBacklog; zero disables the
// threshold. Dead-lettered rows are reported but never fail the probe since
// they no longer block delivery.
func Dispatch(db *gorm.DB, maxBacklog int64) monitoring.Check {
	return monitoring.NewCheck("dispatch", func(ctx context.Context) monitoring.ProbeResult {
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "database not configured"}
		}
		start := time.Now()
		counts, err := Backlog(ctx, db)
		if err != nil {
			return monitoring.ResultFromError("dispatch", err, time.Since(start))
		}

		result := monitoring.ProbeResult{Status: monitoring.StatusUp, Data: make(map[string]any, len(counts))}
		var over []string
		for _, ch := range models.Channels {
			c := counts[ch]
			result.Data[string(ch)] = c
			if maxBacklog > 0 && c.Backlog > maxBacklog {
				result.Status = monitoring.StatusDegraded
				over = append(over, fmt.Sprintf("%s backlog %d over %d", ch, c.Backlog, maxBacklog))
			}
		}
		result.Details = strings.Join(over, "; ")
		return result
	})
}

const backlogScrapeTimeout = 5 * time.Second

type backlogCollector struct {
	db           *gorm.DB
	backlog      *prometheus.Desc
	deadLettered *prometheus.Desc
}

// BacklogCollector exports the per-channel backlog and dead-letter counts as
// gauges, queried on every scrape.
func BacklogCollector(db *gorm.DB, namespace string) prometheus.Collector {
	return &backlogCollector{
		db: db,
		backlog: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "notification", "backlog"),
			"Notifications awaiting delivery per channel",
			[]string{"channel"}, nil,
		),
		deadLettered: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "notification", "dead_lettered"),
			"Notifications that exhausted their delivery attempts per channel",
			[]string{"channel"}, nil,
		),
	}
}

func (c *backlogCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.backlog
	ch <- c.deadLettered
}

func (c *backlogCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), backlogScrapeTimeout)
	defer cancel()

	counts, err := Backlog(ctx, c.db)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.backlog, err)
		return
	}
	for channel, count := range counts {
		ch <- prometheus.MustNewConstMetric(c.backlog, prometheus.GaugeValue, float64(count.Backlog), string(channel))
		ch <- prometheus.MustNewConstMetric(c.deadLettered, prometheus.GaugeValue, float64(count.DeadLettered), string(channel))
	}
}
