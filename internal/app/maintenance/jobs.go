package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/charlesng35/matchdispatch/internal/monitoring"
	"github.com/charlesng35/matchdispatch/internal/services"
)

// Job names.
const (
	JobPreferenceSync   = "preference_sync"
	JobMatchSuggestions = "match_suggestions"
	JobPushDispatch     = "push_dispatch"
	JobSMSDispatch      = "sms_dispatch"
	JobEmailDispatch    = "email_dispatch"
	JobRetentionSweep   = "retention_sweep"
	JobAuditRetention   = "audit_retention"
)

// DefaultSchedules holds the cron spec used for a job with no configured schedule.
var DefaultSchedules = map[string]string{
	JobPreferenceSync:   "*/15 * * * *",
	JobMatchSuggestions: "0 * * * *",
	JobPushDispatch:     "@every 1m",
	JobSMSDispatch:      "@every 1m",
	JobEmailDispatch:    "*/5 * * * *",
	JobRetentionSweep:   "30 3 * * *",
	JobAuditRetention:   "@daily",
}

// JobSpec is the per-job scheduling configuration.
type JobSpec struct {
	Enabled  bool
	Schedule string
	Timeout  time.Duration
}

// Services are the job implementations. A nil service leaves its job unregistered.
type Services struct {
	PreferenceSync     *services.PreferenceSyncService
	Suggestions        *services.SuggestionService
	Push               *services.PushDispatchService
	SMS                *services.SMSDispatchService
	Email              *services.EmailDispatchService
	Retention          *services.RetentionService
	Audit              *services.AuditService
	AuditRetentionDays int
}

// RegisterStandardJobs registers every available job whose spec is enabled. A job
// missing from specs runs on its default schedule. Registration order puts
// preference sync ahead of the dispatchers so RunOnce never sends on a channel
// the user just disabled.
func RegisterStandardJobs(s *Scheduler, svcs Services, specs map[string]JobSpec) error {
	jobs := []struct {
		name string
		run  Func
	}{
		{JobPreferenceSync, preferenceSyncJob(svcs.PreferenceSync)},
		{JobMatchSuggestions, suggestionJob(svcs.Suggestions)},
		{JobPushDispatch, dispatchJob(svcs.Push)},
		{JobSMSDispatch, dispatchJob(svcs.SMS)},
		{JobEmailDispatch, dispatchJob(svcs.Email)},
		{JobRetentionSweep, retentionJob(svcs.Retention)},
		{JobAuditRetention, auditRetentionJob(svcs.Audit, svcs.AuditRetentionDays)},
	}

	for _, j := range jobs {
		if j.run == nil {
			continue
		}
		spec, ok := specs[j.name]
		if !ok {
			spec = JobSpec{Enabled: true}
		}
		if !spec.Enabled {
			continue
		}
		schedule := spec.Schedule
		if schedule == "" {
			schedule = DefaultSchedules[j.name]
		}
		if err := s.Register(Job{Name: j.name, Schedule: schedule, Timeout: spec.Timeout, Run: j.run}); err != nil {
			return err
		}
	}
	return nil
}

type dispatcher interface {
	Run(ctx context.Context) (services.DispatchStats, error)
}

func dispatchJob[D interface {
	dispatcher
	comparable
}](d D) Func {
	var zero D
	if d == zero {
		return nil
	}
	return func(ctx context.Context) (string, error) {
		stats, err := d.Run(ctx)
		return fmt.Sprintf("selected=%d delivered=%d failed=%d dead_lettered=%d skipped=%d conflicts=%d errors=%d",
			stats.Selected, stats.Delivered, stats.Failed, stats.DeadLettered, stats.Skipped, stats.Conflicts, stats.Errors), err
	}
}

func preferenceSyncJob(svc *services.PreferenceSyncService) Func {
	if svc == nil {
		return nil
	}
	return func(ctx context.Context) (string, error) {
		stats, err := svc.Run(ctx)
		var total int64
		for _, n := range stats.Suppressed {
			total += n
		}
		return fmt.Sprintf("users=%d suppressed=%d errors=%d", stats.Users, total, stats.Errors), err
	}
}

func suggestionJob(svc *services.SuggestionService) Func {
	if svc == nil {
		return nil
	}
	return func(ctx context.Context) (string, error) {
		stats, err := svc.Run(ctx)
		return fmt.Sprintf("users=%d emitted=%d empty=%d skipped=%d errors=%d",
			stats.Users, stats.Emitted, stats.Empty, stats.Skipped, stats.Errors), err
	}
}

func retentionJob(svc *services.RetentionService) Func {
	if svc == nil {
		return nil
	}
	return func(ctx context.Context) (string, error) {
		stats, err := svc.Run(ctx)
		return fmt.Sprintf("deleted=%d attempts_deleted=%d", stats.Deleted, stats.AttemptsDeleted), err
	}
}

// auditRetentionJob is left unregistered without a positive retention window.
func auditRetentionJob(svc *services.AuditService, days int) Func {
	if svc == nil || days <= 0 {
		return nil
	}
	return func(ctx context.Context) (string, error) {
		removed, err := svc.CleanupOlderThan(ctx, days)
		monitoring.RecordRetention("audit_logs", removed)
		return fmt.Sprintf("deleted=%d", removed), err
	}
}
