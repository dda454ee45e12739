package app

import (
	"strings"

	"github.com/charlesng35/matchdispatch/internal/app/maintenance"
	"github.com/charlesng35/matchdispatch/internal/cache"
	"github.com/charlesng35/matchdispatch/internal/database"
	"github.com/charlesng35/matchdispatch/internal/services"
	"github.com/charlesng35/matchdispatch/pkg/gateway"
	"github.com/charlesng35/matchdispatch/pkg/mail"
)

// Connection converts the database section into database.Config.
func (c DatabaseConfig) Connection() database.Config {
	return database.Config{
		Driver:          strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:            c.Path,
		DSN:             c.DSN,
		Host:            c.Host,
		Port:            c.Port,
		Name:            c.Name,
		User:            c.User,
		Password:        c.Password,
		Options:         c.Options,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		LogSQL:          c.LogSQL,
	}
}

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:   strings.TrimSpace(c.Redis.Address),
		Username:  strings.TrimSpace(c.Redis.Username),
		Password:  c.Redis.Password,
		DB:        c.Redis.DB,
		TLS:       c.Redis.TLS,
		Timeout:   c.Redis.Timeout,
		KeyPrefix: c.Redis.KeyPrefix,
	}
}

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:            c.SMTP.Enabled,
		Host:               c.SMTP.Host,
		Port:               c.SMTP.Port,
		Username:           c.SMTP.Username,
		Password:           c.SMTP.Password,
		From:               c.SMTP.From,
		UseTLS:             c.SMTP.UseTLS,
		InsecureSkipVerify: c.SMTP.InsecureSkipVerify,
	}
}

// RetryPolicy converts the retry section; zero fields fall back to the service defaults.
func (c RetryConfig) RetryPolicy() services.RetryPolicy {
	return services.RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
		ClaimTTL:    c.ClaimTTL,
	}
}

// RetryPolicy converts the gateway in-call retry settings.
func (c GatewayConfig) RetryPolicy() gateway.RetryPolicy {
	return gateway.RetryPolicy{
		MaxRetries:      c.MaxRetries,
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
	}
}

// Specs returns the per-job scheduling configuration keyed by job name.
func (c JobsConfig) Specs() map[string]maintenance.JobSpec {
	spec := func(j JobConfig) maintenance.JobSpec {
		return maintenance.JobSpec{Enabled: j.Enabled, Schedule: strings.TrimSpace(j.Schedule), Timeout: j.Timeout}
	}
	return map[string]maintenance.JobSpec{
		maintenance.JobPushDispatch:     spec(c.PushDispatch),
		maintenance.JobSMSDispatch:      spec(c.SMSDispatch),
		maintenance.JobEmailDispatch:    spec(c.EmailDispatch),
		maintenance.JobPreferenceSync:   spec(c.PreferenceSync),
		maintenance.JobMatchSuggestions: spec(c.MatchSuggestions.JobConfig),
		maintenance.JobRetentionSweep:   spec(c.RetentionSweep.JobConfig),
		maintenance.JobAuditRetention:   spec(c.AuditRetention.JobConfig),
	}
}

// SuggestionOptions converts the generator tunables.
func (c SuggestionJobConfig) SuggestionOptions() []services.SuggestionOption {
	return []services.SuggestionOption{
		services.WithSuggestionInterval(c.Interval),
		services.WithSuggestionBatchSize(c.BatchSize),
		services.WithMaxCandidates(c.MaxCandidates),
		services.WithAdvanceOnEmpty(c.AdvanceOnEmpty),
	}
}
