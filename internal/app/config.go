package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/charlesng35/matchdispatch/pkg/validator"
)

// Config represents the runtime configuration for the dispatch service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Gateways   GatewaysConfig   `mapstructure:"gateways"`
	Email      EmailConfig      `mapstructure:"email"`
}

// ServerConfig configures the ops HTTP listener and process logging.
type ServerConfig struct {
	Address         string          `mapstructure:"address" validate:"required"`
	Port            int             `mapstructure:"port" validate:"gte=0,lte=65535"`
	LogLevel        string          `mapstructure:"log_level"`
	LogFormat       string          `mapstructure:"log_format" validate:"omitempty,oneof=json console"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	InstanceID      string          `mapstructure:"instance_id"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds requests per client on the ops API.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests" validate:"gte=0"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver          string            `mapstructure:"driver" validate:"required,oneof=sqlite postgres postgresql mysql mariadb"`
	Path            string            `mapstructure:"path"`
	DSN             string            `mapstructure:"dsn"`
	Host            string            `mapstructure:"host"`
	Port            int               `mapstructure:"port"`
	Name            string            `mapstructure:"name"`
	User            string            `mapstructure:"user"`
	Password        string            `mapstructure:"password"`
	Options         map[string]string `mapstructure:"options"`
	MaxOpenConns    int               `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int               `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration     `mapstructure:"conn_max_lifetime"`
	LogSQL          bool              `mapstructure:"log_sql"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Address   string        `mapstructure:"address" validate:"required_if=Enabled true"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db" validate:"gte=0"`
	TLS       bool          `mapstructure:"tls"`
	Timeout   time.Duration `mapstructure:"timeout"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	// Instance labels the dispatch metrics of this worker; empty omits the label.
	Instance string `mapstructure:"instance"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// JobsMaxAge marks readiness degraded when a job has not run for this long.
	JobsMaxAge time.Duration `mapstructure:"jobs_max_age"`
	// MaxBacklog degrades readiness when a channel has more undelivered
	// notifications than this; zero disables the threshold.
	MaxBacklog int64 `mapstructure:"max_backlog" validate:"gte=0"`
}

// JobsConfig configures the scheduled jobs.
type JobsConfig struct {
	// LockTTL bounds how long a job lock is held if a process dies mid-run.
	LockTTL           time.Duration       `mapstructure:"lock_ttl"`
	DispatchBatchSize int                 `mapstructure:"dispatch_batch_size" validate:"gte=0"`
	PushDispatch      JobConfig           `mapstructure:"push_dispatch"`
	SMSDispatch       JobConfig           `mapstructure:"sms_dispatch"`
	EmailDispatch     JobConfig           `mapstructure:"email_dispatch"`
	PreferenceSync    JobConfig           `mapstructure:"preference_sync"`
	MatchSuggestions  SuggestionJobConfig `mapstructure:"match_suggestions"`
	RetentionSweep    RetentionJobConfig  `mapstructure:"retention_sweep"`
	AuditRetention    AuditJobConfig      `mapstructure:"audit_retention"`
}

// JobConfig is the scheduling configuration shared by every job.
type JobConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule" validate:"omitempty,cronspec"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SuggestionJobConfig tunes the match suggestion generator.
type SuggestionJobConfig struct {
	JobConfig      `mapstructure:",squash"`
	Interval       time.Duration `mapstructure:"interval"`
	BatchSize      int           `mapstructure:"batch_size" validate:"gte=0"`
	MaxCandidates  int           `mapstructure:"max_candidates" validate:"gte=0"`
	AdvanceOnEmpty bool          `mapstructure:"advance_on_empty"`
}

// RetentionJobConfig tunes the notification retention sweep.
type RetentionJobConfig struct {
	JobConfig `mapstructure:",squash"`
	Window    time.Duration `mapstructure:"window"`
}

// AuditJobConfig tunes audit log retention.
type AuditJobConfig struct {
	JobConfig `mapstructure:",squash"`
	Days      int `mapstructure:"days" validate:"gte=0"`
}

// RetryConfig bounds redelivery of failed channels.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=0"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	ClaimTTL    time.Duration `mapstructure:"claim_ttl"`
}

// GatewaysConfig configures the outbound push and SMS gateways.
type GatewaysConfig struct {
	Push GatewayConfig `mapstructure:"push"`
	SMS  GatewayConfig `mapstructure:"sms"`
}

// GatewayConfig throttles and retries calls to one gateway.
type GatewayConfig struct {
	RateLimit       float64       `mapstructure:"rate_limit" validate:"gte=0"`
	Burst           int           `mapstructure:"burst" validate:"gte=0"`
	MaxRetries      uint64        `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Host               string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port               int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	From               string `mapstructure:"from" validate:"omitempty,email"`
	UseTLS             bool   `mapstructure:"use_tls"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
// Environment variables prefixed with MATCHDISPATCH_ override file values, with dots
// in the key replaced by underscores (MATCHDISPATCH_DATABASE_DRIVER).
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("MATCHDISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := validator.ValidateStruct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.instance_id", "")
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.requests", 120)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/matchdispatch.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.conn_max_lifetime", "0s")
	v.SetDefault("database.log_sql", false)

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")
	v.SetDefault("cache.redis.key_prefix", "matchdispatch:")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
	v.SetDefault("monitoring.health_check.jobs_max_age", "6h")
	v.SetDefault("monitoring.health_check.max_backlog", 10000)

	v.SetDefault("jobs.lock_ttl", "15m")
	v.SetDefault("jobs.dispatch_batch_size", 100)
	v.SetDefault("jobs.push_dispatch.enabled", true)
	v.SetDefault("jobs.push_dispatch.schedule", "@every 1m")
	v.SetDefault("jobs.push_dispatch.timeout", "5m")
	v.SetDefault("jobs.sms_dispatch.enabled", true)
	v.SetDefault("jobs.sms_dispatch.schedule", "@every 1m")
	v.SetDefault("jobs.sms_dispatch.timeout", "5m")
	v.SetDefault("jobs.email_dispatch.enabled", true)
	v.SetDefault("jobs.email_dispatch.schedule", "*/5 * * * *")
	v.SetDefault("jobs.email_dispatch.timeout", "10m")
	v.SetDefault("jobs.preference_sync.enabled", true)
	v.SetDefault("jobs.preference_sync.schedule", "*/15 * * * *")
	v.SetDefault("jobs.preference_sync.timeout", "10m")
	v.SetDefault("jobs.match_suggestions.enabled", true)
	v.SetDefault("jobs.match_suggestions.schedule", "0 * * * *")
	v.SetDefault("jobs.match_suggestions.timeout", "30m")
	v.SetDefault("jobs.match_suggestions.interval", "24h")
	v.SetDefault("jobs.match_suggestions.batch_size", 100)
	v.SetDefault("jobs.match_suggestions.max_candidates", 5)
	v.SetDefault("jobs.match_suggestions.advance_on_empty", false)
	v.SetDefault("jobs.retention_sweep.enabled", true)
	v.SetDefault("jobs.retention_sweep.schedule", "30 3 * * *")
	v.SetDefault("jobs.retention_sweep.timeout", "30m")
	v.SetDefault("jobs.retention_sweep.window", "720h")
	v.SetDefault("jobs.audit_retention.enabled", true)
	v.SetDefault("jobs.audit_retention.schedule", "@daily")
	v.SetDefault("jobs.audit_retention.timeout", "30m")
	v.SetDefault("jobs.audit_retention.days", 90)

	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", "1m")
	v.SetDefault("retry.max_delay", "6h")
	v.SetDefault("retry.claim_ttl", "5m")

	for _, gw := range []string{"push", "sms"} {
		v.SetDefault("gateways."+gw+".rate_limit", 50)
		v.SetDefault("gateways."+gw+".burst", 10)
		v.SetDefault("gateways."+gw+".max_retries", 2)
		v.SetDefault("gateways."+gw+".initial_interval", "200ms")
		v.SetDefault("gateways."+gw+".max_interval", "2s")
	}

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.from", "")
	v.SetDefault("email.smtp.use_tls", false)
	v.SetDefault("email.smtp.insecure_skip_verify", false)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
