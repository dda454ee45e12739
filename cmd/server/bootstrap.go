package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/matchdispatch/internal/api"
	"github.com/charlesng35/matchdispatch/internal/app"
	"github.com/charlesng35/matchdispatch/internal/app/maintenance"
	"github.com/charlesng35/matchdispatch/internal/cache"
	"github.com/charlesng35/matchdispatch/internal/database"
	"github.com/charlesng35/matchdispatch/internal/middleware"
	"github.com/charlesng35/matchdispatch/internal/monitoring"
	"github.com/charlesng35/matchdispatch/internal/monitoring/checks"
	"github.com/charlesng35/matchdispatch/internal/services"
	"github.com/charlesng35/matchdispatch/pkg/logger"
	"github.com/charlesng35/matchdispatch/pkg/mail"
	"github.com/charlesng35/matchdispatch/pkg/push"
	"github.com/charlesng35/matchdispatch/pkg/sms"
)

// gateways bundles the outbound senders handed to the dispatchers.
type gateways struct {
	Push   push.Sender
	SMS    sms.Sender
	Mailer mail.Mailer
}

// runtimeStack bundles long-lived services used by the scheduler and HTTP server.
type runtimeStack struct {
	DB            *gorm.DB
	Redis         *cache.RedisStore
	Monitoring    *monitoring.Module
	Audit         *services.AuditService
	Notifications *services.NotificationService
	Preferences   *services.UserPreferencesService
	Scheduler     *maintenance.Scheduler
	RateLimiter   middleware.Limiter
	Router        *gin.Engine
}

// bootstrapRuntime initialises the database, cache, services, scheduler and HTTP router.
// gw may be nil, in which case log-only push and SMS gateways and the configured SMTP mailer are used.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, gw *gateways, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.Monitoring, err = monitoring.NewModule(monitoring.Options{Instance: cfg.Monitoring.Prometheus.Instance})
	if err != nil {
		return nil, fmt.Errorf("initialise monitoring: %w", err)
	}
	monitoring.SetModule(stack.Monitoring)

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	var backend cache.Backend = dbStore

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed locks", zap.Error(err))
			stack.Redis = nil
		} else {
			backend = stack.Redis
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}
	stack.RateLimiter = middleware.NewLimiter(backend, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window)

	if gw == nil {
		gw, err = buildGateways(cfg)
		if err != nil {
			return nil, err
		}
	}

	if err := stack.buildServices(cfg, gw, backend); err != nil {
		return nil, err
	}

	if err := registerHealthChecks(stack, cfg); err != nil {
		return nil, fmt.Errorf("register health checks: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:        cfg,
		Monitoring:    stack.Monitoring,
		Jobs:          stack.Scheduler,
		Notifications: stack.Notifications,
		Preferences:   stack.Preferences,
		Audit:         stack.Audit,
		RateLimiter:   stack.RateLimiter,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func (s *runtimeStack) buildServices(cfg *app.Config, gw *gateways, locker cache.Locker) error {
	var err error

	s.Audit, err = services.NewAuditService(s.DB)
	if err != nil {
		return fmt.Errorf("initialise audit service: %w", err)
	}
	s.Notifications, err = services.NewNotificationService(s.DB)
	if err != nil {
		return fmt.Errorf("initialise notification service: %w", err)
	}
	s.Preferences, err = services.NewUserPreferencesService(s.DB, s.Audit)
	if err != nil {
		return fmt.Errorf("initialise preferences service: %w", err)
	}

	dispatchOpts := []services.DispatchOption{
		services.WithRetryPolicy(cfg.Retry.RetryPolicy()),
		services.WithBatchSize(cfg.Jobs.DispatchBatchSize),
		services.WithDispatchAudit(s.Audit),
	}

	var svcs maintenance.Services
	if svcs.Push, err = services.NewPushDispatchService(s.DB, gw.Push, dispatchOpts...); err != nil {
		return fmt.Errorf("initialise push dispatcher: %w", err)
	}
	if svcs.SMS, err = services.NewSMSDispatchService(s.DB, gw.SMS, dispatchOpts...); err != nil {
		return fmt.Errorf("initialise sms dispatcher: %w", err)
	}
	if svcs.Email, err = services.NewEmailDispatchService(s.DB, gw.Mailer, dispatchOpts...); err != nil {
		return fmt.Errorf("initialise email dispatcher: %w", err)
	}
	if svcs.Suggestions, err = services.NewSuggestionService(s.DB, s.Notifications, cfg.Jobs.MatchSuggestions.SuggestionOptions()...); err != nil {
		return fmt.Errorf("initialise suggestion generator: %w", err)
	}
	if svcs.Retention, err = services.NewRetentionService(s.DB, services.WithRetentionWindow(cfg.Jobs.RetentionSweep.Window)); err != nil {
		return fmt.Errorf("initialise retention sweeper: %w", err)
	}
	if svcs.PreferenceSync, err = services.NewPreferenceSyncService(s.DB, services.WithPreferenceSyncAudit(s.Audit)); err != nil {
		return fmt.Errorf("initialise preference synchronizer: %w", err)
	}
	svcs.Audit = s.Audit
	svcs.AuditRetentionDays = cfg.Jobs.AuditRetention.Days

	s.Scheduler = maintenance.NewScheduler(maintenance.WithLocker(locker, cfg.Jobs.LockTTL))
	if err := maintenance.RegisterStandardJobs(s.Scheduler, svcs, cfg.Jobs.Specs()); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}
	return nil
}

func buildGateways(cfg *app.Config) (*gateways, error) {
	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}

	pushCfg := cfg.Gateways.Push
	smsCfg := cfg.Gateways.SMS
	return &gateways{
		Push:   push.Throttled(push.Retrying(push.NewLogSender(), pushCfg.RetryPolicy()), pushCfg.RateLimit, pushCfg.Burst),
		SMS:    sms.Throttled(sms.Retrying(sms.NewLogSender(), smsCfg.RetryPolicy()), smsCfg.RateLimit, smsCfg.Burst),
		Mailer: mailer,
	}, nil
}

func registerHealthChecks(stack *runtimeStack, cfg *app.Config) error {
	health := stack.Monitoring.Health()
	health.RegisterLiveness(monitoring.NewCheck("process", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	health.RegisterReadiness(checks.Database(stack.DB, 0))
	health.RegisterReadiness(checks.Dispatch(stack.DB, cfg.Monitoring.Health.MaxBacklog))

	var redis checks.Pinger
	if stack.Redis != nil {
		redis = stack.Redis
	}
	health.RegisterReadiness(checks.Cache(redis, cfg.Cache.Redis.Enabled, 0))

	for _, job := range stack.Scheduler.Jobs() {
		health.RegisterReadiness(checks.Job(job.Name, cfg.Monitoring.Health.JobsMaxAge))
	}

	return stack.Monitoring.Register(checks.BacklogCollector(stack.DB, stack.Monitoring.Namespace()))
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Scheduler != nil {
		stopCtx := s.Scheduler.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			log.Warn("scheduler shutdown timed out; jobs still running")
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.Connection()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndIndex(db); err != nil {
		closeDatabase(db, logger.WithModule("database"))
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", defaultIfEmpty(dbCfg.Driver, "sqlite")))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
