package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/matchdispatch/internal/app"
	"github.com/charlesng35/matchdispatch/internal/handlers"
	"github.com/charlesng35/matchdispatch/internal/middleware"
	"github.com/charlesng35/matchdispatch/internal/monitoring"
	"github.com/charlesng35/matchdispatch/internal/services"
)

// Dependencies bundles everything the ops router serves.
type Dependencies struct {
	Config        *app.Config
	Monitoring    *monitoring.Module
	Jobs          handlers.JobLister
	Notifications *services.NotificationService
	Preferences   *services.UserPreferencesService
	Audit         *services.AuditService
	// RateLimiter is shared across instances when backed by a cache; nil
	// falls back to an in-process limiter.
	RateLimiter middleware.Limiter
}

// NewRouter builds the Gin engine, wires middleware and registers the ops routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.Notifications == nil || deps.Preferences == nil || deps.Audit == nil {
		return nil, fmt.Errorf("notification, preference and audit services must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	if limit := cfg.Server.RateLimit; limit.Enabled {
		limiter := deps.RateLimiter
		if limiter == nil {
			limiter = middleware.NewLimiter(nil, limit.Requests, limit.Window)
		}
		r.Use(middleware.RateLimit(limiter))
	}

	registerHealthRoutes(r, cfg, deps.Monitoring)

	metricsEndpoint := ""
	if cfg.Monitoring.Prometheus.Enabled && deps.Monitoring != nil {
		metricsEndpoint = strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if metricsEndpoint == "" {
			metricsEndpoint = "/metrics"
		}
		r.GET(metricsEndpoint, gin.WrapH(deps.Monitoring.Handler()))
	}

	api := r.Group("/api")

	registerJobRoutes(api, handlers.NewJobsHandler(deps.Jobs, metricsEndpoint))

	notificationHandler, err := handlers.NewNotificationHandler(deps.Notifications)
	if err != nil {
		return nil, err
	}
	preferencesHandler, err := handlers.NewPreferencesHandler(deps.Preferences)
	if err != nil {
		return nil, err
	}
	registerUserRoutes(api, notificationHandler, preferencesHandler)

	auditHandler, err := handlers.NewAuditHandler(deps.Audit)
	if err != nil {
		return nil, err
	}
	registerAuditRoutes(api, auditHandler)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
