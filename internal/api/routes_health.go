package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/matchdispatch/internal/app"
	"github.com/charlesng35/matchdispatch/internal/monitoring"
	"github.com/charlesng35/matchdispatch/internal/monitoring/checks"
)

// registerHealthRoutes mounts the probes at the root and under /api:
//
//	/health               overall readiness status, no check detail
//	/health/live          liveness report
//	/health/ready         readiness report with backlog and per-job checks
//	/health/jobs/:job     readiness of one scheduled job
func registerHealthRoutes(r *gin.Engine, cfg *app.Config, mon *monitoring.Module) {
	if cfg == nil {
		return
	}

	var manager *monitoring.HealthManager
	if cfg.Monitoring.Health.Enabled && mon != nil {
		manager = mon.Health()
	}

	for _, router := range []gin.IRouter{r, r.Group("/api")} {
		health := router.Group("/health")
		if manager == nil {
			for _, path := range []string{"", "/live", "/ready", "/jobs/:job"} {
				health.GET(path, healthDisabled)
			}
			continue
		}
		probes := healthProbes{manager: manager}
		health.GET("", probes.status)
		health.GET("/live", probes.live)
		health.GET("/ready", probes.ready)
		health.GET("/jobs/:job", probes.job)
	}
}

type healthProbes struct {
	manager *monitoring.HealthManager
}

func (p healthProbes) status(c *gin.Context) {
	report := p.manager.EvaluateReadiness(c.Request.Context())
	c.JSON(reportCode(report), gin.H{
		"success":    report.Success,
		"status":     report.Status,
		"checked_at": time.Now().UTC(),
	})
}

func (p healthProbes) live(c *gin.Context) {
	writeHealthReport(c, p.manager.EvaluateLiveness(c.Request.Context()))
}

func (p healthProbes) ready(c *gin.Context) {
	writeHealthReport(c, p.manager.EvaluateReadiness(c.Request.Context()))
}

func (p healthProbes) job(c *gin.Context) {
	name := c.Param("job")
	report, ok := p.manager.ReadinessOf(c.Request.Context(), checks.JobCheckName(name))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "status": "unknown job", "job": name})
		return
	}
	writeHealthReport(c, report)
}

func healthDisabled(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "status": "disabled"})
}

// reportCode maps a report to 200 or 503; degraded counts as not ready.
func reportCode(report monitoring.HealthReport) int {
	if report.Success {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func writeHealthReport(c *gin.Context, report monitoring.HealthReport) {
	c.JSON(reportCode(report), gin.H{
		"success":    report.Success,
		"status":     report.Status,
		"checks":     report.Checks,
		"checked_at": time.Now().UTC(),
	})
}
