package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/matchdispatch/internal/app/maintenance"
	"github.com/charlesng35/matchdispatch/internal/monitoring"
	"github.com/charlesng35/matchdispatch/pkg/response"
)

// JobLister reports the jobs registered with the scheduler.
type JobLister interface {
	Jobs() []maintenance.JobInfo
}

// JobsHandler surfaces scheduled job state for operators.
type JobsHandler struct {
	jobs            JobLister
	metricsEndpoint string
}

// NewJobsHandler constructs a jobs handler. metricsEndpoint is empty when Prometheus is disabled.
func NewJobsHandler(jobs JobLister, metricsEndpoint string) *JobsHandler {
	return &JobsHandler{jobs: jobs, metricsEndpoint: strings.TrimSpace(metricsEndpoint)}
}

type jobView struct {
	Name     string                 `json:"name"`
	Schedule string                 `json:"schedule"`
	Next     *time.Time             `json:"next,omitempty"`
	Prev     *time.Time             `json:"prev,omitempty"`
	LastRun  *monitoring.JobSummary `json:"last_run,omitempty"`
}

// List returns every registered job with its schedule and last recorded run,
// plus the aggregated delivery summary.
func (h *JobsHandler) List(c *gin.Context) {
	var infos []maintenance.JobInfo
	if h.jobs != nil {
		infos = h.jobs.Jobs()
	}

	views := make([]jobView, 0, len(infos))
	for _, info := range infos {
		view := jobView{Name: info.Name, Schedule: info.Schedule}
		if !info.Next.IsZero() {
			next := info.Next.UTC()
			view.Next = &next
		}
		if !info.Prev.IsZero() {
			prev := info.Prev.UTC()
			view.Prev = &prev
		}
		if summary, ok := monitoring.JobSnapshot(info.Name); ok {
			view.LastRun = &summary
		}
		views = append(views, view)
	}

	snapshot := monitoring.Snapshot()
	response.Success(c, http.StatusOK, gin.H{
		"jobs":        views,
		"channels":    snapshot.Channels,
		"suggestions": snapshot.Suggestions,
		"retention":   snapshot.Retention,
		"prometheus": gin.H{
			"enabled":  h.metricsEndpoint != "",
			"endpoint": h.metricsEndpoint,
		},
	})
}
