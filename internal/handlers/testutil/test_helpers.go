package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/matchdispatch/internal/api"
	"github.com/charlesng35/matchdispatch/internal/app"
	"github.com/charlesng35/matchdispatch/internal/app/maintenance"
	sharedtestutil "github.com/charlesng35/matchdispatch/internal/database/testutil"
	"github.com/charlesng35/matchdispatch/internal/models"
	"github.com/charlesng35/matchdispatch/internal/monitoring"
	"github.com/charlesng35/matchdispatch/internal/monitoring/checks"
	"github.com/charlesng35/matchdispatch/internal/services"
	"github.com/charlesng35/matchdispatch/pkg/response"
)

// Env encapsulates a fully-wired ops API backed by an in-memory database for handler tests.
type Env struct {
	T          *testing.T
	DB         *gorm.DB
	Router     *gin.Engine
	Config     *app.Config
	Monitoring *monitoring.Module
	Scheduler  *maintenance.Scheduler
}

// EnvOption adjusts the configuration before the router is built.
type EnvOption func(*app.Config)

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithDispatchIndexes())

	cfg := &app.Config{
		Server: app.ServerConfig{Address: "127.0.0.1"},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true, JobsMaxAge: time.Hour, MaxBacklog: 100},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	module, err := monitoring.NewModule(monitoring.Options{DisableGoCollector: true, DisableProcessCollector: true})
	require.NoError(t, err)
	monitoring.SetModule(module)
	module.Health().RegisterReadiness(checks.Database(db, time.Second))
	module.Health().RegisterReadiness(checks.Dispatch(db, cfg.Monitoring.Health.MaxBacklog))

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)
	notifications, err := services.NewNotificationService(db)
	require.NoError(t, err)
	prefs, err := services.NewUserPreferencesService(db, audit)
	require.NoError(t, err)

	scheduler := maintenance.NewScheduler()
	require.NoError(t, scheduler.Register(maintenance.Job{
		Name:     maintenance.JobRetentionSweep,
		Schedule: "30 3 * * *",
		Run:      func(context.Context) (string, error) { return "ok", nil },
	}))
	for _, job := range scheduler.Jobs() {
		module.Health().RegisterReadiness(checks.Job(job.Name, cfg.Monitoring.Health.JobsMaxAge))
	}

	router, err := api.NewRouter(api.Dependencies{
		Config:        cfg,
		Monitoring:    module,
		Jobs:          scheduler,
		Notifications: notifications,
		Preferences:   prefs,
		Audit:         audit,
	})
	require.NoError(t, err)

	return &Env{
		T:          t,
		DB:         db,
		Router:     router,
		Config:     cfg,
		Monitoring: module,
		Scheduler:  scheduler,
	}
}

// CreateUser inserts a member with the supplied notification preferences JSON (empty for none).
func (e *Env) CreateUser(id, notificationPrefs string) models.User {
	e.T.Helper()

	user := models.User{
		BaseModel: models.BaseModel{ID: id},
		Name:      id,
		Role:      models.RoleUser,
		IsActive:  true,
	}
	if notificationPrefs != "" {
		user.NotificationPreferences = datatypes.JSON(notificationPrefs)
	}
	require.NoError(e.T, e.DB.Create(&user).Error)
	return user
}

// CreateNotification inserts a pending notification for userID.
func (e *Env) CreateNotification(userID, notificationType string) models.Notification {
	e.T.Helper()

	n := models.Notification{
		UserID:   userID,
		Type:     notificationType,
		Title:    "Title",
		Body:     "Body",
		Priority: models.PriorityNormal,
		Push:     models.ChannelDelivery{State: models.DeliveryPending},
		SMS:      models.ChannelDelivery{State: models.DeliveryPending},
		Email:    models.ChannelDelivery{State: models.DeliveryPending},
	}
	require.NoError(e.T, e.DB.Create(&n).Error)
	return n
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding automatically.
func (e *Env) Request(method, path string, body any) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
