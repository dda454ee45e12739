package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/matchdispatch/internal/models"
	"github.com/charlesng35/matchdispatch/internal/services"
)

func newPreferencesRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	seedUser(t, db, "user-1", `{"email":true,"push":true,"sms":false,"digest":"weekly"}`)
	seedUser(t, db, "user-2", "")

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)
	svc, err := services.NewUserPreferencesService(db, audit)
	require.NoError(t, err)
	handler, err := NewPreferencesHandler(svc)
	require.NoError(t, err)

	r := newEngine()
	r.GET("/api/users/:id/preferences", handler.GetMatch)
	r.GET("/api/users/:id/preferences/notifications", handler.GetNotification)
	r.PUT("/api/users/:id/preferences/notifications", handler.UpdateNotification)
	return r, db
}

func TestPreferencesHandlerGetNotification(t *testing.T) {
	r, _ := newPreferencesRouter(t)

	w, env := serve(t, r, http.MethodGet, "/api/users/user-1/preferences/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var prefs services.NotificationPreferences
	require.NoError(t, json.Unmarshal(env.Data, &prefs))
	require.NotNil(t, prefs.SMS)
	require.False(t, *prefs.SMS)
	require.True(t, *prefs.Push)
}

func TestPreferencesHandlerUnknownUser(t *testing.T) {
	r, _ := newPreferencesRouter(t)

	w, env := serve(t, r, http.MethodGet, "/api/users/ghost/preferences/notifications", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "USER_NOT_FOUND", env.Error.Code)
}

func TestPreferencesHandlerUpdateMergesFlags(t *testing.T) {
	r, db := newPreferencesRouter(t)

	w, env := serve(t, r, http.MethodPut, "/api/users/user-1/preferences/notifications", map[string]any{"push": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var prefs services.NotificationPreferences
	require.NoError(t, json.Unmarshal(env.Data, &prefs))
	require.False(t, *prefs.Push)
	require.True(t, *prefs.Email)
	require.False(t, *prefs.SMS)

	var user models.User
	require.NoError(t, db.Where("id = ?", "user-1").Take(&user).Error)
	var stored map[string]any
	require.NoError(t, json.Unmarshal(user.NotificationPreferences, &stored))
	require.Equal(t, "weekly", stored["digest"])
	require.Equal(t, false, stored["push"])

	var audits int64
	require.NoError(t, db.Model(&models.AuditLog{}).Where("action = ?", services.AuditActionPreferences).Count(&audits).Error)
	require.EqualValues(t, 1, audits)
}

func TestPreferencesHandlerRejectsEmptyUpdate(t *testing.T) {
	r, _ := newPreferencesRouter(t)

	w, env := serve(t, r, http.MethodPut, "/api/users/user-1/preferences/notifications", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "BAD_REQUEST", env.Error.Code)
	require.Equal(t, "one of email, push, sms is required", env.Error.Message)
	require.Len(t, env.Error.Fields, 3)
	require.Equal(t, "required_without_all", env.Error.Fields[0].Rule)

	w, _ = serve(t, r, http.MethodPut, "/api/users/user-1/preferences/notifications", "not-an-object")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPreferencesHandlerGetMatchWithoutPreferences(t *testing.T) {
	r, _ := newPreferencesRouter(t)

	w, env := serve(t, r, http.MethodGet, "/api/users/user-2/preferences", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"preferences":null}`, string(env.Data))
}
