package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/matchdispatch/internal/services"
	"github.com/charlesng35/matchdispatch/pkg/errors"
	"github.com/charlesng35/matchdispatch/pkg/response"
)

// PreferencesHandler exposes a user's matching and notification preferences.
type PreferencesHandler struct {
	prefs *services.UserPreferencesService
}

// NewPreferencesHandler constructs a preferences handler.
func NewPreferencesHandler(prefs *services.UserPreferencesService) (*PreferencesHandler, error) {
	if prefs == nil {
		return nil, errors.New("PREFERENCES_UNAVAILABLE", "preferences service is required", http.StatusInternalServerError)
	}
	return &PreferencesHandler{prefs: prefs}, nil
}

type updateNotificationPreferencesRequest struct {
	Email *bool `json:"email" validate:"required_without_all=Push SMS"`
	Push  *bool `json:"push" validate:"required_without_all=Email SMS"`
	SMS   *bool `json:"sms" validate:"required_without_all=Email Push"`
}

// GetMatch returns the stored matching preferences; data is null when none are set.
// GET /api/users/:id/preferences
func (h *PreferencesHandler) GetMatch(c *gin.Context) {
	prefs, err := h.prefs.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"preferences": prefs})
}

// GetNotification returns the per-channel opt-in flags.
// GET /api/users/:id/preferences/notifications
func (h *PreferencesHandler) GetNotification(c *gin.Context) {
	prefs, err := h.prefs.GetNotification(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, prefs)
}

// UpdateNotification merges the supplied channel flags into the stored preferences.
// PUT /api/users/:id/preferences/notifications
func (h *PreferencesHandler) UpdateNotification(c *gin.Context) {
	var body updateNotificationPreferencesRequest
	if !bindAndValidate(c, &body) {
		return
	}

	prefs, err := h.prefs.UpdateNotification(c.Request.Context(), strings.TrimSpace(c.Param("id")), services.NotificationPreferences{
		Email: body.Email,
		Push:  body.Push,
		SMS:   body.SMS,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, prefs)
}
