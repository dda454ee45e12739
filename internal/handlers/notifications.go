package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/matchdispatch/internal/services"
	"github.com/charlesng35/matchdispatch/pkg/errors"
	"github.com/charlesng35/matchdispatch/pkg/response"
)

// NotificationHandler exposes a user's notifications and their per-channel delivery state.
type NotificationHandler struct {
	service *services.NotificationService
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(service *services.NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, errors.New("NOTIFICATIONS_UNAVAILABLE", "notification service is required", http.StatusInternalServerError)
	}
	return &NotificationHandler{service: service}, nil
}

// List returns notifications for the user in the path.
// GET /api/users/:id/notifications?type=&unread=&limit=&offset=
func (h *NotificationHandler) List(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		response.Error(c, errors.NewBadRequest("user id is required"))
		return
	}

	limit := queryInt(c, "limit", 25)
	offset := queryInt(c, "offset", 0)

	items, err := h.service.ListForUser(c.Request.Context(), services.ListNotificationsInput{
		UserID:     userID,
		Type:       c.Query("type"),
		UnreadOnly: strings.EqualFold(c.Query("unread"), "true"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paged(c, items, response.WindowMeta(limit, offset, len(items)))
}

// Get returns one notification owned by the user.
// GET /api/users/:id/notifications/:notificationID
func (h *NotificationHandler) Get(c *gin.Context) {
	dto, err := h.service.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")), strings.TrimSpace(c.Param("notificationID")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}
