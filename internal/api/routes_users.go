package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/matchdispatch/internal/handlers"
)

func registerUserRoutes(api *gin.RouterGroup, notifications *handlers.NotificationHandler, prefs *handlers.PreferencesHandler) {
	users := api.Group("/users/:id")
	{
		users.GET("/notifications", notifications.List)
		users.GET("/notifications/:notificationID", notifications.Get)

		users.GET("/preferences", prefs.GetMatch)
		users.GET("/preferences/notifications", prefs.GetNotification)
		users.PUT("/preferences/notifications", prefs.UpdateNotification)
	}
}
