package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/matchdispatch/internal/handlers"
)

func registerJobRoutes(api *gin.RouterGroup, handler *handlers.JobsHandler) {
	if api == nil || handler == nil {
		return
	}

	api.GET("/jobs", handler.List)
}
