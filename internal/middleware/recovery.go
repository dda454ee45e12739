package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/charlesng35/matchdispatch/pkg/errors"
	"github.com/charlesng35/matchdispatch/pkg/response"
)

// Recovery turns a handler panic into a 500 envelope and logs it with the
// request ID and stack. http.ErrAbortHandler is re-raised so net/http can
// drop the connection as it intends.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			RequestLogger(c).Error("handler panic",
				zap.String("route", c.FullPath()),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			response.Abort(c, apperrors.ErrInternalServer)
		}()
		c.Next()
	}
}

// NotFoundHandler answers unknown routes with the JSON error envelope.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, apperrors.NotFound(apperrors.ErrNotFound.Code, "route "+c.Request.Method+" "+c.Request.URL.Path+" not found"))
}
