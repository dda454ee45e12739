package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/matchdispatch/pkg/logger"
)

const (
	// RequestIDHeader is echoed back, or generated when the caller sent none.
	RequestIDHeader = "X-Request-ID"
	requestLogKey   = "matchdispatch.request_log"
)

// Logger tags each request with an ID and writes one access log line when it
// completes. Health probes are logged at debug so orchestrator polling does
// not drown the dispatch logs.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		log := logger.WithModule("http").With(zap.String("request_id", id))
		c.Set(requestLogKey, log)

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			log.Warn("request", fields...)
		case isHealthProbe(c.Request.URL.Path):
			log.Debug("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// RequestLogger returns the request-scoped logger set by Logger, or the http
// module logger outside of it.
func RequestLogger(c *gin.Context) *zap.Logger {
	if value, ok := c.Get(requestLogKey); ok {
		if log, ok := value.(*zap.Logger); ok {
			return log
		}
	}
	return logger.WithModule("http")
}

func isHealthProbe(path string) bool {
	path = strings.TrimPrefix(path, "/api")
	return path == "/health" || strings.HasPrefix(path, "/health/")
}
