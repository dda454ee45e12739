package middleware

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/charlesng35/matchdispatch/pkg/errors"
	"github.com/charlesng35/matchdispatch/pkg/logger"
	"github.com/charlesng35/matchdispatch/pkg/response"
)

// RateLimit rejects requests once the limiter denies the (client IP, route) key.
// Limiter failures let the request through.
func RateLimit(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		decision, err := limiter.Allow(c.Request.Context(), rateKey(c.ClientIP(), route))
		if err != nil {
			logger.WithModule("http").Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(decision.ResetIn.Seconds())))

		if !decision.Allowed {
			response.Abort(c, apperrors.ErrRateLimit)
			return
		}
		c.Next()
	}
}

func rateKey(client, route string) string {
	return "ratelimit:" + client + "|" + route
}

// allowAll is used when rate limiting is configured off.
type allowAll struct{}

func (allowAll) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}
