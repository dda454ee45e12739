// Package push delivers mobile push notifications through a gateway.
package push

import (
	"context"
	"errors"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/charlesng35/matchdispatch/pkg/gateway"
	"github.com/charlesng35/matchdispatch/pkg/logger"
)

// ErrInvalidToken is returned when the gateway rejects a device token. Senders
// return it wrapped with backoff.Permanent so it is never retried in-call.
var ErrInvalidToken = errors.New("push: invalid device token")

// Sender delivers a single push message to one device token.
type Sender interface {
	Send(ctx context.Context, token, title, body string, data map[string]any) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, token, title, body string, data map[string]any) error

func (f SenderFunc) Send(ctx context.Context, token, title, body string, data map[string]any) error {
	return f(ctx, token, title, body, data)
}

// LogSender is a mock gateway that records deliveries in the log.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender returns a LogSender writing to the push module logger.
func NewLogSender() *LogSender {
	return &LogSender{log: logger.ForChannel("push")}
}

func (s *LogSender) Send(ctx context.Context, token, title, body string, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(token) == "" {
		return backoff.Permanent(ErrInvalidToken)
	}
	s.log.Info("push delivered",
		zap.String("token", mask(token)),
		zap.String("title", title),
		zap.Int("body_length", len(body)),
		zap.Int("data_keys", len(data)),
	)
	return nil
}

// Throttled limits the rate at which sends reach next.
func Throttled(next Sender, rps float64, burst int) Sender {
	limiter := gateway.NewLimiter(rps, burst)
	if limiter == nil {
		return next
	}
	return SenderFunc(func(ctx context.Context, token, title, body string, data map[string]any) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		return next.Send(ctx, token, title, body, data)
	})
}

// Retrying retries transient failures of next within a single Send call.
func Retrying(next Sender, policy gateway.RetryPolicy) Sender {
	if policy.MaxRetries == 0 {
		return next
	}
	return SenderFunc(func(ctx context.Context, token, title, body string, data map[string]any) error {
		return gateway.Retry(ctx, policy, func(ctx context.Context) error {
			return next.Send(ctx, token, title, body, data)
		})
	})
}

func mask(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "…" + token[len(token)-4:]
}
