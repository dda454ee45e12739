// Package sms delivers text messages through an SMS gateway.
package sms

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/charlesng35/matchdispatch/pkg/gateway"
	"github.com/charlesng35/matchdispatch/pkg/logger"
)

// MaxLength is the longest text forwarded to the gateway; longer texts are truncated.
const MaxLength = 480

// ErrInvalidNumber is returned for recipients that are not dialable numbers.
// Senders return it wrapped with backoff.Permanent so it is never retried in-call.
var ErrInvalidNumber = errors.New("sms: invalid phone number")

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// Sender delivers one text message to one phone number.
type Sender interface {
	Send(ctx context.Context, phone, text string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, phone, text string) error

func (f SenderFunc) Send(ctx context.Context, phone, text string) error {
	return f(ctx, phone, text)
}

// NormalizeNumber strips common separators from phone and validates what remains.
func NormalizeNumber(phone string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
	if !phonePattern.MatchString(cleaned) {
		return "", ErrInvalidNumber
	}
	return cleaned, nil
}

// Compose renders the message text for a notification title and body.
func Compose(title, body string) string {
	title = strings.TrimSpace(title)
	text := body
	if title != "" {
		text = title + ": " + body
	}
	if r := []rune(text); len(r) > MaxLength {
		text = string(r[:MaxLength])
	}
	return text
}

// LogSender is a mock gateway that records messages in the log.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender returns a LogSender writing to the sms module logger.
func NewLogSender() *LogSender {
	return &LogSender{log: logger.ForChannel("sms")}
}

func (s *LogSender) Send(ctx context.Context, phone, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	number, err := NormalizeNumber(phone)
	if err != nil {
		return backoff.Permanent(err)
	}
	s.log.Info("sms delivered",
		zap.String("phone", maskNumber(number)),
		zap.Int("length", len([]rune(text))),
	)
	return nil
}

// Throttled limits the rate at which sends reach next.
func Throttled(next Sender, rps float64, burst int) Sender {
	limiter := gateway.NewLimiter(rps, burst)
	if limiter == nil {
		return next
	}
	return SenderFunc(func(ctx context.Context, phone, text string) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		return next.Send(ctx, phone, text)
	})
}

// Retrying retries transient failures of next within a single Send call.
func Retrying(next Sender, policy gateway.RetryPolicy) Sender {
	if policy.MaxRetries == 0 {
		return next
	}
	return SenderFunc(func(ctx context.Context, phone, text string) error {
		return gateway.Retry(ctx, policy, func(ctx context.Context) error {
			return next.Send(ctx, phone, text)
		})
	})
}

func maskNumber(number string) string {
	if len(number) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
