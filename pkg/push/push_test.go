package push

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/charlesng35/matchdispatch/pkg/gateway"
	"github.com/charlesng35/matchdispatch/pkg/logger"
)

func TestLogSenderLogsDelivery(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	logger.Replace(zap.New(core))
	t.Cleanup(func() { logger.Replace(zap.NewNop()) })

	sender := NewLogSender()
	err := sender.Send(context.Background(), "device-token-abcdef", "New match", "Say hi", map[string]any{"matchId": "m1"})
	require.NoError(t, err)

	entries := recorded.FilterMessage("push delivered").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "push", fields["channel"])
	require.Equal(t, "devi…cdef", fields["token"])
	require.NotContains(t, fields["token"], "token-ab")
}

func TestLogSenderRejectsEmptyToken(t *testing.T) {
	err := NewLogSender().Send(context.Background(), "  ", "t", "b", nil)
	require.ErrorIs(t, err, ErrInvalidToken)
	var permanent *backoff.PermanentError
	require.ErrorAs(t, err, &permanent)
}

func TestRetryingRetriesTransientFailures(t *testing.T) {
	calls := 0
	flaky := SenderFunc(func(context.Context, string, string, string, map[string]any) error {
		calls++
		if calls == 1 {
			return errors.New("503")
		}
		return nil
	})

	sender := Retrying(flaky, gateway.RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond})
	require.NoError(t, sender.Send(context.Background(), "tok", "t", "b", nil))
	require.Equal(t, 2, calls)
}

func TestRetryingDoesNotRetryInvalidToken(t *testing.T) {
	calls := 0
	rejecting := SenderFunc(func(context.Context, string, string, string, map[string]any) error {
		calls++
		return backoff.Permanent(ErrInvalidToken)
	})

	sender := Retrying(rejecting, gateway.RetryPolicy{MaxRetries: 4, InitialInterval: time.Millisecond})
	require.ErrorIs(t, sender.Send(context.Background(), "tok", "t", "b", nil), ErrInvalidToken)
	require.Equal(t, 1, calls)
}

func TestThrottledPassesThrough(t *testing.T) {
	var got []string
	inner := SenderFunc(func(_ context.Context, token, _, _ string, _ map[string]any) error {
		got = append(got, token)
		return nil
	})

	sender := Throttled(inner, 1000, 2)
	require.NoError(t, sender.Send(context.Background(), "a", "", "", nil))
	require.NoError(t, sender.Send(context.Background(), "b", "", "", nil))
	require.Equal(t, []string{"a", "b"}, got)

	require.NotNil(t, Throttled(inner, 0, 0))
}
