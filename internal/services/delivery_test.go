package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/matchdispatch/internal/models"
	"github.com/charlesng35/matchdispatch/internal/monitoring"
)

func TestRetryPolicyBackoff(t *testing.T) {
	policy := DefaultRetryPolicy()

	require.Equal(t, time.Minute, policy.Backoff(1))
	require.Equal(t, 2*time.Minute, policy.Backoff(2))
	require.Equal(t, 4*time.Minute, policy.Backoff(3))
	require.Equal(t, 8*time.Minute, policy.Backoff(4))
	require.Equal(t, 6*time.Hour, policy.Backoff(20))
	require.Equal(t, time.Minute, policy.Backoff(0))
}

func TestRetryPolicyWithDefaults(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Hour, MaxDelay: time.Minute}.withDefaults()

	require.Equal(t, 5, policy.MaxAttempts)
	require.Equal(t, time.Hour, policy.MaxDelay)
	require.Equal(t, 5*time.Minute, policy.ClaimTTL)
	require.Equal(t, time.Hour, policy.Backoff(3))
}

func TestClaimIsExclusiveUntilLeaseExpires(t *testing.T) {
	db := openServiceTestDB(t)
	createUser(t, db, "user-1", withPushToken("token-1"))
	n := createNotification(t, db, "user-1", models.NotificationLike)

	svc, err := NewPushDispatchService(db, &fakePushSender{}, WithDispatchClock(fixedClock(testNow)))
	require.NoError(t, err)
	d := svc.dispatcher
	ctx := context.Background()

	_, ok, err := d.claim(ctx, n.ID, testNow)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = d.claim(ctx, n.ID, testNow.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, ok, "a live lease blocks a second claim")

	row := reloadNotification(t, db, n.ID)
	require.Equal(t, models.DeliveryInFlight, row.Push.State)
	require.NotNil(t, row.Push.ClaimedUntil)
	require.NotEmpty(t, row.Push.ClaimToken)

	// Another run selecting while the lease is live does not see the row.
	stats, err := svc.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Selected)

	_, ok, err = d.claim(ctx, n.ID, testNow.Add(DefaultRetryPolicy().ClaimTTL+time.Second))
	require.NoError(t, err)
	require.True(t, ok, "an expired lease can be taken over")
}

func TestMarkDeliveredWritesOnce(t *testing.T) {
	db := openServiceTestDB(t)
	createUser(t, db, "user-1", withPushToken("token-1"))
	n := createNotification(t, db, "user-1", models.NotificationLike)

	svc, err := NewPushDispatchService(db, &fakePushSender{}, WithDispatchClock(fixedClock(testNow)))
	require.NoError(t, err)
	d := svc.dispatcher
	ctx := context.Background()

	ok, err := d.markDelivered(ctx, n.ID, "", 1)
	require.NoError(t, err)
	require.False(t, ok, "unclaimed rows are never marked")

	token, ok, err := d.claim(ctx, n.ID, testNow)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.markDelivered(ctx, n.ID, token, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.markDelivered(ctx, n.ID, token, 2)
	require.NoError(t, err)
	require.False(t, ok)

	row := reloadNotification(t, db, n.ID)
	require.True(t, row.Push.Sent)
	require.Equal(t, 1, row.Push.Attempts)
}

func TestConcurrentRunsDeliverOnce(t *testing.T) {
	db := openServiceTestDB(t)
	createUser(t, db, "user-1", withPushToken("token-1"))
	n := createNotification(t, db, "user-1", models.NotificationMatch)

	sender := &fakePushSender{}
	first, err := NewPushDispatchService(db, sender, WithDispatchClock(fixedClock(testNow)))
	require.NoError(t, err)
	second, err := NewPushDispatchService(db, sender, WithDispatchClock(fixedClock(testNow)))
	require.NoError(t, err)

	// The second dispatcher claims inside the first one's send.
	var nested DispatchStats
	sender.onSend = func() {
		sender.onSend = nil
		nested, err = second.Run(context.Background())
	}

	stats, runErr := first.Run(context.Background())
	require.NoError(t, runErr)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Delivered)
	require.Zero(t, nested.Selected)
	require.Len(t, sender.Calls(), 1)
	require.True(t, reloadNotification(t, db, n.ID).Push.Sent)
}

func TestStaleLeaseHolderCannotWrite(t *testing.T) {
	db := openServiceTestDB(t)
	createUser(t, db, "user-1", withPushToken("token-1"))
	n := createNotification(t, db, "user-1", models.NotificationLike)

	svc, err := NewPushDispatchService(db, &fakePushSender{}, WithDispatchClock(fixedClock(testNow)))
	require.NoError(t, err)
	d := svc.dispatcher
	ctx := context.Background()

	stale, ok, err := d.claim(ctx, n.ID, testNow)
	require.NoError(t, err)
	require.True(t, ok)

	current, ok, err := d.claim(ctx, n.ID, testNow.Add(DefaultRetryPolicy().ClaimTTL+time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, stale, current)

	ok, err = d.markDelivered(ctx, n.ID, stale, 1)
	require.NoError(t, err)
	require.False(t, ok)

	result, err := d.markFailed(ctx, &n, stale, 1, errGatewayDown)
	require.NoError(t, err)
	require.Equal(t, monitoring.DeliveryResultConflict, result)

	row := reloadNotification(t, db, n.ID)
	require.Equal(t, models.DeliveryInFlight, row.Push.State)
	require.Zero(t, row.Push.Attempts)

	ok, err = d.markDelivered(ctx, n.ID, current, 1)
	require.NoError(t, err)
	require.True(t, ok)

	row = reloadNotification(t, db, n.ID)
	require.True(t, row.Push.Sent)
	require.Empty(t, row.Push.ClaimToken)
}

func TestSkippedRowsDoNotBlockLaterPages(t *testing.T) {
	db := openServiceTestDB(t)
	createUser(t, db, "no-token")
	createUser(t, db, "reachable", withPushToken("tok"))
	for i := 0; i < 3; i++ {
		createNotification(t, db, "no-token", models.NotificationLike, createdAt(testNow.Add(-time.Duration(10-i)*time.Hour)))
	}
	deliverable := createNotification(t, db, "reachable", models.NotificationMatch, createdAt(testNow.Add(-time.Hour)))

	sender := &fakePushSender{}
	svc, err := NewPushDispatchService(db, sender, WithBatchSize(3), WithDispatchClock(fixedClock(testNow)))
	require.NoError(t, err)

	stats, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, stats.Selected)
	require.Equal(t, 3, stats.Skipped)
	require.Equal(t, 1, stats.Delivered)

	require.Len(t, sender.Calls(), 1)
	require.Equal(t, "tok", sender.Calls()[0].Token)
	require.True(t, reloadNotification(t, db, deliverable.ID).Push.Sent)
}

func TestContendedClaimIsLeftForNextRun(t *testing.T) {
	db := openServiceTestDB(t)
	createUser(t, db, "user-1", withPushToken("token-1"))
	n := createNotification(t, db, "user-1", models.NotificationLike)

	busy := 0
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:busy_claim", func(tx *gorm.DB) {
		if tx.Statement.Table == "notifications" && busy == 0 {
			busy++
			_ = tx.AddError(errors.New("database is locked (5) (SQLITE_BUSY)"))
		}
	}))

	sender := &fakePushSender{}
	svc, err := NewPushDispatchService(db, sender, WithDispatchClock(fixedClock(testNow)))
	require.NoError(t, err)

	stats, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Conflicts)
	require.Zero(t, stats.Errors)
	require.Empty(t, sender.Calls())

	stats, err = svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Delivered)
	require.True(t, reloadNotification(t, db, n.ID).Push.Sent)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	value := strings.Repeat("a", maxLastErrorLength-1) + "é"

	got := truncate(value, maxLastErrorLength)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, strings.Repeat("a", maxLastErrorLength-1), got)

	require.Equal(t, "short", truncate("short", maxLastErrorLength))
	require.Equal(t, "日本", truncate("日本語", 8))
}

func TestLongMultibyteErrorIsStoredValid(t *testing.T) {
	db := openServiceTestDB(t)
	createUser(t, db, "user-1", withPushToken("token-1"))
	n := createNotification(t, db, "user-1", models.NotificationLike)

	sender := &fakePushSender{failures: map[string]error{
		"token-1": errors.New(strings.Repeat("x", maxLastErrorLength-1) + "é failure"),
	}}
	svc, err := NewPushDispatchService(db, sender, WithDispatchClock(fixedClock(testNow)))
	require.NoError(t, err)

	stats, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)

	row := reloadNotification(t, db, n.ID)
	require.Equal(t, 1, row.Push.Attempts)
	require.True(t, utf8.ValidString(row.Push.LastError))
	require.LessOrEqual(t, len(row.Push.LastError), maxLastErrorLength)
}
