package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/matchdispatch/internal/models"
)

func TestNotificationServiceCreateAndList(t *testing.T) {
	db := openServiceTestDB(t)
	createUser(t, db, "user-123")

	svc, err := NewNotificationService(db)
	require.NoError(t, err)

	ctx := context.Background()
	dto, err := svc.Create(ctx, CreateNotificationInput{
		UserID:   "user-123",
		Type:     models.NotificationMatch,
		Title:    "It's a match",
		Body:     "You and Ravi liked each other",
		Priority: "HIGH",
		Data:     map[string]any{"match_id": "m-1"},
	})
	require.NoError(t, err)
	require.Equal(t, models.NotificationMatch, dto.Type)
	require.Equal(t, models.PriorityHigh, dto.Priority)
	require.Equal(t, "m-1", dto.Data["match_id"])
	for _, ch := range models.Channels {
		require.Equal(t, models.DeliveryPending, dto.Delivery[ch].State)
		require.False(t, dto.Delivery[ch].Sent)
	}

	_, err = svc.Create(ctx, CreateNotificationInput{UserID: "user-123", Type: models.NotificationLike})
	require.NoError(t, err)

	items, err := svc.ListForUser(ctx, ListNotificationsInput{UserID: "user-123", Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 2)

	items, err = svc.ListForUser(ctx, ListNotificationsInput{UserID: "user-123", Type: models.NotificationMatch})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, dto.ID, items[0].ID)
}

func TestNotificationServiceCreateValidates(t *testing.T) {
	db := openServiceTestDB(t)
	svc, err := NewNotificationService(db)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.Create(ctx, CreateNotificationInput{Type: models.NotificationLike})
	require.Error(t, err)
	_, err = svc.Create(ctx, CreateNotificationInput{UserID: "u"})
	require.Error(t, err)
	_, err = svc.Create(ctx, CreateNotificationInput{UserID: "u", Type: models.NotificationLike, Priority: "critical"})
	require.Error(t, err)
}

func TestNotificationServiceMarkRead(t *testing.T) {
	db := openServiceTestDB(t)
	createUser(t, db, "user-1")
	first := createNotification(t, db, "user-1", models.NotificationLike)
	createNotification(t, db, "user-1", models.NotificationVisit)

	svc, err := NewNotificationService(db)
	require.NoError(t, err)
	ctx := context.Background()

	dto, err := svc.MarkRead(ctx, "user-1", first.ID)
	require.NoError(t, err)
	require.True(t, dto.IsRead)
	require.NotNil(t, dto.ReadAt)

	unread, err := svc.ListForUser(ctx, ListNotificationsInput{UserID: "user-1", UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)

	updated, err := svc.MarkAllRead(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), updated)

	unread, err = svc.ListForUser(ctx, ListNotificationsInput{UserID: "user-1", UnreadOnly: true})
	require.NoError(t, err)
	require.Empty(t, unread)

	_, err = svc.MarkRead(ctx, "someone-else", first.ID)
	require.ErrorIs(t, err, ErrNotificationNotFound)
}

func TestNotificationServiceGetAndDelete(t *testing.T) {
	db := openServiceTestDB(t)
	createUser(t, db, "user-1")
	n := createNotification(t, db, "user-1", models.NotificationMessage)
	require.NoError(t, db.Create(&models.DeliveryAttempt{NotificationID: n.ID, Channel: models.ChannelPush, AttemptNumber: 1}).Error)

	svc, err := NewNotificationService(db)
	require.NoError(t, err)
	ctx := context.Background()

	dto, err := svc.Get(ctx, "user-1", n.ID)
	require.NoError(t, err)
	require.Equal(t, n.ID, dto.ID)

	require.ErrorIs(t, svc.Delete(ctx, "other", n.ID), ErrNotificationNotFound)
	require.NoError(t, svc.Delete(ctx, "user-1", n.ID))

	_, err = svc.Get(ctx, "user-1", n.ID)
	require.ErrorIs(t, err, ErrNotificationNotFound)

	var attempts int64
	require.NoError(t, db.Model(&models.DeliveryAttempt{}).Count(&attempts).Error)
	require.Zero(t, attempts)
}
