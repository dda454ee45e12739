package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/matchdispatch/internal/database/testutil"
	"github.com/charlesng35/matchdispatch/internal/models"
)

var testNow = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// mutableClock lets a test move time forward between runs.
type mutableClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMutableClock(t time.Time) *mutableClock {
	return &mutableClock{now: t}
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mutableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithDispatchIndexes())
}

type userOption func(*models.User)

func withPushToken(token string) userOption {
	return func(u *models.User) { u.PushToken = token }
}

func withPhone(phone string) userOption {
	return func(u *models.User) { u.PhoneNumber = phone }
}

func withEmail(email string) userOption {
	return func(u *models.User) { u.Email = email }
}

func withRole(role string) userOption {
	return func(u *models.User) { u.Role = role }
}

func withPreferences(raw string) userOption {
	return func(u *models.User) { u.Preferences = datatypes.JSON(raw) }
}

func withNotificationPreferences(raw string) userOption {
	return func(u *models.User) { u.NotificationPreferences = datatypes.JSON(raw) }
}

func withProfile(religion, location string, completion int) userOption {
	return func(u *models.User) {
		u.Religion = religion
		u.Location = location
		u.ProfileCompletion = completion
	}
}

func withBirthYear(year int) userOption {
	return func(u *models.User) {
		dob := time.Date(year, time.June, 15, 0, 0, 0, 0, time.UTC)
		u.DateOfBirth = &dob
	}
}

func withCreatedAt(ts time.Time) userOption {
	return func(u *models.User) { u.CreatedAt = ts }
}

func withLastSuggestion(ts time.Time) userOption {
	return func(u *models.User) { u.LastMatchSuggestionSent = &ts }
}

func createUser(t *testing.T, db *gorm.DB, id string, opts ...userOption) models.User {
	t.Helper()
	user := models.User{
		BaseModel: models.BaseModel{ID: id},
		Name:      id,
		Role:      models.RoleUser,
		IsActive:  true,
	}
	for _, opt := range opts {
		opt(&user)
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

type notificationOption func(*models.Notification)

func withPriority(priority string) notificationOption {
	return func(n *models.Notification) { n.Priority = priority }
}

func withTitle(title string) notificationOption {
	return func(n *models.Notification) { n.Title = title }
}

func createdAt(ts time.Time) notificationOption {
	return func(n *models.Notification) { n.CreatedAt = ts }
}

func createNotification(t *testing.T, db *gorm.DB, userID, notificationType string, opts ...notificationOption) models.Notification {
	t.Helper()
	n := models.Notification{
		UserID:   userID,
		Type:     notificationType,
		Title:    "Title",
		Body:     "Body",
		Priority: models.PriorityNormal,
		Push:     models.ChannelDelivery{State: models.DeliveryPending},
		SMS:      models.ChannelDelivery{State: models.DeliveryPending},
		Email:    models.ChannelDelivery{State: models.DeliveryPending},
	}
	for _, opt := range opts {
		opt(&n)
	}
	require.NoError(t, db.Create(&n).Error)
	return n
}

func reloadNotification(t *testing.T, db *gorm.DB, id string) models.Notification {
	t.Helper()
	var n models.Notification
	require.NoError(t, db.Where("id = ?", id).First(&n).Error)
	return n
}

type pushCall struct {
	Token string
	Title string
	Body  string
	Data  map[string]any
}

// fakePushSender records calls and fails for tokens listed in failures.
type fakePushSender struct {
	mu       sync.Mutex
	calls    []pushCall
	failures map[string]error
	onSend   func()
}

func (f *fakePushSender) Send(_ context.Context, token, title, body string, data map[string]any) error {
	f.mu.Lock()
	f.calls = append(f.calls, pushCall{Token: token, Title: title, Body: body, Data: data})
	err := f.failures[token]
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (f *fakePushSender) Calls() []pushCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pushCall(nil), f.calls...)
}

type smsCall struct {
	Phone string
	Text  string
}

type fakeSMSSender struct {
	mu    sync.Mutex
	calls []smsCall
	err   error
}

func (f *fakeSMSSender) Send(_ context.Context, phone, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, smsCall{Phone: phone, Text: text})
	return f.err
}

var errGatewayDown = errors.New("gateway unavailable")
