package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/matchdispatch/internal/models"
)

// ChannelDeliveryDTO exposes the delivery progress of one channel.
type ChannelDeliveryDTO struct {
	Sent          bool                 `json:"sent"`
	SentAt        *time.Time           `json:"sent_at,omitempty"`
	State         models.DeliveryState `json:"state"`
	Attempts      int                  `json:"attempts"`
	NextAttemptAt *time.Time           `json:"next_attempt_at,omitempty"`
	LastError     string               `json:"last_error,omitempty"`
}

// NotificationDTO represents the API-friendly notification payload.
type NotificationDTO struct {
	ID        string                                `json:"id"`
	UserID    string                                `json:"user_id"`
	Type      string                                `json:"type"`
	Title     string                                `json:"title"`
	Body      string                                `json:"body"`
	Priority  string                                `json:"priority"`
	Data      map[string]any                        `json:"data,omitempty"`
	IsRead    bool                                  `json:"is_read"`
	ReadAt    *time.Time                            `json:"read_at,omitempty"`
	Delivery  map[models.Channel]ChannelDeliveryDTO `json:"delivery"`
	CreatedAt time.Time                             `json:"created_at"`
	UpdatedAt time.Time                             `json:"updated_at"`
}

// CreateNotificationInput defines attributes required to persist a notification.
type CreateNotificationInput struct {
	UserID   string
	Type     string
	Title    string
	Body     string
	Priority string
	Data     map[string]any
}

// ListNotificationsInput defines filters for querying user notifications.
type ListNotificationsInput struct {
	UserID     string
	Type       string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationService manages notification records.
type NotificationService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	return &NotificationService{db: db, now: utcNow}, nil
}

// WithTx returns a copy of the service bound to tx.
func (s *NotificationService) WithTx(tx *gorm.DB) *NotificationService {
	cpy := *s
	cpy.db = tx
	return &cpy
}

// ListForUser returns notifications for the supplied user ordered by recency.
func (s *NotificationService) ListForUser(ctx context.Context, input ListNotificationsInput) ([]NotificationDTO, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, errors.New("notification service: user id is required")
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if t := strings.TrimSpace(input.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	if input.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var rows []models.Notification
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(max(0, input.Offset)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: list notifications: %w", err)
	}

	return mapNotificationRows(rows), nil
}

// Get returns one notification owned by the user.
func (s *NotificationService) Get(ctx context.Context, userID, notificationID string) (*NotificationDTO, error) {
	row, err := s.load(ensureContext(ctx), userID, notificationID)
	if err != nil {
		return nil, err
	}
	dto := mapNotification(*row)
	return &dto, nil
}

// Create persists a new notification with every channel pending.
func (s *NotificationService) Create(ctx context.Context, input CreateNotificationInput) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, errors.New("notification service: user id is required")
	}
	notificationType := strings.TrimSpace(input.Type)
	if notificationType == "" {
		return nil, errors.New("notification service: type is required")
	}

	priority := strings.ToLower(strings.TrimSpace(defaultIfEmpty(input.Priority, models.PriorityNormal)))
	switch priority {
	case models.PriorityNormal, models.PriorityHigh, models.PriorityUrgent:
	default:
		return nil, fmt.Errorf("notification service: unknown priority %q", input.Priority)
	}

	data, err := encodeJSON(input.Data)
	if err != nil {
		return nil, fmt.Errorf("notification service: marshal data: %w", err)
	}

	notification := models.Notification{
		UserID:   userID,
		Type:     notificationType,
		Title:    strings.TrimSpace(input.Title),
		Body:     strings.TrimSpace(input.Body),
		Data:     data,
		Priority: priority,
		Push:     models.ChannelDelivery{State: models.DeliveryPending},
		SMS:      models.ChannelDelivery{State: models.DeliveryPending},
		Email:    models.ChannelDelivery{State: models.DeliveryPending},
	}

	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return nil, fmt.Errorf("notification service: create notification: %w", err)
	}

	dto := mapNotification(notification)
	return &dto, nil
}

// MarkRead sets the notification read flag for a user.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)
	notification, err := s.load(ctx, userID, notificationID)
	if err != nil {
		return nil, err
	}

	if !notification.IsRead {
		now := s.now()
		if err := s.db.WithContext(ctx).Model(notification).
			Updates(map[string]any{
				"is_read": true,
				"read_at": now,
			}).Error; err != nil {
			return nil, fmt.Errorf("notification service: mark read: %w", err)
		}
		notification.IsRead = true
		notification.ReadAt = &now
	}

	dto := mapNotification(*notification)
	return &dto, nil
}

// MarkAllRead marks all notifications for the user as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{
			"is_read": true,
			"read_at": s.now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: mark all read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Delete removes a notification owned by the supplied user.
func (s *NotificationService) Delete(ctx context.Context, userID, notificationID string) error {
	ctx = ensureContext(ctx)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND user_id = ?", notificationID, userID).Delete(&models.Notification{})
		if result.Error != nil {
			return fmt.Errorf("notification service: delete notification: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotificationNotFound
		}
		if err := tx.Where("notification_id = ?", notificationID).Delete(&models.DeliveryAttempt{}).Error; err != nil {
			return fmt.Errorf("notification service: delete attempts: %w", err)
		}
		return nil
	})
}

func (s *NotificationService) load(ctx context.Context, userID, notificationID string) (*models.Notification, error) {
	var notification models.Notification
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("notification service: load notification: %w", err)
	}
	return &notification, nil
}

func mapNotificationRows(rows []models.Notification) []NotificationDTO {
	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items
}

func mapNotification(row models.Notification) NotificationDTO {
	delivery := make(map[models.Channel]ChannelDeliveryDTO, len(models.Channels))
	for _, ch := range models.Channels {
		d := row.Delivery(ch)
		delivery[ch] = ChannelDeliveryDTO{
			Sent:          d.Sent,
			SentAt:        d.SentAt,
			State:         d.State,
			Attempts:      d.Attempts,
			NextAttemptAt: d.NextAttemptAt,
			LastError:     d.LastError,
		}
	}

	return NotificationDTO{
		ID:        row.ID,
		UserID:    row.UserID,
		Type:      row.Type,
		Title:     row.Title,
		Body:      row.Body,
		Priority:  defaultIfEmpty(row.Priority, models.PriorityNormal),
		Data:      decodeJSON(row.Data),
		IsRead:    row.IsRead,
		ReadAt:    row.ReadAt,
		Delivery:  delivery,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}
