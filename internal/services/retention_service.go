package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/matchdispatch/internal/models"
	"github.com/charlesng35/matchdispatch/internal/monitoring"
	"github.com/charlesng35/matchdispatch/pkg/logger"
)

const defaultRetentionWindow = 30 * 24 * time.Hour

// RetentionTypes are the low-value notification types purged after the retention window.
var RetentionTypes = []string{
	models.NotificationLike,
	models.NotificationVisit,
	models.NotificationProfileView,
}

// RetentionStats reports what a sweep removed.
type RetentionStats struct {
	Deleted         int64     `json:"deleted"`
	AttemptsDeleted int64     `json:"attempts_deleted"`
	Cutoff          time.Time `json:"cutoff"`
}

// RetentionService purges stale low-value notifications.
type RetentionService struct {
	db     *gorm.DB
	window time.Duration
	now    func() time.Time
	log    *zap.Logger
}

// RetentionOption customises the RetentionService.
type RetentionOption func(*RetentionService)

// WithRetentionWindow overrides the 30 day window.
func WithRetentionWindow(window time.Duration) RetentionOption {
	return func(s *RetentionService) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithRetentionClock injects the time source.
func WithRetentionClock(now func() time.Time) RetentionOption {
	return func(s *RetentionService) {
		if now != nil {
			s.now = func() time.Time { return now().UTC() }
		}
	}
}

// NewRetentionService constructs a RetentionService.
func NewRetentionService(db *gorm.DB, opts ...RetentionOption) (*RetentionService, error) {
	if db == nil {
		return nil, errors.New("retention service: db is required")
	}
	svc := &RetentionService{
		db:     db,
		window: defaultRetentionWindow,
		now:    utcNow,
		log:    logger.WithModule("retention"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Run deletes notifications of the retention types created strictly before now minus the window.
func (s *RetentionService) Run(ctx context.Context) (RetentionStats, error) {
	ctx = ensureContext(ctx)
	stats := RetentionStats{Cutoff: s.now().Add(-s.window)}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tx.Model(&models.Notification{}).
			Select("id").
			Where("type IN ? AND created_at < ?", RetentionTypes, stats.Cutoff)

		attempts := tx.Where("notification_id IN (?)", stale).Delete(&models.DeliveryAttempt{})
		if attempts.Error != nil {
			return fmt.Errorf("delete delivery attempts: %w", attempts.Error)
		}

		deleted := tx.Where("type IN ? AND created_at < ?", RetentionTypes, stats.Cutoff).
			Delete(&models.Notification{})
		if deleted.Error != nil {
			return fmt.Errorf("delete notifications: %w", deleted.Error)
		}

		stats.AttemptsDeleted = attempts.RowsAffected
		stats.Deleted = deleted.RowsAffected
		return nil
	})
	if err != nil {
		s.log.Error("retention sweep failed", zap.Error(err))
		return RetentionStats{Cutoff: stats.Cutoff}, fmt.Errorf("retention service: %w", err)
	}

	monitoring.RecordRetention("notifications", stats.Deleted)
	monitoring.RecordRetention("delivery_attempts", stats.AttemptsDeleted)
	s.log.Info("retention sweep complete",
		zap.Int64("deleted", stats.Deleted),
		zap.Int64("attempts_deleted", stats.AttemptsDeleted),
		zap.Time("cutoff", stats.Cutoff),
	)
	return stats, nil
}
