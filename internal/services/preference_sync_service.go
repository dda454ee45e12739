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

const defaultPreferenceSyncBatch = 200

// PreferenceSyncStats reports one synchronisation run.
type PreferenceSyncStats struct {
	Users      int                      `json:"users"`
	Suppressed map[models.Channel]int64 `json:"suppressed"`
	Errors     int                      `json:"errors"`
}

// PreferenceSyncService marks channels a user opted out of as handled so dispatchers skip them.
type PreferenceSyncService struct {
	db        *gorm.DB
	audit     *AuditService
	batchSize int
	now       func() time.Time
	log       *zap.Logger
}

// PreferenceSyncOption customises the PreferenceSyncService.
type PreferenceSyncOption func(*PreferenceSyncService)

// WithPreferenceSyncClock injects the time source.
func WithPreferenceSyncClock(now func() time.Time) PreferenceSyncOption {
	return func(s *PreferenceSyncService) {
		if now != nil {
			s.now = func() time.Time { return now().UTC() }
		}
	}
}

// WithPreferenceSyncBatchSize sets how many users are loaded per page.
func WithPreferenceSyncBatchSize(size int) PreferenceSyncOption {
	return func(s *PreferenceSyncService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithPreferenceSyncAudit records every suppression in the audit log.
func WithPreferenceSyncAudit(audit *AuditService) PreferenceSyncOption {
	return func(s *PreferenceSyncService) {
		s.audit = audit
	}
}

// NewPreferenceSyncService constructs a PreferenceSyncService.
func NewPreferenceSyncService(db *gorm.DB, opts ...PreferenceSyncOption) (*PreferenceSyncService, error) {
	if db == nil {
		return nil, errors.New("preference sync service: db is required")
	}
	svc := &PreferenceSyncService{
		db:        db,
		batchSize: defaultPreferenceSyncBatch,
		now:       utcNow,
		log:       logger.WithModule("preference_sync"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Run walks every user with a notification preference block and suppresses
// unsent deliveries on channels explicitly set to false.
func (s *PreferenceSyncService) Run(ctx context.Context) (PreferenceSyncStats, error) {
	ctx = ensureContext(ctx)
	stats := PreferenceSyncStats{Suppressed: make(map[models.Channel]int64, len(models.Channels))}

	var users []models.User
	result := s.db.WithContext(ctx).
		Select("id", "notification_preferences").
		Where("notification_preferences IS NOT NULL").
		FindInBatches(&users, s.batchSize, func(_ *gorm.DB, _ int) error {
			for _, user := range users {
				if err := ctx.Err(); err != nil {
					return err
				}
				stats.Users++

				counts, err := isolate(func() (map[models.Channel]int64, error) {
					return s.syncUser(ctx, user)
				})
				if err != nil {
					stats.Errors++
					s.log.Warn("preference sync failed", zap.String("user_id", user.ID), zap.Error(err))
					continue
				}
				for ch, n := range counts {
					stats.Suppressed[ch] += n
				}
			}
			return nil
		})
	if result.Error != nil {
		if errors.Is(result.Error, context.Canceled) || errors.Is(result.Error, context.DeadlineExceeded) {
			s.log.Warn("preference sync interrupted", zap.Int("processed", stats.Users), zap.Error(result.Error))
			return stats, result.Error
		}
		s.log.Error("failed to load users", zap.Error(result.Error))
		return stats, fmt.Errorf("preference sync service: load users: %w", result.Error)
	}

	for ch, n := range stats.Suppressed {
		monitoring.RecordPreferenceSuppression(string(ch), n)
	}
	s.log.Info("preference sync complete",
		zap.Int("users", stats.Users),
		zap.Int64("push_suppressed", stats.Suppressed[models.ChannelPush]),
		zap.Int64("sms_suppressed", stats.Suppressed[models.ChannelSMS]),
		zap.Int64("email_suppressed", stats.Suppressed[models.ChannelEmail]),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

func (s *PreferenceSyncService) syncUser(ctx context.Context, user models.User) (map[models.Channel]int64, error) {
	prefs, ok := DecodeNotificationPreferences(user.NotificationPreferences)
	if !ok {
		return nil, nil
	}
	disabled := prefs.Disabled()
	if len(disabled) == 0 {
		return nil, nil
	}

	now := s.now()
	counts := make(map[models.Channel]int64, len(disabled))
	for _, ch := range disabled {
		prefix := string(ch) + "_"
		result := s.db.WithContext(ctx).
			Model(&models.Notification{}).
			Where("user_id = ?", user.ID).
			Where(prefix+"sent = ?", false).
			Updates(map[string]any{
				prefix + "sent":            true,
				prefix + "sent_at":         now,
				prefix + "state":           models.DeliverySuppressed,
				prefix + "claimed_until":   nil,
				prefix + "claim_token":     "",
				prefix + "next_attempt_at": nil,
			})
		if result.Error != nil {
			return counts, fmt.Errorf("suppress %s: %w", ch, result.Error)
		}
		if result.RowsAffected > 0 {
			counts[ch] = result.RowsAffected
		}
	}

	if len(counts) > 0 {
		metadata := make(map[string]any, len(counts))
		for ch, n := range counts {
			metadata[string(ch)] = n
		}
		userID := user.ID
		recordAudit(s.audit, ctx, AuditEntry{
			UserID:   &userID,
			Actor:    "preference_sync",
			Action:   AuditActionSuppressed,
			Resource: "user:" + user.ID,
			Result:   "success",
			Metadata: metadata,
		})
	}
	return counts, nil
}
