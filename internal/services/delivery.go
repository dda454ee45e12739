package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/matchdispatch/internal/database"
	"github.com/charlesng35/matchdispatch/internal/models"
	"github.com/charlesng35/matchdispatch/internal/monitoring"
	"github.com/charlesng35/matchdispatch/pkg/logger"
)

const (
	defaultDispatchBatchSize = 100
	maxLastErrorLength       = 1024
)

// RetryPolicy bounds redelivery of a failed channel. After MaxAttempts failed
// sends the channel is dead-lettered and never selected again.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// ClaimTTL is how long an in-flight claim is honoured before another run may take it over.
	ClaimTTL time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Minute,
		MaxDelay:    6 * time.Hour,
		ClaimTTL:    5 * time.Minute,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.ClaimTTL <= 0 {
		p.ClaimTTL = def.ClaimTTL
	}
	return p
}

// Backoff returns the wait before the next attempt once attempts sends have failed.
// The delay doubles per failure starting at BaseDelay and is capped at MaxDelay.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	p = p.withDefaults()
	delay := p.BaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// DispatchStats summarises one dispatcher run.
type DispatchStats struct {
	Channel      models.Channel `json:"channel"`
	Selected     int            `json:"selected"`
	Delivered    int            `json:"delivered"`
	Failed       int            `json:"failed"`
	DeadLettered int            `json:"dead_lettered"`
	Skipped      int            `json:"skipped"`
	Conflicts    int            `json:"conflicts"`
	Errors       int            `json:"errors"`
}

func (s *DispatchStats) add(result string) {
	switch result {
	case monitoring.DeliveryResultDelivered:
		s.Delivered++
	case monitoring.DeliveryResultFailed:
		s.Failed++
	case monitoring.DeliveryResultDeadLettered:
		s.DeadLettered++
	case monitoring.DeliveryResultSkipped:
		s.Skipped++
	case monitoring.DeliveryResultConflict:
		s.Conflicts++
	default:
		s.Errors++
	}
}

type dispatchConfig struct {
	retry     RetryPolicy
	batchSize int
	now       func() time.Time
	audit     *AuditService
}

// DispatchOption customises a channel dispatcher.
type DispatchOption func(*dispatchConfig)

// WithRetryPolicy overrides the bounded retry policy.
func WithRetryPolicy(policy RetryPolicy) DispatchOption {
	return func(cfg *dispatchConfig) {
		cfg.retry = policy.withDefaults()
	}
}

// WithBatchSize sets how many notifications are selected per page.
func WithBatchSize(size int) DispatchOption {
	return func(cfg *dispatchConfig) {
		if size > 0 {
			cfg.batchSize = size
		}
	}
}

// WithDispatchClock injects the time source, mainly for tests.
func WithDispatchClock(now func() time.Time) DispatchOption {
	return func(cfg *dispatchConfig) {
		if now != nil {
			cfg.now = func() time.Time { return now().UTC() }
		}
	}
}

// WithDispatchAudit records dead-lettered notifications in the audit log.
func WithDispatchAudit(audit *AuditService) DispatchOption {
	return func(cfg *dispatchConfig) {
		cfg.audit = audit
	}
}

func newDispatchConfig(opts []DispatchOption) dispatchConfig {
	cfg := dispatchConfig{
		retry:     DefaultRetryPolicy(),
		batchSize: defaultDispatchBatchSize,
		now:       utcNow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// channelDispatcher holds the claim, send and bookkeeping cycle shared by every channel.
type channelDispatcher struct {
	db         *gorm.DB
	channel    models.Channel
	types      []string
	priorities []string
	cfg        dispatchConfig
	log        *zap.Logger

	recipient func(user models.User) string
	deliver   func(ctx context.Context, recipient string, n *models.Notification) error
	// skip reports send errors that leave the record untouched for a later run.
	skip func(err error) bool
}

func (d *channelDispatcher) col(name string) string {
	return string(d.channel) + "_" + name
}

// claimable matches rows this channel may pick up at @now.
func (d *channelDispatcher) claimable() string {
	return fmt.Sprintf("%[1]s_sent = false AND (%[1]s_state = '%[2]s' OR (%[1]s_state = '%[3]s' AND %[1]s_claimed_until < @now)) AND (%[1]s_next_attempt_at IS NULL OR %[1]s_next_attempt_at <= @now)",
		d.channel, models.DeliveryPending, models.DeliveryInFlight)
}

// run pages through every claimable row in (created_at, id) order. Rows left
// untouched, such as those without a recipient, never hold back later pages.
func (d *channelDispatcher) run(ctx context.Context) (DispatchStats, error) {
	ctx = ensureContext(ctx)
	stats := DispatchStats{Channel: d.channel}
	now := d.cfg.now()

	var cursor *models.Notification
	for {
		rows, err := d.selectPage(ctx, now, cursor)
		if err != nil {
			d.log.Error("failed to select notifications", zap.Error(err))
			return stats, fmt.Errorf("%s dispatcher: select notifications: %w", d.channel, err)
		}
		stats.Selected += len(rows)
		if len(rows) == 0 {
			break
		}

		users, err := d.loadUsers(ctx, rows)
		if err != nil {
			d.log.Error("failed to load recipients", zap.Error(err))
			return stats, fmt.Errorf("%s dispatcher: load users: %w", d.channel, err)
		}

		for i := range rows {
			if err := ctx.Err(); err != nil {
				d.log.Warn("dispatch interrupted", zap.Int("selected", stats.Selected), zap.Error(err))
				return stats, err
			}

			row := &rows[i]
			result, err := isolate(func() (string, error) {
				return d.dispatchOne(ctx, row, users[row.UserID])
			})
			if err != nil {
				result = monitoring.DeliveryResultError
				d.log.Warn("dispatch failed",
					zap.String("notification_id", row.ID),
					zap.Error(err),
				)
			}
			stats.add(result)
			monitoring.RecordDelivery(string(d.channel), result)
		}

		if len(rows) < d.cfg.batchSize {
			break
		}
		cursor = &rows[len(rows)-1]
	}

	if stats.Selected == 0 {
		d.log.Debug("no notifications to dispatch")
		return stats, nil
	}
	d.log.Info("dispatch run complete",
		zap.Int("selected", stats.Selected),
		zap.Int("delivered", stats.Delivered),
		zap.Int("failed", stats.Failed),
		zap.Int("dead_lettered", stats.DeadLettered),
		zap.Int("skipped", stats.Skipped),
		zap.Int("conflicts", stats.Conflicts),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

// selectPage returns up to batchSize claimable rows ordered after cursor.
func (d *channelDispatcher) selectPage(ctx context.Context, now time.Time, cursor *models.Notification) ([]models.Notification, error) {
	query := d.db.WithContext(ctx).
		Where("type IN ?", d.types).
		Where(d.claimable(), map[string]any{"now": now})
	if len(d.priorities) > 0 {
		query = query.Where("priority IN ?", d.priorities)
	}
	if cursor != nil {
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Notification
	err := query.
		Order("created_at ASC").
		Order("id ASC").
		Limit(d.cfg.batchSize).
		Find(&rows).Error
	return rows, err
}

func (d *channelDispatcher) loadUsers(ctx context.Context, rows []models.Notification) (map[string]*models.User, error) {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.UserID)
	}
	ids = normaliseIDs(ids)

	var users []models.User
	if len(ids) > 0 {
		if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
			return nil, err
		}
	}

	byID := make(map[string]*models.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}
	return byID, nil
}

func (d *channelDispatcher) dispatchOne(ctx context.Context, row *models.Notification, user *models.User) (string, error) {
	recipient := ""
	if user != nil {
		recipient = strings.TrimSpace(d.recipient(*user))
	}
	if recipient == "" {
		return monitoring.DeliveryResultSkipped, nil
	}

	now := d.cfg.now()
	token, claimed, err := d.claim(ctx, row.ID, now)
	if database.IsContention(err) {
		d.log.Debug("claim contended; leaving row for the next run", zap.String("notification_id", row.ID), zap.Error(err))
		return monitoring.DeliveryResultConflict, nil
	}
	if err != nil {
		return "", fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		return monitoring.DeliveryResultConflict, nil
	}

	// Attempts may have moved since selection; the claim makes this read stable.
	var current models.Notification
	if err := d.db.WithContext(ctx).Where("id = ?", row.ID).First(&current).Error; err != nil {
		return "", fmt.Errorf("reload: %w", err)
	}
	attempt := current.Delivery(d.channel).Attempts + 1

	sendErr := d.deliver(ctx, recipient, &current)

	// The send already happened, so bookkeeping must survive cancellation.
	bctx := context.WithoutCancel(ctx)
	if sendErr != nil && d.skip != nil && d.skip(sendErr) {
		if err := d.release(bctx, row.ID, token); err != nil {
			return "", fmt.Errorf("release: %w", err)
		}
		return monitoring.DeliveryResultSkipped, nil
	}

	d.recordAttempt(bctx, row.ID, attempt, sendErr)

	if sendErr == nil {
		delivered, err := d.markDelivered(bctx, row.ID, token, attempt)
		if err != nil {
			return "", fmt.Errorf("mark delivered: %w", err)
		}
		if !delivered {
			return monitoring.DeliveryResultConflict, nil
		}
		return monitoring.DeliveryResultDelivered, nil
	}

	d.log.Warn("delivery failed",
		zap.String("notification_id", row.ID),
		zap.Int("attempt", attempt),
		zap.Error(sendErr),
	)
	return d.markFailed(bctx, &current, token, attempt, sendErr)
}

// claim takes the per-record lease and returns its token. Only one caller can
// move a row into in_flight, and later writes must present the same token.
func (d *channelDispatcher) claim(ctx context.Context, id string, now time.Time) (string, bool, error) {
	token := uuid.NewString()
	result := d.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ?", id).
		Where(d.claimable(), map[string]any{"now": now}).
		Updates(map[string]any{
			d.col("state"):         models.DeliveryInFlight,
			d.col("claimed_until"): now.Add(d.cfg.retry.ClaimTTL),
			d.col("claim_token"):   token,
		})
	if result.Error != nil {
		return "", false, result.Error
	}
	if result.RowsAffected != 1 {
		return "", false, nil
	}
	return token, true, nil
}

func (d *channelDispatcher) release(ctx context.Context, id, token string) error {
	return d.held(ctx, id, token).Updates(map[string]any{
		d.col("state"):         models.DeliveryPending,
		d.col("claimed_until"): nil,
		d.col("claim_token"):   "",
	}).Error
}

// held matches the row only while the lease identified by token is current. A
// holder whose lease expired and was taken over matches nothing.
func (d *channelDispatcher) held(ctx context.Context, id, token string) *gorm.DB {
	return d.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ?", id).
		Where(d.col("sent")+" = ?", false).
		Where(d.col("state")+" = ?", models.DeliveryInFlight).
		Where(d.col("claim_token")+" = ?", token)
}

func (d *channelDispatcher) markDelivered(ctx context.Context, id, token string, attempt int) (bool, error) {
	now := d.cfg.now()
	result := d.held(ctx, id, token).Updates(map[string]any{
		d.col("sent"):            true,
		d.col("sent_at"):         now,
		d.col("state"):           models.DeliveryDelivered,
		d.col("attempts"):        attempt,
		d.col("claimed_until"):   nil,
		d.col("claim_token"):     "",
		d.col("next_attempt_at"): nil,
		d.col("last_error"):      "",
	})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (d *channelDispatcher) markFailed(ctx context.Context, row *models.Notification, token string, attempt int, sendErr error) (string, error) {
	updates := map[string]any{
		d.col("attempts"):      attempt,
		d.col("claimed_until"): nil,
		d.col("claim_token"):   "",
		d.col("last_error"):    truncate(sendErr.Error(), maxLastErrorLength),
	}

	result := monitoring.DeliveryResultFailed
	if attempt >= d.cfg.retry.MaxAttempts {
		result = monitoring.DeliveryResultDeadLettered
		updates[d.col("state")] = models.DeliveryFailed
		updates[d.col("next_attempt_at")] = nil
	} else {
		updates[d.col("state")] = models.DeliveryPending
		updates[d.col("next_attempt_at")] = d.cfg.now().Add(d.cfg.retry.Backoff(attempt))
	}

	res := d.held(ctx, row.ID, token).Updates(updates)
	if res.Error != nil {
		return "", fmt.Errorf("mark failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return monitoring.DeliveryResultConflict, nil
	}

	if result == monitoring.DeliveryResultDeadLettered {
		d.log.Error("notification dead-lettered",
			zap.String("notification_id", row.ID),
			zap.Int("attempts", attempt),
			zap.Error(sendErr),
		)
		userID := row.UserID
		recordAudit(d.cfg.audit, ctx, AuditEntry{
			UserID:   &userID,
			Actor:    string(d.channel) + "_dispatch",
			Action:   AuditActionDeadLettered,
			Channel:  d.channel,
			Resource: "notification:" + row.ID,
			Result:   "failure",
			Metadata: map[string]any{
				"channel":  string(d.channel),
				"type":     row.Type,
				"attempts": attempt,
				"error":    truncate(sendErr.Error(), maxLastErrorLength),
			},
		})
	}
	return result, nil
}

func (d *channelDispatcher) recordAttempt(ctx context.Context, notificationID string, attempt int, sendErr error) {
	entry := models.DeliveryAttempt{
		NotificationID: notificationID,
		Channel:        d.channel,
		AttemptNumber:  attempt,
		Success:        sendErr == nil,
	}
	if sendErr != nil {
		entry.Error = truncate(sendErr.Error(), maxLastErrorLength)
	}
	if err := d.db.WithContext(ctx).Create(&entry).Error; err != nil {
		d.log.Warn("failed to record delivery attempt",
			zap.String("notification_id", notificationID),
			zap.Error(err),
		)
	}
}

func newChannelDispatcher(db *gorm.DB, channel models.Channel, opts []DispatchOption) (*channelDispatcher, error) {
	if db == nil {
		return nil, errors.New(string(channel) + " dispatcher: db is required")
	}
	return &channelDispatcher{
		db:      db,
		channel: channel,
		cfg:     newDispatchConfig(opts),
		log:     logger.ForChannel(string(channel)),
	}, nil
}
