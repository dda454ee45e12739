package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/matchdispatch/internal/models"
)

// Audit actions written by the dispatch jobs and the ops API.
const (
	AuditActionDeadLettered = "notification.dead_lettered"
	AuditActionSuppressed   = "notification.suppressed"
	AuditActionPreferences  = "user.notification_preferences.update"
)

const (
	maxAuditExport      = 10000
	defaultAuditPerPage = 50
	maxAuditPerPage     = 200
	// auditDeleteBatch bounds each retention delete so the sweep never holds
	// a long lock on the table the dispatchers write to.
	auditDeleteBatch = 500
)

// AuditEntry is one event to record. Actor defaults to "system".
type AuditEntry struct {
	UserID   *string
	Actor    string
	Action   string
	Channel  models.Channel
	Resource string
	Result   string
	Metadata map[string]any
}

func (e AuditEntry) record() (models.AuditLog, error) {
	action, result := strings.TrimSpace(e.Action), strings.TrimSpace(e.Result)
	switch {
	case action == "":
		return models.AuditLog{}, errors.New("audit service: action is required")
	case result == "":
		return models.AuditLog{}, errors.New("audit service: result is required")
	}

	row := models.AuditLog{
		Actor:    defaultIfEmpty(strings.TrimSpace(e.Actor), "system"),
		Action:   action,
		Channel:  string(e.Channel),
		Resource: strings.TrimSpace(e.Resource),
		Result:   result,
	}
	if e.UserID != nil {
		if id := strings.TrimSpace(*e.UserID); id != "" {
			row.UserID = &id
		}
	}
	if len(e.Metadata) > 0 {
		encoded, err := json.Marshal(e.Metadata)
		if err != nil {
			return models.AuditLog{}, fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		row.Metadata = datatypes.JSON(encoded)
	}
	return row, nil
}

// AuditFilters narrows audit queries; zero fields are ignored.
type AuditFilters struct {
	UserID   string
	Action   string
	Channel  string
	Result   string
	Resource string
	Since    *time.Time
	Until    *time.Time
}

func (f AuditFilters) apply(query *gorm.DB) *gorm.DB {
	for column, value := range map[string]string{
		"user_id":  f.UserID,
		"action":   f.Action,
		"channel":  f.Channel,
		"result":   f.Result,
		"resource": f.Resource,
	} {
		if value != "" {
			query = query.Where(column+" = ?", value)
		}
	}
	if f.Since != nil {
		query = query.Where("created_at >= ?", *f.Since)
	}
	if f.Until != nil {
		query = query.Where("created_at <= ?", *f.Until)
	}
	return query
}

// AuditListOptions pages through audit logs. Page starts at 1; PageSize
// defaults to 50 and is capped at 200.
type AuditListOptions struct {
	Page     int
	PageSize int
	Filters  AuditFilters
}

func (o AuditListOptions) window() (offset, limit int) {
	limit = o.PageSize
	if limit <= 0 || limit > maxAuditPerPage {
		limit = defaultAuditPerPage
	}
	return (max(o.Page, 1) - 1) * limit, limit
}

// AuditService persists and retrieves audit log entries.
type AuditService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db, now: utcNow}, nil
}

// Log validates and stores one entry.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	row, err := entry.record()
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ensureContext(ctx)).Create(&row).Error; err != nil {
		return fmt.Errorf("audit service: create log: %w", err)
	}
	return nil
}

// List returns one page of matching logs, newest first, with the total match count.
func (s *AuditService) List(ctx context.Context, opts AuditListOptions) ([]models.AuditLog, int64, error) {
	query := opts.Filters.apply(s.db.WithContext(ensureContext(ctx)).Model(&models.AuditLog{}))

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count logs: %w", err)
	}
	if total == 0 {
		return []models.AuditLog{}, 0, nil
	}

	offset, limit := opts.window()
	var rows []models.AuditLog
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: list logs: %w", err)
	}
	return rows, total, nil
}

// Export returns every matching log, newest first, up to maxAuditExport rows.
func (s *AuditService) Export(ctx context.Context, filters AuditFilters) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	query := filters.apply(s.db.WithContext(ensureContext(ctx)).Model(&models.AuditLog{}))
	if err := query.Order("created_at DESC, id DESC").Limit(maxAuditExport).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("audit service: export logs: %w", err)
	}
	return rows, nil
}

// CleanupOlderThan deletes logs created more than retentionDays ago, in
// batches of auditDeleteBatch, and returns how many were removed.
func (s *AuditService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.New("audit service: retentionDays must be positive")
	}
	ctx = ensureContext(ctx)
	cutoff := s.now().AddDate(0, 0, -retentionDays)

	var deleted int64
	for {
		var ids []string
		if err := s.db.WithContext(ctx).
			Model(&models.AuditLog{}).
			Where("created_at < ?", cutoff).
			Order("created_at ASC").
			Limit(auditDeleteBatch).
			Pluck("id", &ids).Error; err != nil {
			return deleted, fmt.Errorf("audit service: select expired logs: %w", err)
		}
		if len(ids) == 0 {
			return deleted, nil
		}

		result := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.AuditLog{})
		if result.Error != nil {
			return deleted, fmt.Errorf("audit service: cleanup logs: %w", result.Error)
		}
		deleted += result.RowsAffected
		if len(ids) < auditDeleteBatch {
			return deleted, nil
		}
	}
}
