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

const (
	defaultSuggestionInterval = 24 * time.Hour
	defaultSuggestionBatch    = 100
	defaultMaxCandidates      = 5

	suggestionTitle = "New Match Suggestions"
)

// Suggestion outcomes per user.
const (
	suggestionEmitted = "emitted"
	suggestionEmpty   = "empty"
	suggestionSkipped = "skipped"
	suggestionError   = "error"
)

// excludedInteractions are the interaction types that remove a target from future suggestions.
var excludedInteractions = []string{
	models.InteractionLike,
	models.InteractionSuperlike,
	models.InteractionBlock,
}

var errSuggestionAlreadyAdvanced = errors.New("suggestion timestamp already advanced")

// SuggestionStats summarises one generator run.
type SuggestionStats struct {
	Users   int `json:"users"`
	Emitted int `json:"emitted"`
	Empty   int `json:"empty"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

type suggestionConfig struct {
	interval       time.Duration
	batchSize      int
	maxCandidates  int
	advanceOnEmpty bool
	now            func() time.Time
}

// SuggestionOption customises the SuggestionService.
type SuggestionOption func(*suggestionConfig)

// WithSuggestionInterval sets how long a user waits between suggestion batches.
func WithSuggestionInterval(interval time.Duration) SuggestionOption {
	return func(cfg *suggestionConfig) {
		if interval > 0 {
			cfg.interval = interval
		}
	}
}

// WithSuggestionBatchSize limits how many users one run considers.
func WithSuggestionBatchSize(size int) SuggestionOption {
	return func(cfg *suggestionConfig) {
		if size > 0 {
			cfg.batchSize = size
		}
	}
}

// WithMaxCandidates caps the candidates carried by one suggestion.
func WithMaxCandidates(n int) SuggestionOption {
	return func(cfg *suggestionConfig) {
		if n > 0 {
			cfg.maxCandidates = n
		}
	}
}

// WithAdvanceOnEmpty advances the user's suggestion timestamp even when no candidate matched.
func WithAdvanceOnEmpty(enabled bool) SuggestionOption {
	return func(cfg *suggestionConfig) {
		cfg.advanceOnEmpty = enabled
	}
}

// WithSuggestionClock injects the time source.
func WithSuggestionClock(now func() time.Time) SuggestionOption {
	return func(cfg *suggestionConfig) {
		if now != nil {
			cfg.now = func() time.Time { return now().UTC() }
		}
	}
}

// SuggestionService generates periodic match suggestions.
type SuggestionService struct {
	db            *gorm.DB
	notifications *NotificationService
	cfg           suggestionConfig
	log           *zap.Logger
}

// NewSuggestionService constructs a SuggestionService.
func NewSuggestionService(db *gorm.DB, notifications *NotificationService, opts ...SuggestionOption) (*SuggestionService, error) {
	if db == nil {
		return nil, errors.New("suggestion service: db is required")
	}
	if notifications == nil {
		return nil, errors.New("suggestion service: notification service is required")
	}
	cfg := suggestionConfig{
		interval:      defaultSuggestionInterval,
		batchSize:     defaultSuggestionBatch,
		maxCandidates: defaultMaxCandidates,
		now:           utcNow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &SuggestionService{
		db:            db,
		notifications: notifications,
		cfg:           cfg,
		log:           logger.WithModule("suggestions"),
	}, nil
}

// Run processes one batch of users overdue for suggestions.
func (s *SuggestionService) Run(ctx context.Context) (SuggestionStats, error) {
	ctx = ensureContext(ctx)
	var stats SuggestionStats
	now := s.cfg.now()
	cutoff := now.Add(-s.cfg.interval)

	// Users without stored preferences are never processed, so they are left out
	// of the batch rather than filling it.
	var users []models.User
	if err := s.db.WithContext(ctx).
		Where("role = ?", models.RoleUser).
		Where("(last_match_suggestion_sent IS NULL OR last_match_suggestion_sent < ?)", cutoff).
		Where(storedJSONClause(s.db, "preferences")).
		Order("created_at ASC").
		Order("id ASC").
		Limit(s.cfg.batchSize).
		Find(&users).Error; err != nil {
		s.log.Error("failed to select users", zap.Error(err))
		return stats, fmt.Errorf("suggestion service: select users: %w", err)
	}
	stats.Users = len(users)

	for i := range users {
		if err := ctx.Err(); err != nil {
			s.log.Warn("suggestion run interrupted", zap.Int("processed", i), zap.Error(err))
			return stats, err
		}

		user := users[i]
		result, err := isolate(func() (string, error) {
			return s.suggestFor(ctx, user, now, cutoff)
		})
		if err != nil {
			result = suggestionError
			s.log.Warn("suggestion failed", zap.String("user_id", user.ID), zap.Error(err))
		}

		switch result {
		case suggestionEmitted:
			stats.Emitted++
		case suggestionEmpty:
			stats.Empty++
		case suggestionSkipped:
			stats.Skipped++
		default:
			stats.Errors++
		}
		monitoring.RecordSuggestion(result)
	}

	s.log.Info("suggestion run complete",
		zap.Int("users", stats.Users),
		zap.Int("emitted", stats.Emitted),
		zap.Int("empty", stats.Empty),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

func (s *SuggestionService) suggestFor(ctx context.Context, user models.User, now, cutoff time.Time) (string, error) {
	prefs, ok := DecodeMatchPreferences(user.Preferences)
	if !ok {
		return suggestionSkipped, nil
	}

	candidates, err := s.FindCandidates(ctx, user, *prefs)
	if err != nil {
		return "", err
	}

	if len(candidates) == 0 {
		if !s.cfg.advanceOnEmpty {
			return suggestionEmpty, nil
		}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return advanceSuggestionTimestamp(tx, user.ID, now, cutoff)
		})
		if err != nil && !errors.Is(err, errSuggestionAlreadyAdvanced) {
			return "", err
		}
		return suggestionEmpty, nil
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.notifications.WithTx(tx).Create(ctx, CreateNotificationInput{
			UserID:   user.ID,
			Type:     models.NotificationMatchSuggestion,
			Title:    suggestionTitle,
			Body:     fmt.Sprintf("We found %d new matches for you!", len(ids)),
			Priority: models.PriorityNormal,
			Data: map[string]any{
				"candidate_ids": ids,
				"count":         len(ids),
			},
		}); err != nil {
			return err
		}
		return advanceSuggestionTimestamp(tx, user.ID, now, cutoff)
	})
	if errors.Is(err, errSuggestionAlreadyAdvanced) {
		return suggestionSkipped, nil
	}
	if err != nil {
		return "", err
	}
	return suggestionEmitted, nil
}

// storedJSONClause matches rows whose JSON column holds a value other than SQL
// NULL or a JSON null literal.
func storedJSONClause(db *gorm.DB, column string) string {
	switch db.Dialector.Name() {
	case "postgres":
		return fmt.Sprintf("%[1]s IS NOT NULL AND %[1]s::text <> 'null'", column)
	case "mysql":
		return fmt.Sprintf("%[1]s IS NOT NULL AND JSON_TYPE(%[1]s) <> 'NULL'", column)
	default:
		return fmt.Sprintf("%[1]s IS NOT NULL AND TRIM(%[1]s) NOT IN ('', 'null')", column)
	}
}

// advanceSuggestionTimestamp moves the timestamp to now only while the user is still overdue,
// so it never moves backwards and a concurrent run cannot emit twice.
func advanceSuggestionTimestamp(tx *gorm.DB, userID string, now, cutoff time.Time) error {
	result := tx.Model(&models.User{}).
		Where("id = ?", userID).
		Where("(last_match_suggestion_sent IS NULL OR last_match_suggestion_sent < ?)", cutoff).
		Update("last_match_suggestion_sent", now)
	if result.Error != nil {
		return fmt.Errorf("advance suggestion timestamp: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errSuggestionAlreadyAdvanced
	}
	return nil
}

// FindCandidates returns up to the configured number of users matching prefs,
// excluding the subject and anyone the subject liked, superliked or blocked.
// Ordering is profile_completion DESC, created_at DESC with id as the final tie-break.
func (s *SuggestionService) FindCandidates(ctx context.Context, user models.User, prefs MatchPreferences) ([]models.User, error) {
	ctx = ensureContext(ctx)
	query := s.db.WithContext(ctx).
		Where("id <> ?", user.ID).
		Where("role = ?", models.RoleUser)

	lower, upper := BirthDateBounds(prefs.AgeRange, s.cfg.now())
	if lower != nil {
		query = query.Where("date_of_birth >= ?", *lower)
	}
	if upper != nil {
		query = query.Where("date_of_birth <= ?", *upper)
	}
	if prefs.Religion != "" {
		query = query.Where("religion = ?", prefs.Religion)
	}
	if prefs.Caste != "" {
		query = query.Where("caste = ?", prefs.Caste)
	}
	if prefs.Education != "" {
		query = query.Where("education = ?", prefs.Education)
	}
	if prefs.Location != "" {
		query = query.Where("location = ?", prefs.Location)
	}

	interacted := s.db.WithContext(ctx).
		Model(&models.Interaction{}).
		Select("target_user_id").
		Where("user_id = ? AND type IN ?", user.ID, excludedInteractions)
	query = query.Where("id NOT IN (?)", interacted)

	var candidates []models.User
	if err := query.
		Order("profile_completion DESC").
		Order("created_at DESC").
		Order("id ASC").
		Limit(s.cfg.maxCandidates).
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("suggestion service: find candidates: %w", err)
	}
	return candidates, nil
}

// BirthDateBounds converts an age range into inclusive date-of-birth bounds using
// calendar years only: a minimum age of N admits anyone born up to the end of
// (current year - N), a maximum age of M admits anyone born from the start of
// (current year - M).
func BirthDateBounds(ar *AgeRange, now time.Time) (lower, upper *time.Time) {
	if ar == nil {
		return nil, nil
	}
	year := now.UTC().Year()
	if ar.Min != nil {
		t := time.Date(year-*ar.Min, time.December, 31, 23, 59, 59, 0, time.UTC)
		upper = &t
	}
	if ar.Max != nil {
		t := time.Date(year-*ar.Max, time.January, 1, 0, 0, 0, 0, time.UTC)
		lower = &t
	}
	return lower, upper
}
