package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/matchdispatch/internal/models"
	apperrors "github.com/charlesng35/matchdispatch/pkg/errors"
	"github.com/charlesng35/matchdispatch/pkg/validator"
)

// AgeRange bounds candidate age in whole years. Either side may be absent.
type AgeRange struct {
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
}

// MatchPreferences are the matching criteria a user stored. Empty fields impose no constraint.
type MatchPreferences struct {
	AgeRange  *AgeRange `json:"age_range,omitempty"`
	Religion  string    `json:"religion,omitempty"`
	Caste     string    `json:"caste,omitempty"`
	Education string    `json:"education,omitempty"`
	Location  string    `json:"location,omitempty"`
}

// NotificationPreferences holds per-channel opt-outs. A nil field means the user never chose.
type NotificationPreferences struct {
	Email *bool `json:"email,omitempty" validate:"required_without_all=Push SMS"`
	Push  *bool `json:"push,omitempty" validate:"required_without_all=Email SMS"`
	SMS   *bool `json:"sms,omitempty" validate:"required_without_all=Email Push"`
}

func (p NotificationPreferences) flag(ch models.Channel) *bool {
	switch ch {
	case models.ChannelEmail:
		return p.Email
	case models.ChannelPush:
		return p.Push
	case models.ChannelSMS:
		return p.SMS
	}
	return nil
}

// Disabled lists channels explicitly set to false.
func (p NotificationPreferences) Disabled() []models.Channel {
	var out []models.Channel
	for _, ch := range models.Channels {
		if v := p.flag(ch); v != nil && !*v {
			out = append(out, ch)
		}
	}
	return out
}

func isNullJSON(data datatypes.JSON) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// DecodeMatchPreferences parses a stored preference block. It reports false when
// no block is stored; an empty object is a block without constraints.
func DecodeMatchPreferences(data datatypes.JSON) (*MatchPreferences, bool) {
	if isNullJSON(data) {
		return nil, false
	}
	node := decodeJSON(data)
	if node == nil {
		return nil, false
	}

	prefs := &MatchPreferences{}
	if raw, ok := firstOf(node, "age_range", "ageRange"); ok {
		if rangeNode, ok := toMap(raw); ok {
			var ar AgeRange
			if v, ok := asInt(rangeNode["min"]); ok && v > 0 {
				ar.Min = &v
			}
			if v, ok := asInt(rangeNode["max"]); ok && v > 0 {
				ar.Max = &v
			}
			if ar.Min != nil || ar.Max != nil {
				prefs.AgeRange = &ar
			}
		}
	}
	prefs.Religion = stringField(node, "religion")
	prefs.Caste = stringField(node, "caste")
	prefs.Education = stringField(node, "education")
	prefs.Location = stringField(node, "location")
	return prefs, true
}

// DecodeNotificationPreferences parses a stored {"email","push","sms"} block.
func DecodeNotificationPreferences(data datatypes.JSON) (NotificationPreferences, bool) {
	var prefs NotificationPreferences
	if isNullJSON(data) {
		return prefs, false
	}
	node := decodeJSON(data)
	if node == nil {
		return prefs, false
	}
	for key, target := range map[string]**bool{
		"email": &prefs.Email,
		"push":  &prefs.Push,
		"sms":   &prefs.SMS,
	} {
		if v, ok := asBool(node[key]); ok {
			*target = &v
		}
	}
	return prefs, true
}

func stringField(node map[string]any, key string) string {
	value, ok := asString(node[key])
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

// UserPreferencesService reads matching preferences and manages notification opt-outs.
type UserPreferencesService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewUserPreferencesService constructs a UserPreferencesService with the supplied dependencies.
func NewUserPreferencesService(db *gorm.DB, audit *AuditService) (*UserPreferencesService, error) {
	if db == nil {
		return nil, fmt.Errorf("user preferences service: db is required")
	}
	return &UserPreferencesService{
		db:    db,
		audit: audit,
	}, nil
}

type preferenceRow struct {
	ID                      string
	Preferences             datatypes.JSON
	NotificationPreferences datatypes.JSON
}

func (s *UserPreferencesService) loadRow(ctx context.Context, userID string) (*preferenceRow, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var row preferenceRow
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Select("id", "preferences", "notification_preferences").
		Where("id = ?", userID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user preferences service: load user preferences: %w", err)
	}
	return &row, nil
}

// Get returns the stored matching preferences, or nil when the user has none.
func (s *UserPreferencesService) Get(ctx context.Context, userID string) (*MatchPreferences, error) {
	row, err := s.loadRow(ensureContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	prefs, _ := DecodeMatchPreferences(row.Preferences)
	return prefs, nil
}

// GetNotification returns the stored notification preferences.
func (s *UserPreferencesService) GetNotification(ctx context.Context, userID string) (NotificationPreferences, error) {
	row, err := s.loadRow(ensureContext(ctx), userID)
	if err != nil {
		return NotificationPreferences{}, err
	}
	prefs, _ := DecodeNotificationPreferences(row.NotificationPreferences)
	return prefs, nil
}

// UpdateNotification merges the supplied channel flags into the stored block.
// Channels left nil keep their current value.
func (s *UserPreferencesService) UpdateNotification(ctx context.Context, userID string, update NotificationPreferences) (NotificationPreferences, error) {
	ctx = ensureContext(ctx)
	if err := validator.ValidateStruct(update); err != nil {
		return NotificationPreferences{}, apperrors.NewBadRequest("at least one of email, push or sms is required").WithInternal(err)
	}

	row, err := s.loadRow(ctx, userID)
	if err != nil {
		return NotificationPreferences{}, err
	}

	merged := decodeJSON(row.NotificationPreferences)
	if merged == nil {
		merged = make(map[string]any, 3)
	}
	changes := make(map[string]any, 3)
	for _, ch := range models.Channels {
		if v := update.flag(ch); v != nil {
			merged[string(ch)] = *v
			changes[string(ch)] = *v
		}
	}

	payload, err := encodeJSON(merged)
	if err != nil {
		return NotificationPreferences{}, fmt.Errorf("user preferences service: marshal preferences: %w", err)
	}

	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", row.ID).
		Update("notification_preferences", payload).Error; err != nil {
		return NotificationPreferences{}, fmt.Errorf("user preferences service: update preferences: %w", err)
	}

	result, _ := DecodeNotificationPreferences(payload)

	userRef := row.ID
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &userRef,
		Actor:    "api",
		Action:   AuditActionPreferences,
		Resource: "user:" + row.ID,
		Result:   "success",
		Metadata: changes,
	})

	return result, nil
}
