package models

import (
	"time"

	"gorm.io/datatypes"
)

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a member profile. Only the fields the dispatch jobs read are mapped.
type User struct {
	BaseModel

	Name        string `gorm:"type:varchar(255)" json:"name"`
	Email       string `gorm:"type:varchar(255);index" json:"email"`
	PhoneNumber string `gorm:"type:varchar(32)" json:"phone_number"`
	PushToken   string `gorm:"type:varchar(512)" json:"-"`

	Role     string `gorm:"type:varchar(16);not null;default:'user';index" json:"role"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	DateOfBirth       *time.Time `gorm:"index" json:"date_of_birth"`
	Gender            string     `gorm:"type:varchar(16)" json:"gender"`
	Religion          string     `gorm:"type:varchar(64);index" json:"religion"`
	Caste             string     `gorm:"type:varchar(64)" json:"caste"`
	Education         string     `gorm:"type:varchar(128)" json:"education"`
	Location          string     `gorm:"type:varchar(128);index" json:"location"`
	ProfileCompletion int        `gorm:"not null;default:0" json:"profile_completion"`

	// Preferences holds matching preferences; NULL means none were stored.
	Preferences datatypes.JSON `json:"preferences"`
	// NotificationPreferences holds {"email","push","sms"} booleans; NULL means no block.
	NotificationPreferences datatypes.JSON `json:"notification_preferences"`

	LastMatchSuggestionSent *time.Time `gorm:"index" json:"last_match_suggestion_sent"`
}
