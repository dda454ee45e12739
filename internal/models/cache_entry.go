package models

import (
	"time"
)

// CacheEntry is a key/value row with an expiry, used for database-backed job locks.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:191;column:cache_key"`
	Value     []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
