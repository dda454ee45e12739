package models

import "gorm.io/datatypes"

// AuditLog records an operational event raised by a background job or the
// ops API. Channel is set for events about a single delivery channel.
type AuditLog struct {
	BaseModel

	UserID   *string        `gorm:"type:varchar(36);index" json:"user_id"`
	Actor    string         `gorm:"type:varchar(64)" json:"actor"`
	Action   string         `gorm:"type:varchar(64);not null;index" json:"action"`
	Channel  string         `gorm:"type:varchar(16);index" json:"channel,omitempty"`
	Resource string         `gorm:"type:varchar(128);index" json:"resource"`
	Result   string         `gorm:"type:varchar(16);not null" json:"result"`
	Metadata datatypes.JSON `json:"metadata,omitempty"`
}
