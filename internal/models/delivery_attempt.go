package models

// DeliveryAttempt is the trail of a single gateway call for one notification channel.
type DeliveryAttempt struct {
	BaseModel

	NotificationID string  `gorm:"type:varchar(36);not null;index" json:"notification_id"`
	Channel        Channel `gorm:"type:varchar(8);not null" json:"channel"`
	AttemptNumber  int     `gorm:"not null" json:"attempt_number"`
	Success        bool    `json:"success"`
	Error          string  `gorm:"type:text" json:"error,omitempty"`
}
