package models

import (
	"time"

	"gorm.io/datatypes"
)

// Channel identifies an outbound delivery channel.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Channels lists every delivery channel in a stable order.
var Channels = []Channel{ChannelPush, ChannelSMS, ChannelEmail}

// DeliveryState is the per-channel delivery lifecycle.
//
//	pending -> in_flight -> delivered
//	pending -> in_flight -> pending (retry scheduled) ... -> failed
//	pending | in_flight(expired) -> suppressed (channel disabled by the user)
type DeliveryState string

const (
	DeliveryPending    DeliveryState = "pending"
	DeliveryInFlight   DeliveryState = "in_flight"
	DeliveryDelivered  DeliveryState = "delivered"
	DeliverySuppressed DeliveryState = "suppressed"
	DeliveryFailed     DeliveryState = "failed"
)

// Terminal reports whether no further delivery work happens in this state.
func (s DeliveryState) Terminal() bool {
	switch s {
	case DeliveryDelivered, DeliverySuppressed, DeliveryFailed:
		return true
	}
	return false
}

// Notification types known to the dispatch jobs.
const (
	NotificationLike            = "like"
	NotificationSuperlike       = "superlike"
	NotificationMatch           = "match"
	NotificationMessage         = "message"
	NotificationVisit           = "visit"
	NotificationVerification    = "verification"
	NotificationUrgent          = "urgent"
	NotificationMatchSuggestion = "match_suggestion"
	NotificationProfileView     = "profile_view"
)

// Notification priorities.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ChannelDelivery tracks one channel of a notification. Sent only ever moves
// from false to true and is always written together with SentAt.
type ChannelDelivery struct {
	Sent          bool          `gorm:"not null;default:false;index" json:"sent"`
	SentAt        *time.Time    `json:"sent_at"`
	State         DeliveryState `gorm:"type:varchar(16);not null;default:'pending'" json:"state"`
	Attempts      int           `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt *time.Time    `json:"next_attempt_at,omitempty"`
	ClaimedUntil  *time.Time    `json:"-"`
	// ClaimToken identifies the current lease holder; empty when unclaimed.
	ClaimToken string `gorm:"type:varchar(36);not null;default:''" json:"-"`
	LastError  string `gorm:"type:text" json:"last_error,omitempty"`
}

// Notification is a message addressed to one user, delivered over push, SMS and email.
type Notification struct {
	BaseModel

	UserID   string         `gorm:"type:varchar(36);not null;index" json:"user_id"`
	Type     string         `gorm:"type:varchar(32);not null;index" json:"type"`
	Title    string         `gorm:"type:varchar(255)" json:"title"`
	Body     string         `gorm:"type:text" json:"body"`
	Data     datatypes.JSON `json:"data"`
	Priority string         `gorm:"type:varchar(16);not null;default:'normal'" json:"priority"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at"`

	Push  ChannelDelivery `gorm:"embedded;embeddedPrefix:push_" json:"push"`
	SMS   ChannelDelivery `gorm:"embedded;embeddedPrefix:sms_" json:"sms"`
	Email ChannelDelivery `gorm:"embedded;embeddedPrefix:email_" json:"email"`
}

// Delivery returns the delivery record for ch, or nil for an unknown channel.
func (n *Notification) Delivery(ch Channel) *ChannelDelivery {
	switch ch {
	case ChannelPush:
		return &n.Push
	case ChannelSMS:
		return &n.SMS
	case ChannelEmail:
		return &n.Email
	}
	return nil
}
