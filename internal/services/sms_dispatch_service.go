package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/charlesng35/matchdispatch/internal/models"
	"github.com/charlesng35/matchdispatch/pkg/sms"
)

var (
	// SMSEligibleTypes are the notification types worth a text message.
	SMSEligibleTypes = []string{models.NotificationVerification, models.NotificationUrgent}
	// SMSEligiblePriorities gate SMS to high priority notifications.
	SMSEligiblePriorities = []string{models.PriorityHigh, models.PriorityUrgent}
)

// SMSDispatchService delivers pending high priority notifications by text message.
type SMSDispatchService struct {
	dispatcher *channelDispatcher
}

// NewSMSDispatchService constructs an SMSDispatchService.
func NewSMSDispatchService(db *gorm.DB, sender sms.Sender, opts ...DispatchOption) (*SMSDispatchService, error) {
	if sender == nil {
		return nil, errors.New("sms dispatcher: sender is required")
	}
	d, err := newChannelDispatcher(db, models.ChannelSMS, opts)
	if err != nil {
		return nil, err
	}
	d.types = SMSEligibleTypes
	d.priorities = SMSEligiblePriorities
	d.recipient = func(user models.User) string { return user.PhoneNumber }
	d.deliver = func(ctx context.Context, phone string, n *models.Notification) error {
		return sender.Send(ctx, phone, sms.Compose(n.Title, n.Body))
	}
	return &SMSDispatchService{dispatcher: d}, nil
}

// Run dispatches one batch of due SMS notifications.
func (s *SMSDispatchService) Run(ctx context.Context) (DispatchStats, error) {
	return s.dispatcher.run(ctx)
}
