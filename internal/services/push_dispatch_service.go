package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/charlesng35/matchdispatch/internal/models"
	"github.com/charlesng35/matchdispatch/pkg/push"
)

// PushEligibleTypes are the notification types delivered as push messages.
var PushEligibleTypes = []string{
	models.NotificationLike,
	models.NotificationSuperlike,
	models.NotificationMatch,
	models.NotificationMessage,
	models.NotificationVisit,
}

// PushDispatchService delivers pending push notifications to device tokens.
type PushDispatchService struct {
	dispatcher *channelDispatcher
}

// NewPushDispatchService constructs a PushDispatchService.
func NewPushDispatchService(db *gorm.DB, sender push.Sender, opts ...DispatchOption) (*PushDispatchService, error) {
	if sender == nil {
		return nil, errors.New("push dispatcher: sender is required")
	}
	d, err := newChannelDispatcher(db, models.ChannelPush, opts)
	if err != nil {
		return nil, err
	}
	d.types = PushEligibleTypes
	d.recipient = func(user models.User) string { return user.PushToken }
	d.deliver = func(ctx context.Context, token string, n *models.Notification) error {
		return sender.Send(ctx, token, n.Title, n.Body, decodeJSON(n.Data))
	}
	return &PushDispatchService{dispatcher: d}, nil
}

// Run dispatches one batch of due push notifications.
func (s *PushDispatchService) Run(ctx context.Context) (DispatchStats, error) {
	return s.dispatcher.run(ctx)
}
