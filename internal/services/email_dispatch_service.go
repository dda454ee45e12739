package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/matchdispatch/internal/models"
	"github.com/charlesng35/matchdispatch/pkg/mail"
)

const defaultEmailSubject = "You have a new notification"

// EmailEligibleTypes are the notification types mirrored to email.
var EmailEligibleTypes = []string{
	models.NotificationMatch,
	models.NotificationMessage,
	models.NotificationVerification,
	models.NotificationUrgent,
	models.NotificationMatchSuggestion,
}

// EmailDispatchService delivers pending notifications over SMTP.
type EmailDispatchService struct {
	dispatcher *channelDispatcher
}

// NewEmailDispatchService constructs an EmailDispatchService. While SMTP is
// disabled every claimed row is released untouched and counted as skipped.
func NewEmailDispatchService(db *gorm.DB, mailer mail.Mailer, opts ...DispatchOption) (*EmailDispatchService, error) {
	if mailer == nil {
		return nil, errors.New("email dispatcher: mailer is required")
	}
	d, err := newChannelDispatcher(db, models.ChannelEmail, opts)
	if err != nil {
		return nil, err
	}
	d.types = EmailEligibleTypes
	d.recipient = func(user models.User) string { return user.Email }
	d.deliver = func(ctx context.Context, address string, n *models.Notification) error {
		return mailer.Send(ctx, mail.Message{
			To:      []string{address},
			Subject: defaultIfEmpty(strings.TrimSpace(n.Title), defaultEmailSubject),
			Body:    n.Body,
		})
	}
	d.skip = func(err error) bool { return errors.Is(err, mail.ErrSMTPDisabled) }
	return &EmailDispatchService{dispatcher: d}, nil
}

// Run dispatches one batch of due email notifications.
func (s *EmailDispatchService) Run(ctx context.Context) (DispatchStats, error) {
	return s.dispatcher.run(ctx)
}
