package services

import (
	apperrors "github.com/charlesng35/matchdispatch/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.NotFound("USER_NOT_FOUND", "User not found")
	// ErrNotificationNotFound indicates the notification does not exist for the user.
	ErrNotificationNotFound = apperrors.NotFound("NOTIFICATION_NOT_FOUND", "Notification not found")
)
