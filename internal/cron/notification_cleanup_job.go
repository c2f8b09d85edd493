package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

type veryOldPurger interface {
	PurgeVeryOld(ctx context.Context) (int64, error)
}

type NotificationCleanupJobParams struct {
	Logger        *logger.Logger
	Notifications veryOldPurger
}

// NewNotificationCleanupJob sweeps notifications past the very-old threshold
// for recipients who never open their list.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Notifications == nil {
		return nil, fmt.Errorf("notifications service required")
	}
	return &notificationCleanupJob{logg: params.Logger, notifications: params.Notifications}, nil
}

type notificationCleanupJob struct {
	logg          *logger.Logger
	notifications veryOldPurger
}

func (j *notificationCleanupJob) Name() string { return "notification-cleanup" }

func (j *notificationCleanupJob) Run(ctx context.Context) error {
	deleted, err := j.notifications.PurgeVeryOld(ctx)
	if err != nil {
		return fmt.Errorf("notification cleanup: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "rows_deleted", deleted), "notification cleanup complete")
	return nil
}
