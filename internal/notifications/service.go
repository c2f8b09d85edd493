package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

// Service defines notification list/read/purge operations.
type Service interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error)
	Purge(ctx context.Context, recipientID uuid.UUID, scope enums.NotificationPurgeScope) (int64, error)
	PurgeVeryOld(ctx context.Context) (int64, error)
}

type service struct {
	repo   Repository
	policy config.NotificationsConfig
	logg   *logger.Logger
	now    func() time.Time
}

// ListParams configures pagination for notifications.
type ListParams struct {
	RecipientID uuid.UUID
	Limit       int
	Cursor      string
	UnreadOnly  bool
}

// ListResult wraps returned notifications and the cursor for the next page.
type ListResult struct {
	Items  []models.Notification `json:"items"`
	Cursor string                `json:"cursor"`
}

// NewService wires notifications dependencies. Zero thresholds in policy fall
// back to 24h very-old, 1h bulk window and 72h fetch horizon.
func NewService(repo Repository, policy config.NotificationsConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if policy.VeryOldAfter <= 0 {
		policy.VeryOldAfter = 24 * time.Hour
	}
	if policy.BulkPurgeWindow <= 0 {
		policy.BulkPurgeWindow = time.Hour
	}
	if policy.FetchHorizon <= 0 {
		policy.FetchHorizon = 72 * time.Hour
	}
	return &service{
		repo:   repo,
		policy: policy,
		logg:   logg,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// List drops the recipient's very old rows first, then pages through what is
// left inside the fetch horizon, newest first.
func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.RecipientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}

	now := s.now()
	recipient := params.RecipientID
	if _, err := s.repo.DeleteOlderThan(ctx, &recipient, now.Add(-s.policy.VeryOldAfter)); err != nil {
		// listing still works with stale rows present
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "purge very old notifications failed")
		}
	}

	query := listNotificationsParams{
		RecipientID: params.RecipientID,
		Since:       now.Add(-s.policy.FetchHorizon),
		Limit:       params.Limit,
		UnreadOnly:  params.UnreadOnly,
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	query.Cursor = cursor

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, db.Classify(err, "list notifications")
	}
	if rows == nil {
		rows = []models.Notification{}
	}

	result := &ListResult{Items: rows}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func (s *service) MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error {
	if recipientID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	result, err := s.repo.MarkRead(ctx, recipientID, notificationID, s.now())
	if err != nil {
		return db.Classify(err, "mark notification read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	if recipientID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}

	count, err := s.repo.MarkAllRead(ctx, recipientID, s.now())
	if err != nil {
		return 0, db.Classify(err, "mark notifications read")
	}
	return count, nil
}

// Purge removes the recipient's notifications older than the bulk window, or
// every one of them with NotificationPurgeAll.
func (s *service) Purge(ctx context.Context, recipientID uuid.UUID, scope enums.NotificationPurgeScope) (int64, error) {
	if recipientID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "recipient id required")
	}

	var (
		count int64
		err   error
	)
	switch scope {
	case enums.NotificationPurgeAll:
		count, err = s.repo.DeleteAll(ctx, recipientID)
	case enums.NotificationPurgeWindow, "":
		count, err = s.repo.DeleteOlderThan(ctx, &recipientID, s.now().Add(-s.policy.BulkPurgeWindow))
	default:
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid purge scope").WithDetails(map[string]any{"scope": scope})
	}
	if err != nil {
		return 0, db.Classify(err, "purge notifications")
	}
	return count, nil
}

// PurgeVeryOld sweeps every recipient's rows past the very-old threshold.
func (s *service) PurgeVeryOld(ctx context.Context) (int64, error) {
	count, err := s.repo.DeleteOlderThan(ctx, nil, s.now().Add(-s.policy.VeryOldAfter))
	if err != nil {
		return 0, db.Classify(err, "purge very old notifications")
	}
	return count, nil
}
