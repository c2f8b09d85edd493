package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/internal/realtime"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

const defaultDispatchTimeout = 5 * time.Second

type userPublisher interface {
	PublishUser(ctx context.Context, userID uuid.UUID, evt realtime.Event) error
}

type dispatchRecorder interface {
	IncDispatch(ok bool)
}

// Dispatcher turns committed order events into stored notifications and live
// pushes. Failures are logged and counted, never returned: the order change
// they describe has already happened.
type Dispatcher struct {
	repo      Repository
	publisher userPublisher
	metrics   dispatchRecorder
	logg      *logger.Logger
	timeout   time.Duration
	now       func() time.Time
}

type DispatcherParams struct {
	Repo      Repository
	Publisher userPublisher
	Metrics   dispatchRecorder
	Logger    *logger.Logger
	Timeout   time.Duration
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &Dispatcher{
		repo:      params.Repo,
		publisher: params.Publisher,
		metrics:   params.Metrics,
		logg:      params.Logger,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

type notificationData struct {
	OrderID      uuid.UUID `json:"order_id"`
	Status       string    `json:"status"`
	DeliveryType string    `json:"delivery_type,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// Dispatch stores and pushes the notification evt resolves to, if any.
// It runs detached from the caller's cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, evt OrderEvent) {
	route, ok := Resolve(evt)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if d.logg != nil {
		ctx = d.logg.WithFields(ctx, map[string]any{
			"order_id":     evt.OrderID.String(),
			"recipient_id": route.RecipientID.String(),
			"type":         string(route.Type),
		})
	}

	err := d.deliver(ctx, evt, route)
	if d.metrics != nil {
		d.metrics.IncDispatch(err == nil)
	}
	if err != nil && d.logg != nil {
		d.logg.Error(ctx, "notification dispatch failed", err)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, evt OrderEvent, route Route) error {
	data, err := json.Marshal(notificationData{
		OrderID:      evt.OrderID,
		Status:       string(evt.Status),
		DeliveryType: string(evt.DeliveryType),
		Reason:       evt.Reason,
	})
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}

	now := d.now()
	row := &models.Notification{
		ID:          uuid.New(),
		RecipientID: route.RecipientID,
		Type:        route.Type,
		Title:       route.Title,
		Message:     route.Message,
		Data:        data,
		CreatedAt:   now,
	}
	if err := d.repo.Create(ctx, row); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}

	if d.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal realtime payload: %w", err)
	}
	orderID := evt.OrderID
	if err := d.publisher.PublishUser(ctx, route.RecipientID, realtime.Event{
		Type:    realtime.EventNotification,
		OrderID: &orderID,
		Status:  evt.Status,
		Payload: payload,
		SentAt:  now,
	}); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
