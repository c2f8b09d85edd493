// Package relay fans committed order events out to realtime channels so
// open order screens and the driver queue update without polling.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/fulfillment-backend/internal/realtime"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/registry"
)

type publisher interface {
	PublishOrder(ctx context.Context, orderID uuid.UUID, evt realtime.Event) error
	PublishDrivers(ctx context.Context, evt realtime.Event) error
}

// Relay maps decoded outbox events onto realtime events.
type Relay struct {
	broker publisher
	logg   *logger.Logger
}

func NewRelay(broker publisher, logg *logger.Logger) (*Relay, error) {
	if broker == nil {
		return nil, fmt.Errorf("realtime broker required")
	}
	return &Relay{broker: broker, logg: logg}, nil
}

func (r *Relay) Handle(ctx context.Context, event *registry.ResolvedEvent) error {
	sentAt := event.Envelope.OccurredAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	switch payload := event.Payload.(type) {
	case *payloads.OrderCreatedEvent:
		return r.orderEvent(ctx, payload.OrderID, enums.OrderStatusPending, payload, sentAt)
	case *payloads.OrderStatusChangedEvent:
		err := r.orderEvent(ctx, payload.OrderID, payload.To, payload, sentAt)
		if payload.DeliveryType.RequiresDriver() {
			err = multierr.Append(err, r.claimableChange(ctx, payload, sentAt))
		}
		return err
	case *payloads.OrderDriverAssignedEvent:
		return r.orderEvent(ctx, payload.OrderID, enums.OrderStatusAssigned, payload, sentAt)
	case *payloads.OrderDeletedEvent:
		return r.orderEvent(ctx, payload.OrderID, "", map[string]any{
			"order_id": payload.OrderID,
			"deleted":  true,
		}, sentAt)
	default:
		if r.logg != nil {
			r.logg.Info(ctx, "event has no realtime audience")
		}
		return nil
	}
}

func (r *Relay) orderEvent(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus, payload any, sentAt time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode realtime payload: %w", err)
	}
	return r.broker.PublishOrder(ctx, orderID, realtime.Event{
		Type:    realtime.EventOrderStatus,
		OrderID: &orderID,
		Status:  status,
		Payload: body,
		SentAt:  sentAt,
	})
}

// claimableChange tells drivers when a delivery order enters the queue, or
// leaves it for any reason other than a claim. Claims announce themselves.
func (r *Relay) claimableChange(ctx context.Context, evt *payloads.OrderStatusChangedEvent, sentAt time.Time) error {
	var claimable bool
	switch {
	case evt.To == enums.OrderStatusReady:
		claimable = true
	case evt.From == enums.OrderStatusReady && evt.To != enums.OrderStatusAssigned:
		claimable = false
	default:
		return nil
	}
	body, err := json.Marshal(map[string]any{"order_id": evt.OrderID, "claimable": claimable})
	if err != nil {
		return fmt.Errorf("encode claimable payload: %w", err)
	}
	orderID := evt.OrderID
	return r.broker.PublishDrivers(ctx, realtime.Event{
		Type:    realtime.EventClaimableChanged,
		OrderID: &orderID,
		Status:  evt.To,
		Payload: body,
		SentAt:  sentAt,
	})
}
