// Package realtime pushes order and notification events to connected clients
// over redis pub/sub channels.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/redis"
)

// Event types carried on realtime channels.
const (
	EventNotification     = "notification"
	EventOrderStatus      = "order_status"
	EventClaimableChanged = "claimable_changed"
)

type Event struct {
	Type    string            `json:"type"`
	OrderID *uuid.UUID        `json:"order_id,omitempty"`
	Status  enums.OrderStatus `json:"status,omitempty"`
	Payload json.RawMessage   `json:"payload,omitempty"`
	SentAt  time.Time         `json:"sent_at"`
}

type pubsubClient interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (redis.Subscription, error)
	ChannelKey(parts ...string) string
}

// Broker names channels and publishes events onto them.
type Broker struct {
	client pubsubClient
	logg   *logger.Logger
	now    func() time.Time
}

func NewBroker(client pubsubClient, logg *logger.Logger) (*Broker, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	return &Broker{client: client, logg: logg, now: time.Now}, nil
}

func (b *Broker) UserChannel(userID uuid.UUID) string {
	return b.client.ChannelKey("user", userID.String())
}

func (b *Broker) OrderChannel(orderID uuid.UUID) string {
	return b.client.ChannelKey("order", orderID.String())
}

// DriversChannel carries claim queue changes to every online driver.
func (b *Broker) DriversChannel() string {
	return b.client.ChannelKey("drivers", "available")
}

func (b *Broker) PublishUser(ctx context.Context, userID uuid.UUID, evt Event) error {
	return b.publish(ctx, b.UserChannel(userID), evt)
}

func (b *Broker) PublishOrder(ctx context.Context, orderID uuid.UUID, evt Event) error {
	return b.publish(ctx, b.OrderChannel(orderID), evt)
}

func (b *Broker) PublishDrivers(ctx context.Context, evt Event) error {
	return b.publish(ctx, b.DriversChannel(), evt)
}

func (b *Broker) publish(ctx context.Context, channel string, evt Event) error {
	if evt.SentAt.IsZero() {
		evt.SentAt = b.now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal realtime event: %w", err)
	}
	if err := b.client.Publish(ctx, channel, payload); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}
