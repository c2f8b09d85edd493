package outbox

import (
	"context"
	"time"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
)

// Message is one outbox row rendered for a broker.
type Message struct {
	Topic      string
	Key        string
	Data       []byte
	Attributes map[string]string
}

// Sink delivers messages to a broker and blocks until the broker acknowledges.
type Sink interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// NewMessage keys the message by aggregate so per-order events stay ordered
// on partitioned brokers.
func NewMessage(topic string, event models.OutboxEvent, envelope PayloadEnvelope) Message {
	return Message{
		Topic: topic,
		Key:   event.AggregateID.String(),
		Data:  event.Payload,
		Attributes: map[string]string{
			"event_id":       envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}
}
