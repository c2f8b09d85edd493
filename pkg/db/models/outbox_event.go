package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// OutboxEvent is one domain event waiting for, or past, delivery to the
// broker. A row is pending until it is either published or parked.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:event_type_enum;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:aggregate_type_enum;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`

	// ParkedAt is set once the publisher gives up; ParkReason says why
	// (non_retryable or max_attempts). Parked rows wait for manual replay.
	ParkedAt   *time.Time `gorm:"column:parked_at"`
	ParkReason *string    `gorm:"column:park_reason"`
}

// Pending reports whether the publisher still owes this row a delivery.
func (e OutboxEvent) Pending() bool {
	return e.PublishedAt == nil && e.ParkedAt == nil
}
