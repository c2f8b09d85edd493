package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// Notification is an ephemeral in-app message addressed to one user.
type Notification struct {
	ID          uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	RecipientID uuid.UUID              `gorm:"column:recipient_id;type:uuid;not null"`
	Type        enums.NotificationType `gorm:"column:type;type:notification_type;not null"`
	Title       string                 `gorm:"column:title;type:text;not null"`
	Message     string                 `gorm:"column:message;type:text;not null"`
	Data        json.RawMessage        `gorm:"column:data;type:jsonb;not null"`
	IsRead      bool                   `gorm:"column:is_read;not null;default:false"`
	CreatedAt   time.Time              `gorm:"column:created_at"`
	UpdatedAt   *time.Time             `gorm:"column:updated_at"`
}
