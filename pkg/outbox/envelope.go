package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// EnvelopeVersion is stamped on events that do not ask for another version.
const EnvelopeVersion = 1

// ActorRef is the user whose action produced an order event.
type ActorRef struct {
	UserID uuid.UUID       `json:"userId"`
	Role   enums.ActorRole `json:"role,omitempty"`
}

// PayloadEnvelope wraps every order event payload, in the database row and on
// the wire alike. Data holds the event specific body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func newEnvelope(event DomainEvent, now time.Time) (PayloadEnvelope, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("marshal %s payload: %w", event.EventType, err)
	}
	env := PayloadEnvelope{
		Version:    event.Version,
		EventID:    uuid.NewString(),
		OccurredAt: event.OccurredAt,
		Actor:      event.Actor,
		Data:       data,
	}
	if env.Version == 0 {
		env.Version = EnvelopeVersion
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = now.UTC()
	}
	return env, nil
}

// Validate rejects envelopes a consumer cannot deduplicate or decode.
func (e PayloadEnvelope) Validate() error {
	switch {
	case e.EventID == "":
		return errors.New("envelope missing event id")
	case e.Version < 1 || e.Version > EnvelopeVersion:
		return fmt.Errorf("unsupported envelope version %d", e.Version)
	case len(e.Data) == 0:
		return errors.New("envelope missing data")
	}
	return nil
}

// DecodeData unmarshals the event body into dst.
func (e PayloadEnvelope) DecodeData(dst any) error {
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("decode event %s data: %w", e.EventID, err)
	}
	return nil
}
