// Package idempotency guards outbox consumers against redelivery. An event
// is leased while a handler runs and marked done once it succeeds, so a
// duplicate that arrives mid-flight is retried instead of dropped.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/fulfillment-backend/pkg/redis"
)

const (
	stateInFlight = "in_flight"
	stateDone     = "done"

	defaultLeaseTTL = 2 * time.Minute
)

// Outcome is the result of Begin.
type Outcome int

const (
	// Acquired means the caller holds the lease and must Complete or Abandon.
	Acquired Outcome = iota + 1
	// AlreadyDone means a previous delivery finished the event.
	AlreadyDone
	// InFlight means another delivery holds the lease right now.
	InFlight
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case AlreadyDone:
		return "already_done"
	case InFlight:
		return "in_flight"
	}
	return "unknown"
}

// Manager tracks events per consumer under
// `ff:idempotency:evt:<consumer>:<event_id>`.
type Manager struct {
	store    redis.IdempotencyStore
	doneTTL  time.Duration
	leaseTTL time.Duration
}

func NewManager(store redis.IdempotencyStore, doneTTL, leaseTTL time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if doneTTL < 0 || leaseTTL < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if leaseTTL == 0 {
		leaseTTL = defaultLeaseTTL
	}
	return &Manager{store: store, doneTTL: doneTTL, leaseTTL: leaseTTL}, nil
}

// Begin leases eventID for consumer unless it is already done or leased.
func (m *Manager) Begin(ctx context.Context, consumer string, eventID uuid.UUID) (Outcome, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return 0, err
	}
	acquired, err := m.store.SetNX(ctx, key, stateInFlight, m.leaseTTL)
	if err != nil {
		return 0, fmt.Errorf("lease %s: %w", key, err)
	}
	if acquired {
		return Acquired, nil
	}

	state, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// lease expired between the two calls; let the broker redeliver
		return InFlight, nil
	case err != nil:
		return 0, fmt.Errorf("read %s: %w", key, err)
	case state == stateDone:
		return AlreadyDone, nil
	default:
		return InFlight, nil
	}
}

// Complete marks eventID done for the retention window.
func (m *Manager) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, stateDone, m.doneTTL)
}

// Abandon drops the lease so the next delivery can retry.
func (m *Manager) Abandon(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
