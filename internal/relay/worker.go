package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/registry"
)

const consumerName = "realtime-relay"

type idempotencyChecker interface {
	Begin(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.Outcome, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Abandon(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type eventResolver interface {
	Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type handler interface {
	Handle(ctx context.Context, event *registry.ResolvedEvent) error
}

// Worker pulls order events off the Pub/Sub subscription and hands each one
// to the relay exactly once per idempotency window.
type Worker struct {
	subscription *gcppubsub.Subscriber
	registry     eventResolver
	handler      handler
	manager      idempotencyChecker
	logg         *logger.Logger
}

type WorkerParams struct {
	Subscription *gcppubsub.Subscriber
	Registry     eventResolver
	Handler      handler
	Idempotency  idempotencyChecker
	Logger       *logger.Logger
}

func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Subscription == nil {
		return nil, errors.New("orders subscription is required")
	}
	if params.Registry == nil {
		return nil, errors.New("event registry is required")
	}
	if params.Handler == nil {
		return nil, errors.New("relay handler is required")
	}
	if params.Idempotency == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Worker{
		subscription: params.Subscription,
		registry:     params.Registry,
		handler:      params.Handler,
		manager:      params.Idempotency,
		logg:         params.Logger,
	}, nil
}

type processResult struct {
	nack bool
}

// Run blocks receiving messages until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	return w.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if w.process(innerCtx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process acks malformed messages since redelivery cannot fix them, and nacks
// anything that failed for a reason that might clear up. A duplicate that
// arrives while another delivery is mid-flight is nacked too.
func (w *Worker) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	fields := map[string]any{"message_id": msg.ID}
	logCtx := w.logg.WithFields(ctx, fields)

	row, err := outboxRow(msg)
	if err != nil {
		w.logg.Warn(w.logg.WithField(logCtx, "error", err.Error()), "invalid order event message")
		return processResult{}
	}
	logCtx = w.logg.WithFields(logCtx, map[string]any{
		"event_type":   row.EventType,
		"aggregate_id": row.AggregateID.String(),
	})

	resolved, err := w.registry.Resolve(row)
	if err != nil {
		w.logg.Warn(w.logg.WithField(logCtx, "error", err.Error()), "undecodable order event")
		return processResult{}
	}
	eventID, err := uuid.Parse(strings.TrimSpace(resolved.Envelope.EventID))
	if err != nil {
		w.logg.Warn(logCtx, "invalid event id")
		return processResult{}
	}
	logCtx = w.logg.WithField(logCtx, "event_id", eventID.String())

	outcome, err := w.manager.Begin(logCtx, consumerName, eventID)
	if err != nil {
		w.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	switch outcome {
	case idempotency.AlreadyDone:
		w.logg.Debug(logCtx, "event already processed")
		return processResult{}
	case idempotency.InFlight:
		w.logg.Info(logCtx, "event in flight elsewhere; retrying later")
		return processResult{nack: true}
	}

	if err := w.handler.Handle(logCtx, resolved); err != nil {
		w.logg.Error(logCtx, "relay failed", err)
		if abandonErr := w.manager.Abandon(logCtx, consumerName, eventID); abandonErr != nil {
			w.logg.Warn(w.logg.WithField(logCtx, "error", abandonErr.Error()), "failed to release idempotency lease")
		}
		return processResult{nack: true}
	}
	if err := w.manager.Complete(logCtx, consumerName, eventID); err != nil {
		// delivered already; a redelivery after the lease lapses repeats it
		w.logg.Warn(w.logg.WithField(logCtx, "error", err.Error()), "failed to mark event done")
	}
	return processResult{}
}

func outboxRow(msg *gcppubsub.Message) (models.OutboxEvent, error) {
	eventType, err := enums.ParseOutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(strings.TrimSpace(msg.Attributes["aggregate_type"]))
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID, err := uuid.Parse(strings.TrimSpace(msg.Attributes["aggregate_id"]))
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("aggregate_id: %w", err)
	}
	return models.OutboxEvent{
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       msg.Data,
	}, nil
}
