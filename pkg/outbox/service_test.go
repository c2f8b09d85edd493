package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

type statusData struct {
	To string `json:"to"`
}

func newTestService(t *testing.T) (*Service, *Repository, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	return svc, repo, conn
}

func TestEmitStoresEnvelope(t *testing.T) {
	svc, _, conn := newTestService(t)
	fixed := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	orderID := uuid.New()
	actorID := uuid.New()
	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &ActorRef{UserID: actorID, Role: enums.ActorRoleSeller},
			Data:          statusData{To: "accepted"},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, orderID, rows[0].AggregateID)
	assert.Nil(t, rows[0].PublishedAt)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.True(t, envelope.OccurredAt.Equal(fixed))
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, actorID, envelope.Actor.UserID)
	assert.JSONEq(t, `{"to":"accepted"}`, string(envelope.Data))
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	svc, _, conn := newTestService(t)

	boom := errors.New("boom")
	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderDeleted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          map[string]string{},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitValidation(t *testing.T) {
	svc, _, conn := newTestService(t)

	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))
	err := svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.OutboxEventType("nope"),
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
	})
	require.Error(t, err)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	svc, repo, conn := newTestService(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		svc.now = func() time.Time { return at }
		require.NoError(t, svc.Emit(ctx, conn, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          map[string]int{"n": i},
		}))
	}

	var batch []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		batch, err = repo.FetchUnpublishedTx(tx, 2, 5)
		return err
	}))
	require.Len(t, batch, 2)
	assert.True(t, batch[0].CreatedAt.Before(batch[1].CreatedAt))

	published := time.Now().UTC().Add(-30 * time.Minute)
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkPublishedTx(tx, batch[0].ID, published); err != nil {
			return err
		}
		return repo.MarkFailedTx(tx, batch[1].ID, errors.New("sink down"))
	}))

	var failed models.OutboxEvent
	require.NoError(t, conn.First(&failed, "id = ?", batch[1].ID).Error)
	assert.Equal(t, 1, failed.AttemptCount)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "sink down", *failed.LastError)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return repo.MarkTerminalTx(tx, batch[1].ID, "non_retryable", errors.New("bad payload"), time.Now().UTC())
	}))
	var parked models.OutboxEvent
	require.NoError(t, conn.First(&parked, "id = ?", batch[1].ID).Error)
	assert.False(t, parked.Pending())
	assert.Equal(t, 2, parked.AttemptCount)
	require.NotNil(t, parked.ParkReason)
	assert.Equal(t, "non_retryable", *parked.ParkReason)

	count, err := repo.CountParked(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		remaining, err = repo.FetchUnpublishedTx(tx, 10, 5)
		return err
	}))
	require.Len(t, remaining, 1, "published and parked rows are skipped")

	deleted, err := repo.DeletePublishedBefore(ctx, nil, time.Now().UTC().Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
