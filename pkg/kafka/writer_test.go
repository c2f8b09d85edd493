package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
)

type fakeWriter struct {
	writeFn func(ctx context.Context, msgs ...kafka.Message) error
	closed  bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	return f.writeFn(ctx, msgs...)
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestWriterSendMapsMessage(t *testing.T) {
	var got []kafka.Message
	fw := &fakeWriter{writeFn: func(_ context.Context, msgs ...kafka.Message) error {
		got = append(got, msgs...)
		return nil
	}}
	fixed := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	w := &Writer{w: fw, now: func() time.Time { return fixed }}

	err := w.Send(context.Background(), outbox.Message{
		Topic:      "order-events",
		Key:        "order-1",
		Data:       []byte(`{"version":1}`),
		Attributes: map[string]string{"event_type": "order_created"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "order-events", got[0].Topic)
	assert.Equal(t, []byte("order-1"), got[0].Key)
	assert.Equal(t, fixed, got[0].Time)
	require.Len(t, got[0].Headers, 1)
	assert.Equal(t, "event_type", got[0].Headers[0].Key)

	require.NoError(t, w.Close())
	assert.True(t, fw.closed)
}

func TestWriterSendErrors(t *testing.T) {
	fw := &fakeWriter{writeFn: func(context.Context, ...kafka.Message) error {
		return errors.New("leader not available")
	}}
	w := &Writer{w: fw, now: time.Now}

	require.Error(t, w.Send(context.Background(), outbox.Message{}))
	err := w.Send(context.Background(), outbox.Message{Topic: "order-events"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}

func TestNewWriterRequiresBrokers(t *testing.T) {
	_, err := NewWriter(config.KafkaConfig{})
	require.Error(t, err)

	w, err := NewWriter(config.KafkaConfig{Brokers: []string{"localhost:9092"}, WriteTimeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, w.Close())
}
