// Package kafka is the alternate outbox sink for deployments that run Kafka
// instead of Pub/Sub.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Writer struct {
	w   messageWriter
	now func() time.Time
}

// NewWriter builds a synchronous writer; the topic comes from each message.
func NewWriter(cfg config.KafkaConfig) (*Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	return &Writer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: cfg.WriteTimeout,
		},
		now: time.Now,
	}, nil
}

func (w *Writer) Send(ctx context.Context, msg outbox.Message) error {
	if msg.Topic == "" {
		return errors.New("kafka topic is required")
	}
	headers := make([]kafka.Header, 0, len(msg.Attributes))
	for k, v := range msg.Attributes {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	err := w.w.WriteMessages(ctx, kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Data,
		Headers: headers,
		Time:    w.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("write to %s: %w", msg.Topic, err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.w.Close()
}
