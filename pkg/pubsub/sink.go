package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
)

type publisherSource interface {
	Publisher(name string) *pubsub.Publisher
}

// Sink publishes outbox messages to Pub/Sub topics, caching one publisher per topic.
type Sink struct {
	source     publisherSource
	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

func NewSink(source publisherSource) (*Sink, error) {
	if source == nil {
		return nil, errors.New("pubsub client is required")
	}
	return &Sink{source: source, publishers: map[string]*pubsub.Publisher{}}, nil
}

func (s *Sink) Send(ctx context.Context, msg outbox.Message) error {
	pub, err := s.publisher(msg.Topic)
	if err != nil {
		return err
	}
	result := pub.Publish(ctx, &pubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.Topic, err)
	}
	return nil
}

func (s *Sink) publisher(topic string) (*pubsub.Publisher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pub, ok := s.publishers[topic]; ok {
		return pub, nil
	}
	pub := s.source.Publisher(topic)
	if pub == nil {
		return nil, fmt.Errorf("publisher not configured for topic %q", topic)
	}
	s.publishers[topic] = pub
	return pub, nil
}

// Close flushes pending messages on every cached publisher.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, pub := range s.publishers {
		pub.Stop()
		delete(s.publishers, topic)
	}
	return nil
}
