package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/redis"
	"github.com/angelmondragon/fulfillment-backend/pkg/retry"
)

// Handler receives decoded events. It runs on the subscription goroutine.
type Handler func(ctx context.Context, evt Event)

// SubscriptionState is what a caller can observe about a subscription.
type SubscriptionState string

const (
	StateIdle     SubscriptionState = "idle"
	StateActive   SubscriptionState = "active"
	StateRetrying SubscriptionState = "retrying"
	StateFailed   SubscriptionState = "failed"
	StateStopped  SubscriptionState = "stopped"
)

// Subscription is one explicit listener on a fixed set of channels. Lost
// connections are re-established under a bounded retry controller.
type Subscription struct {
	client     pubsubClient
	channels   []string
	handler    Handler
	controller *retry.Controller
	logg       *logger.Logger

	mu      sync.Mutex
	state   SubscriptionState
	current redis.Subscription
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

func (b *Broker) NewSubscription(channels []string, handler Handler, opts retry.Options) *Subscription {
	return &Subscription{
		client:     b.client,
		channels:   channels,
		handler:    handler,
		controller: retry.NewController(opts),
		logg:       b.logg,
		state:      StateIdle,
	}
}

// Start subscribes synchronously so the caller sees the first failure, then
// consumes in the background until Stop or ctx ends.
func (s *Subscription) Start(ctx context.Context) error {
	if len(s.channels) == 0 || s.handler == nil {
		return errors.New("subscription needs channels and a handler")
	}
	s.mu.Lock()
	if s.state == StateActive || s.state == StateRetrying {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	sub, err := s.client.Subscribe(ctx, s.channels...)
	if err != nil {
		s.setFailed(err)
		return fmt.Errorf("subscribe %v: %w", s.channels, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.current = sub
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateActive
	s.lastErr = nil
	done := s.done
	s.mu.Unlock()

	s.controller.Success()
	go s.run(runCtx, sub, done)
	return nil
}

// Stop ends the subscription and waits for its goroutine. It is safe to call twice.
func (s *Subscription) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	current := s.current
	done := s.done
	s.current = nil
	if s.state != StateFailed {
		s.state = StateStopped
	}
	s.mu.Unlock()

	if current != nil {
		_ = current.Close()
	}
	if done != nil {
		<-done
	}
}

func (s *Subscription) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the subscription to StateFailed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Subscription) run(ctx context.Context, sub redis.Subscription, done chan struct{}) {
	defer close(done)
	for {
		err := s.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}

		next, ok := s.reconnect(ctx, err)
		if !ok {
			return
		}
		sub = next
	}
}

func (s *Subscription) consume(ctx context.Context, sub redis.Subscription) error {
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		var evt Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			if s.logg != nil {
				s.logg.Warn(s.logg.WithField(ctx, "channel", msg.Channel), "dropping undecodable realtime message")
			}
			continue
		}
		s.handler(ctx, evt)
	}
}

// reconnect retries Subscribe until it succeeds, ctx ends or the controller gives up.
func (s *Subscription) reconnect(ctx context.Context, cause error) (redis.Subscription, bool) {
	s.setState(StateRetrying)
	for {
		delay, err := s.controller.Failure()
		if errors.Is(err, retry.ErrExhausted) {
			s.setFailed(cause)
			if s.logg != nil {
				s.logg.Error(ctx, "realtime subscription gave up", cause)
			}
			return nil, false
		}
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"channels": s.channels,
				"delay_ms": delay.Milliseconds(),
				"attempts": s.controller.State().Attempts,
			})
			s.logg.Warn(logCtx, "realtime subscription lost, retrying")
		}
		if retry.Wait(ctx, delay) != nil {
			return nil, false
		}
		if err := s.controller.Allow(); err != nil && !errors.Is(err, retry.ErrCooldown) {
			s.setFailed(cause)
			return nil, false
		}

		sub, subErr := s.client.Subscribe(ctx, s.channels...)
		if subErr == nil {
			s.controller.Success()
			s.mu.Lock()
			if ctx.Err() != nil {
				s.mu.Unlock()
				_ = sub.Close()
				return nil, false
			}
			s.current = sub
			s.state = StateActive
			s.mu.Unlock()
			return sub, true
		}
		cause = subErr
		if ctx.Err() != nil {
			return nil, false
		}
	}
}

func (s *Subscription) setState(state SubscriptionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return
	}
	s.state = state
}

func (s *Subscription) setFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateFailed
	s.lastErr = err
}
