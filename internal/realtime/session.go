package realtime

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/retry"
)

// Watch keys used by Session.
const (
	WatchUser    = "user"
	WatchDrivers = "drivers"
)

// OrderWatchKey names the subscription following a single order.
func OrderWatchKey(orderID uuid.UUID) string {
	return "order:" + orderID.String()
}

// Session owns every subscription opened for one connected user and tears
// them down together.
type Session struct {
	broker *Broker
	userID uuid.UUID
	role   enums.ActorRole
	opts   retry.Options

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// RetryOptions maps realtime config onto the reconnect controller.
func RetryOptions(cfg config.RealtimeConfig) retry.Options {
	return retry.Options{
		MaxAttempts: cfg.MaxReconnectAttempts,
		BaseDelay:   cfg.ReconnectBaseDelay,
		Cooldown:    cfg.ReconnectCooldown,
		Jitter:      cfg.ReconnectBaseDelay / 2,
	}
}

func (b *Broker) NewSession(userID uuid.UUID, role enums.ActorRole, opts retry.Options) *Session {
	return &Session{
		broker: b,
		userID: userID,
		role:   role,
		opts:   opts,
		subs:   map[string]*Subscription{},
	}
}

func (s *Session) UserID() uuid.UUID     { return s.userID }
func (s *Session) Role() enums.ActorRole { return s.role }

// Open starts the subscriptions every session gets: the user's own channel
// and, for drivers, the claim queue channel.
func (s *Session) Open(ctx context.Context, handler Handler) error {
	if err := s.Watch(ctx, WatchUser, []string{s.broker.UserChannel(s.userID)}, handler); err != nil {
		return err
	}
	if s.role == enums.ActorRoleDriver {
		if err := s.Watch(ctx, WatchDrivers, []string{s.broker.DriversChannel()}, handler); err != nil {
			s.Close()
			return err
		}
	}
	return nil
}

// WatchOrder follows one order's status channel. Callers check visibility first.
func (s *Session) WatchOrder(ctx context.Context, orderID uuid.UUID, handler Handler) error {
	return s.Watch(ctx, OrderWatchKey(orderID), []string{s.broker.OrderChannel(orderID)}, handler)
}

// Watch starts a subscription under key, replacing any previous one.
func (s *Session) Watch(ctx context.Context, key string, channels []string, handler Handler) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return context.Canceled
	}
	previous := s.subs[key]
	delete(s.subs, key)
	s.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}

	sub := s.broker.NewSubscription(channels, handler, s.opts)
	if err := sub.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		go sub.Stop()
		return context.Canceled
	}
	s.subs[key] = sub
	return nil
}

func (s *Session) Unwatch(key string) {
	s.mu.Lock()
	sub := s.subs[key]
	delete(s.subs, key)
	s.mu.Unlock()
	if sub != nil {
		sub.Stop()
	}
}

// Active lists the keys of running subscriptions.
func (s *Session) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.subs))
	for key, sub := range s.subs {
		if st := sub.State(); st == StateActive || st == StateRetrying {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Close stops every subscription. Further Watch calls fail.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	subs := s.subs
	s.subs = map[string]*Subscription{}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}
}
