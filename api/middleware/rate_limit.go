package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/angelmondragon/fulfillment-backend/api/responses"
	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

const limiterIdleTTL = 10 * time.Minute

// ActorLimiter decides whether userID may make another limited call.
type ActorLimiter interface {
	AllowActor(ctx context.Context, userID uuid.UUID) (bool, error)
}

// ActorRateLimiter keeps one token bucket per authenticated user.
type ActorRateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[uuid.UUID]*actorBucket
	swept   time.Time
}

type actorBucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

func NewActorRateLimiter(cfg config.RateLimitConfig) *ActorRateLimiter {
	burst := cfg.ClaimBurst
	if burst <= 0 {
		burst = 1
	}
	return &ActorRateLimiter{
		limit:   rate.Limit(cfg.ClaimPerSecond),
		burst:   burst,
		now:     time.Now,
		buckets: map[uuid.UUID]*actorBucket{},
	}
}

func (l *ActorRateLimiter) Allow(userID uuid.UUID) bool {
	if l.limit <= 0 {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > limiterIdleTTL {
		for id, b := range l.buckets {
			if now.Sub(b.seen) > limiterIdleTTL {
				delete(l.buckets, id)
			}
		}
		l.swept = now
	}
	b, ok := l.buckets[userID]
	if !ok {
		b = &actorBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[userID] = b
	}
	b.seen = now
	return b.limiter.AllowN(now, 1)
}

func (l *ActorRateLimiter) AllowActor(_ context.Context, userID uuid.UUID) (bool, error) {
	return l.Allow(userID), nil
}

type fixedWindowCounter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// SharedRateLimiter counts calls per user in a redis fixed window so every
// API replica sees the same budget. The window holds burst calls and lasts
// as long as the bucket takes to refill.
type SharedRateLimiter struct {
	counter fixedWindowCounter
	scope   string
	limit   int64
	window  time.Duration
}

func NewSharedRateLimiter(counter fixedWindowCounter, scope string, cfg config.RateLimitConfig) (*SharedRateLimiter, error) {
	if counter == nil {
		return nil, fmt.Errorf("rate limit counter required")
	}
	burst := cfg.ClaimBurst
	if burst <= 0 {
		burst = 1
	}
	var window time.Duration
	if cfg.ClaimPerSecond > 0 {
		window = time.Duration(math.Ceil(float64(burst) / cfg.ClaimPerSecond * float64(time.Second)))
	}
	return &SharedRateLimiter{counter: counter, scope: scope, limit: int64(burst), window: window}, nil
}

func (l *SharedRateLimiter) AllowActor(ctx context.Context, userID uuid.UUID) (bool, error) {
	if l.window <= 0 {
		return true, nil
	}
	allowed, _, err := l.counter.FixedWindowAllow(ctx, l.scope+":"+userID.String(), l.limit, l.window)
	return allowed, err
}

// RateLimit rejects requests from actors who exhausted their budget. A
// limiter backend failure lets the request through.
func RateLimit(limiter ActorLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			allowed, err := limiter.AllowActor(ctx, UserIDFromContext(ctx))
			if err != nil {
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "rate limiter unavailable")
				}
				allowed = true
			}
			if !allowed {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
