// Package retry tracks bounded retries with an explicit attempt count and
// cooldown expiry. Delays come from sethvargo/go-retry backoffs.
package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

var (
	// ErrCooldown is returned while the controller refuses attempts after exhausting its budget.
	ErrCooldown = errors.New("retry: cooling down")
	// ErrExhausted is returned when the budget is spent and no cooldown is configured.
	ErrExhausted = errors.New("retry: attempts exhausted")
)

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 30 * time.Second
)

type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Cooldown re-arms the controller once it expires. Zero means a spent budget is final.
	Cooldown time.Duration
	Jitter   time.Duration
	Now      func() time.Time
}

// State is a point in time snapshot of the controller.
type State struct {
	Attempts      int
	MaxAttempts   int
	CooldownUntil time.Time
}

// Controller is safe for concurrent use.
type Controller struct {
	mu            sync.Mutex
	opts          Options
	attempts      int
	cooldownUntil time.Time
	backoff       goretry.Backoff
	now           func() time.Time
}

func NewController(opts Options) *Controller {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	c := &Controller{opts: opts, now: now}
	c.backoff = c.newBackoff()
	return c
}

func (c *Controller) newBackoff() goretry.Backoff {
	b := goretry.NewExponential(c.opts.BaseDelay)
	b = goretry.WithCappedDuration(c.opts.MaxDelay, b)
	if c.opts.Jitter > 0 {
		b = goretry.WithJitter(c.opts.Jitter, b)
	}
	return goretry.WithMaxRetries(uint64(c.opts.MaxAttempts), b)
}

// Allow reports whether a new attempt may start now.
func (c *Controller) Allow() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cooldownUntil.IsZero() {
		if c.now().Before(c.cooldownUntil) {
			return ErrCooldown
		}
		c.resetLocked()
	}
	if c.attempts >= c.opts.MaxAttempts {
		return ErrExhausted
	}
	return nil
}

// Failure records a failed attempt and returns the delay before the next one.
// Once the budget is spent it returns ErrCooldown or ErrExhausted.
func (c *Controller) Failure() (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempts++
	delay, stop := c.backoff.Next()
	if !stop && c.attempts < c.opts.MaxAttempts {
		return delay, nil
	}
	if c.opts.Cooldown > 0 {
		c.cooldownUntil = c.now().Add(c.opts.Cooldown)
		return c.opts.Cooldown, ErrCooldown
	}
	return 0, ErrExhausted
}

// Success clears the attempt count and any cooldown.
func (c *Controller) Success() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	c.attempts = 0
	c.cooldownUntil = time.Time{}
	c.backoff = c.newBackoff()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Attempts:      c.attempts,
		MaxAttempts:   c.opts.MaxAttempts,
		CooldownUntil: c.cooldownUntil,
	}
}

// Wait sleeps for delay unless ctx ends first.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
