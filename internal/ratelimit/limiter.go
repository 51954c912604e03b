package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/atelier-studio/atelier/internal/cache"
)

// Action classes with dedicated limits. Unknown classes are rejected so a
// typo in a caller cannot silently run unlimited.
const (
	ActionCreateInvitation = "create-invitation"
	ActionResendInvitation = "resend-invitation"
)

// Rule bounds how many times an action may occur per actor inside a rolling
// window.
type Rule struct {
	Max    int64
	Window time.Duration
}

// Result reports the outcome of a rate-limit check.
type Result struct {
	Limited   bool
	Remaining int64
	ResetAt   time.Time
}

// Limiter enforces per-actor, per-action-class limits using fixed windows
// stored in the shared cache.
type Limiter struct {
	store cache.Store
	rules map[string]Rule
	clock func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter's time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithRule replaces the rule for an action class.
func WithRule(action string, rule Rule) Option {
	return func(l *Limiter) {
		l.rules[action] = rule
	}
}

// NewLimiter constructs a limiter with the default invitation rules.
func NewLimiter(store cache.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		rules: map[string]Rule{
			ActionCreateInvitation: {Max: 10, Window: time.Hour},
			ActionResendInvitation: {Max: 5, Window: 10 * time.Minute},
		},
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check records one attempt for the actor and reports whether the action is
// allowed. Attempts made while limited still count against the current window,
// but the window itself never extends.
func (l *Limiter) Check(ctx context.Context, actorID, action string) (Result, error) {
	rule, ok := l.rules[action]
	if !ok {
		return Result{}, fmt.Errorf("ratelimit: unknown action class %q", action)
	}
	if actorID == "" {
		return Result{}, fmt.Errorf("ratelimit: actor id is required")
	}

	key := fmt.Sprintf("ratelimit:%s:%s", action, actorID)
	count, ttl, err := l.store.IncrementWithTTL(ctx, key, rule.Window)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: increment %s: %w", action, err)
	}

	result := Result{
		Remaining: rule.Max - count,
		ResetAt:   l.clock().Add(ttl),
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	if count > rule.Max {
		result.Limited = true
	}
	return result, nil
}

// Reset clears the counter for an actor and action class.
func (l *Limiter) Reset(ctx context.Context, actorID, action string) error {
	return l.store.Delete(ctx, fmt.Sprintf("ratelimit:%s:%s", action, actorID))
}
