// Package ratelimit implements the fixed-window per-session chat limiter.
//
// A window opens on a session's first message and admits up to Limit.Max
// messages. Once more than Limit.Window has elapsed since it opened, the next
// message resets the window. Every admitted check consumes quota; checking is
// not idempotent.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/framestudio/agency-assistant/pkg/logger"
)

// Limit configures the fixed window.
type Limit struct {
	Max    int
	Window time.Duration
}

// Window is the persisted state of one session's window.
type Window struct {
	Count int
	Start time.Time
}

// Decision is the outcome of one check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	// Count is the number of messages admitted in the current window,
	// including this one when allowed.
	Count int
}

// Store applies Evaluate atomically for one session key.
type Store interface {
	Hit(ctx context.Context, sessionID string, now time.Time, limit Limit) (Decision, error)
}

// Evaluate applies the fixed-window rule. current is nil when the session has
// no window yet. It returns the window state to persist and the decision;
// on denial the returned window equals the current one.
func Evaluate(current *Window, now time.Time, limit Limit) (Window, Decision) {
	if current == nil {
		return Window{Count: 1, Start: now}, Decision{Allowed: true, Count: 1}
	}

	elapsed := now.Sub(current.Start)
	if elapsed > limit.Window {
		return Window{Count: 1, Start: now}, Decision{Allowed: true, Count: 1}
	}

	if current.Count >= limit.Max {
		retry := limit.Window - elapsed
		if retry <= 0 {
			retry = time.Millisecond
		}
		return *current, Decision{Allowed: false, RetryAfter: retry, Count: current.Count}
	}

	next := Window{Count: current.Count + 1, Start: current.Start}
	return next, Decision{Allowed: true, Count: next.Count}
}

// Limiter guards the chat pipeline entry point.
type Limiter struct {
	store    Store
	limit    Limit
	failOpen bool
	now      func() time.Time
	logger   *logger.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithFailOpen admits requests when the store is unavailable instead of
// failing them.
func WithFailOpen(failOpen bool) Option {
	return func(l *Limiter) { l.failOpen = failOpen }
}

// New creates a limiter backed by store.
func New(store Store, limit Limit, log *logger.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		limit:  limit,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the configured window.
func (l *Limiter) Limit() Limit {
	return l.limit
}

// Check consumes one unit of quota for sessionID if the window allows it.
func (l *Limiter) Check(ctx context.Context, sessionID string) (Decision, error) {
	d, err := l.store.Hit(ctx, sessionID, l.now(), l.limit)
	if err != nil {
		if l.failOpen {
			logger.FromContext(ctx, l.logger).Warn("rate limit store unavailable, admitting request",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			return Decision{Allowed: true}, nil
		}
		return Decision{}, fmt.Errorf("rate limit check: %w", err)
	}
	return d, nil
}
