package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framestudio/agency-assistant/pkg/logger"
)

type memStore struct {
	mu      sync.Mutex
	windows map[string]Window
	err     error
}

func newMemStore() *memStore {
	return &memStore{windows: make(map[string]Window)}
}

func (s *memStore) Hit(_ context.Context, sessionID string, now time.Time, limit Limit) (Decision, error) {
	if s.err != nil {
		return Decision{}, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *Window
	if w, ok := s.windows[sessionID]; ok {
		current = &w
	}
	next, d := Evaluate(current, now, limit)
	s.windows[sessionID] = next
	return d, nil
}

var hourly = Limit{Max: 20, Window: time.Hour}

func TestEvaluate_NewWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	w, d := Evaluate(nil, now, hourly)

	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
	assert.Equal(t, Window{Count: 1, Start: now}, w)
}

func TestEvaluate_ResetsExpiredWindowRegardlessOfCount(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(time.Hour + time.Second)

	w, d := Evaluate(&Window{Count: 500, Start: start}, now, hourly)

	assert.True(t, d.Allowed)
	assert.Equal(t, 1, w.Count)
	assert.Equal(t, now, w.Start)
}

func TestEvaluate_ExactBoundaryStillInWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, d := Evaluate(&Window{Count: 20, Start: start}, start.Add(time.Hour), hourly)

	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestEvaluate_DenialLeavesWindowUnchanged(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := Window{Count: 20, Start: start}

	w, d := Evaluate(&current, start.Add(15*time.Minute), hourly)

	assert.False(t, d.Allowed)
	assert.Equal(t, 45*time.Minute, d.RetryAfter)
	assert.Equal(t, current, w)
}

func TestLimiter_CapEnforcement(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(newMemStore(), hourly, logger.NewNop(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 1; i <= hourly.Max; i++ {
		d, err := l.Check(ctx, "s2")
		require.NoError(t, err)
		require.True(t, d.Allowed, "call %d", i)
		assert.Equal(t, i, d.Count)
		now = now.Add(time.Minute)
	}

	d, err := l.Check(ctx, "s2")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	other, err := l.Check(ctx, "someone-else")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestLimiter_WindowReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	l := New(store, hourly, logger.NewNop(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < hourly.Max+5; i++ {
		_, err := l.Check(ctx, "s1")
		require.NoError(t, err)
	}

	now = now.Add(61 * time.Minute)
	d, err := l.Check(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
	assert.Equal(t, now, store.windows["s1"].Start)
}

func TestLimiter_StoreFailure(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")

	closed := New(store, hourly, logger.NewNop())
	_, err := closed.Check(context.Background(), "s1")
	assert.Error(t, err)

	open := New(store, hourly, logger.NewNop(), WithFailOpen(true))
	d, err := open.Check(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
