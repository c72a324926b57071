package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framestudio/agency-assistant/internal/model"
	"github.com/framestudio/agency-assistant/internal/ratelimit"
	"github.com/framestudio/agency-assistant/pkg/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:", logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	return s
}

func newConversation(sessionID string, lang model.Language, at time.Time) *model.Conversation {
	return &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Language:  lang,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestFindOrCreateConversation_SecondCallReturnsSameConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, created, err := s.FindOrCreateConversation(ctx, newConversation("fresh-session", model.LanguageEnglish, now))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.FindOrCreateConversation(ctx, newConversation("fresh-session", model.LanguageGreek, now.Add(time.Second)))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, model.LanguageEnglish, second.Language)

	_, total, err := s.ListConversations(ctx, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestFindOrCreateConversation_MostRecentWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	older := newConversation("dup", model.LanguageEnglish, now.Add(-time.Hour))
	newer := newConversation("dup", model.LanguageGreek, now)
	require.NoError(t, s.db.Create(older).Error)
	require.NoError(t, s.db.Create(newer).Error)

	got, created, err := s.FindOrCreateConversation(ctx, newConversation("dup", model.LanguageEnglish, now.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, newer.ID, got.ID)
}

func TestIncrementMessageCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	conv, _, err := s.FindOrCreateConversation(ctx, newConversation("counter", model.LanguageEnglish, now))
	require.NoError(t, err)

	require.NoError(t, s.IncrementMessageCount(ctx, conv.ID, 2, now))
	require.NoError(t, s.IncrementMessageCount(ctx, conv.ID, 1, now))

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.MessageCount)

	assert.ErrorIs(t, s.IncrementMessageCount(ctx, "missing", 2, now), ErrNotFound)
}

func TestMessages_AppendListDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	conv, _, err := s.FindOrCreateConversation(ctx, newConversation("history", model.LanguageEnglish, now))
	require.NoError(t, err)

	for i, role := range []model.Role{model.RoleUser, model.RoleAssistant} {
		require.NoError(t, s.AppendMessage(ctx, &model.Message{
			ID:             uuid.Must(uuid.NewV7()).String(),
			ConversationID: conv.ID,
			Role:           role,
			Content:        string(role) + " turn",
			CreatedAt:      now.Add(time.Duration(i) * time.Second),
		}))
	}

	msgs, err := s.ListMessages(ctx, conv.ID, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))

	_, err = s.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	msgs, err = s.ListMessages(ctx, conv.ID, 50)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.ErrorIs(t, s.DeleteConversation(ctx, conv.ID), ErrNotFound)
}

func TestUpsertKnowledge_UpdatesByCategoryAndTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertKnowledge(ctx, &model.KnowledgeEntry{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Category:  "services",
		Title:     "Turnaround",
		Content:   "Two weeks",
		Embedding: pgvector.NewVector([]float32{1, 0, 0}),
	})
	require.NoError(t, err)

	second, err := s.UpsertKnowledge(ctx, &model.KnowledgeEntry{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Category:  "services",
		Title:     "Turnaround",
		Content:   "Ten working days",
		ContentEL: "Δέκα εργάσιμες ημέρες",
		Embedding: pgvector.NewVector([]float32{0, 1, 0}),
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ten working days", second.Content)
	assert.Equal(t, "Δέκα εργάσιμες ημέρες", second.ContentEL)
	assert.Equal(t, []float32{0, 1, 0}, second.Embedding.Slice())

	entries, err := s.ListKnowledge(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, s.DeleteKnowledge(ctx, first.ID))
	_, err = s.GetKnowledge(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewPgvectorIndex_RequiresPostgres(t *testing.T) {
	s := newTestStore(t)

	_, err := NewPgvectorIndex(s)
	assert.Error(t, err)
}

func TestHit_FixedWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	limit := ratelimit.Limit{Max: 3, Window: time.Hour}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		d, err := s.Hit(ctx, "s2", start.Add(time.Duration(i)*time.Minute), limit)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "call %d", i)
		assert.Equal(t, i, d.Count)
	}

	d, err := s.Hit(ctx, "s2", start.Add(10*time.Minute), limit)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	row, err := s.GetRateLimitWindow(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 3, row.MessageCount)

	later := start.Add(2 * time.Hour)
	d, err = s.Hit(ctx, "s2", later, limit)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)

	row, err = s.GetRateLimitWindow(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 1, row.MessageCount)
	assert.WithinDuration(t, later, row.WindowStart, time.Millisecond)
}

func TestHit_ConcurrentCallsAdmitExactlyMax(t *testing.T) {
	s := newTestStore(t)
	limit := ratelimit.Limit{Max: 20, Window: time.Hour}
	now := time.Now().UTC()

	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := s.Hit(context.Background(), "busy", now, limit)
			if assert.NoError(t, err) && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 20, admitted.Load())

	row, err := s.GetRateLimitWindow(context.Background(), "busy")
	require.NoError(t, err)
	assert.Equal(t, 20, row.MessageCount)
}

func TestFindOrCreateConversation_ConcurrentFirstMessages(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	var wg sync.WaitGroup
	ids := make([]string, 10)
	created := make([]bool, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, ok, err := s.FindOrCreateConversation(context.Background(), newConversation("fresh", model.LanguageEnglish, now))
			if assert.NoError(t, err) {
				ids[i] = conv.ID
				created[i] = ok
			}
		}(i)
	}
	wg.Wait()

	inserted := 0
	for i := range ids {
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			inserted++
		}
	}
	assert.Equal(t, 1, inserted)

	_, total, err := s.ListConversations(context.Background(), 20, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestIncrementMessageCount_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv, _, err := s.FindOrCreateConversation(ctx, newConversation("counted", model.LanguageGreek, time.Now().UTC()))
	require.NoError(t, err)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.IncrementMessageCount(ctx, conv.ID, 1, time.Now().UTC())
			assert.NoError(t, err, "increment %d", i)
		}(i)
	}
	wg.Wait()

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.MessageCount)
}
