package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framestudio/agency-assistant/internal/model"
	"github.com/framestudio/agency-assistant/internal/store"
	"github.com/framestudio/agency-assistant/pkg/logger"
)

func newKnowledgeService(t *testing.T) (*KnowledgeService, *store.Store, *store.MemoryIndex, *fakeEmbedder) {
	t.Helper()

	st, err := store.Open(":memory:", logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	idx, err := store.NewMemoryIndex()
	require.NoError(t, err)

	emb := &fakeEmbedder{vec: []float32{1, 0, 0}}
	return NewKnowledgeService(st, emb, idx, logger.NewNop()), st, idx, emb
}

func TestKnowledgeUpsert_ReembedsOnlyWhenTextChanges(t *testing.T) {
	svc, _, _, emb := newKnowledgeService(t)
	ctx := context.Background()

	req := &model.UpsertKnowledgeRequest{
		Category:  "services",
		Title:     "Wedding films",
		ContentEN: "Full-day coverage with a highlight film.",
		ContentEL: "Κάλυψη όλης της ημέρας.",
	}

	res, err := svc.Upsert(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, res.Reembedded)
	require.Len(t, emb.texts, 1)
	assert.Equal(t, "Wedding films\nFull-day coverage with a highlight film.", emb.texts[0])

	// Greek content does not feed the embedding.
	req.ContentEL = "Κάλυψη όλης της ημέρας με ταινία."
	res2, err := svc.Upsert(ctx, req)
	require.NoError(t, err)
	assert.False(t, res2.Created)
	assert.False(t, res2.Reembedded)
	assert.Equal(t, res.Entry.ID, res2.Entry.ID)
	assert.Len(t, emb.texts, 1)

	req.ContentEN = "Full-day coverage, highlight film and drone."
	emb.vec = []float32{0, 1, 0}
	res3, err := svc.Upsert(ctx, req)
	require.NoError(t, err)
	assert.True(t, res3.Reembedded)
	assert.Len(t, emb.texts, 2)
	assert.Equal(t, []float32{0, 1, 0}, res3.Entry.Embedding.Slice())
}

func TestKnowledgeUpsert_SyncsIndex(t *testing.T) {
	svc, _, idx, _ := newKnowledgeService(t)
	ctx := context.Background()

	res, err := svc.Upsert(ctx, &model.UpsertKnowledgeRequest{Category: "faq", Title: "Travel", Content: "We travel across Greece."})
	require.NoError(t, err)

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 0.5, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, res.Entry.ID, hits[0].Entry.ID)

	require.NoError(t, svc.Delete(ctx, res.Entry.ID))
	assert.Zero(t, idx.Count())
}

func TestKnowledgeUpsert_Invalid(t *testing.T) {
	svc, _, _, emb := newKnowledgeService(t)

	for name, req := range map[string]*model.UpsertKnowledgeRequest{
		"no content":       {Category: "faq", Title: "Empty"},
		"blank title":      {Category: "faq", Title: "   ", ContentEN: "Text"},
		"blank category":   {Category: "\t", Title: "Travel", ContentEN: "Text"},
		"blank content_en": {Category: "faq", Title: "Travel", ContentEN: "  "},
		"nil":              nil,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Upsert(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidKnowledge)
		})
	}
	assert.Empty(t, emb.texts)
}

func TestKnowledgeUpsert_EmbeddingFailureSavesNothing(t *testing.T) {
	svc, st, _, emb := newKnowledgeService(t)
	emb.err = errors.New("quota exceeded")
	ctx := context.Background()

	_, err := svc.Upsert(ctx, &model.UpsertKnowledgeRequest{Category: "faq", Title: "Prices", Content: "From 900 EUR."})
	require.Error(t, err)

	entries, err := st.ListKnowledge(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestKnowledgeReindex(t *testing.T) {
	svc, st, idx, emb := newKnowledgeService(t)
	ctx := context.Background()

	for _, title := range []string{"Prices", "Travel"} {
		_, err := svc.Upsert(ctx, &model.UpsertKnowledgeRequest{Category: "faq", Title: title, Content: title + " details"})
		require.NoError(t, err)
	}

	emb.vec = []float32{0, 0, 1}
	n, err := svc.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, emb.texts, 4)

	entries, err := st.ListKnowledge(ctx)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, []float32{0, 0, 1}, e.Embedding.Slice())
	}

	hits, err := idx.Search(ctx, []float32{0, 0, 1}, 0.9, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestKnowledgeDelete_NotFound(t *testing.T) {
	svc, _, _, _ := newKnowledgeService(t)

	err := svc.Delete(context.Background(), "0190f6f4-0000-7000-8000-000000000000")
	assert.ErrorIs(t, err, ErrKnowledgeNotFound)
}
