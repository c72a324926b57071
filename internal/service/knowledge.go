package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/framestudio/agency-assistant/internal/llm"
	"github.com/framestudio/agency-assistant/internal/model"
	"github.com/framestudio/agency-assistant/internal/store"
	"github.com/framestudio/agency-assistant/internal/validation"
	"github.com/framestudio/agency-assistant/pkg/logger"
)

var (
	// ErrKnowledgeNotFound is returned when a knowledge entry does not exist.
	ErrKnowledgeNotFound = errors.New("knowledge entry not found")

	// ErrInvalidKnowledge is returned when an upsert request fails validation.
	ErrInvalidKnowledge = errors.New("invalid knowledge entry")

	// ErrEmbeddingUnavailable is returned when an entry needs an embedding
	// and no embedding provider is configured.
	ErrEmbeddingUnavailable = errors.New("no embedding provider configured")
)

// KnowledgeRepository is the durable knowledge table.
type KnowledgeRepository interface {
	UpsertKnowledge(ctx context.Context, entry *model.KnowledgeEntry) (*model.KnowledgeEntry, error)
	GetKnowledgeByKey(ctx context.Context, category, title string) (*model.KnowledgeEntry, error)
	ListKnowledge(ctx context.Context) ([]model.KnowledgeEntry, error)
	UpdateKnowledgeEmbedding(ctx context.Context, id string, embedding []float32, now time.Time) error
	DeleteKnowledge(ctx context.Context, id string) error
}

// KnowledgeService is the only write path for knowledge entries. It keeps
// every stored embedding in step with the entry's text.
type KnowledgeService struct {
	repo      KnowledgeRepository
	embedder  llm.Embedder
	syncer    store.IndexSyncer
	validator *validation.Validator
	logger    *logger.Logger
	now       func() time.Time
}

// NewKnowledgeService creates a knowledge service. syncer may be nil when the
// search index reads the table directly. embedder may be nil, in which case
// writes that need a new embedding fail.
func NewKnowledgeService(repo KnowledgeRepository, embedder llm.Embedder, syncer store.IndexSyncer, log *logger.Logger) *KnowledgeService {
	return &KnowledgeService{
		repo:      repo,
		embedder:  embedder,
		syncer:    syncer,
		validator: validation.New(),
		logger:    log.Named("knowledge"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// UpsertResult reports what an upsert did.
type UpsertResult struct {
	Entry      *model.KnowledgeEntry `json:"entry"`
	Created    bool                  `json:"created"`
	Reembedded bool                  `json:"reembedded"`
}

// Upsert creates or updates the entry keyed by category and title. The
// embedding is regenerated when the entry is new, has none, or its title,
// content or English content changed; otherwise the stored one is kept.
func (s *KnowledgeService) Upsert(ctx context.Context, in *model.UpsertKnowledgeRequest) (*UpsertResult, error) {
	if in == nil {
		return nil, ErrInvalidKnowledge
	}
	req := trimKnowledge(*in)
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKnowledge, validation.FormatValidationErrors(err))
	}
	category, title := req.Category, req.Title

	existing, err := s.repo.GetKnowledgeByKey(ctx, category, title)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up knowledge entry: %w", err)
	}

	now := s.now()
	entry := &model.KnowledgeEntry{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Category:  category,
		Title:     title,
		Content:   req.Content,
		ContentEN: req.ContentEN,
		ContentEL: req.ContentEL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		entry.ID = existing.ID
		entry.CreatedAt = existing.CreatedAt
	}

	reembed := existing == nil ||
		len(existing.Embedding.Slice()) == 0 ||
		existing.EmbeddingText() != entry.EmbeddingText()

	if reembed {
		if s.embedder == nil {
			return nil, ErrEmbeddingUnavailable
		}
		vec, err := s.embedder.Embed(ctx, entry.EmbeddingText())
		if err != nil {
			return nil, fmt.Errorf("failed to embed knowledge entry: %w", err)
		}
		entry.Embedding = pgvector.NewVector(vec)
	} else {
		entry.Embedding = existing.Embedding
	}

	saved, err := s.repo.UpsertKnowledge(ctx, entry)
	if err != nil {
		return nil, err
	}

	s.sync(ctx, saved)

	logger.FromContext(ctx, s.logger).Info("knowledge entry saved",
		zap.String("id", saved.ID),
		zap.String("category", saved.Category),
		zap.String("title", saved.Title),
		zap.Bool("created", existing == nil),
		zap.Bool("reembedded", reembed),
	)

	return &UpsertResult{Entry: saved, Created: existing == nil, Reembedded: reembed}, nil
}

// List returns every entry ordered by category and title.
func (s *KnowledgeService) List(ctx context.Context) ([]model.KnowledgeEntry, error) {
	entries, err := s.repo.ListKnowledge(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge: %w", err)
	}
	if entries == nil {
		entries = []model.KnowledgeEntry{}
	}
	return entries, nil
}

// Delete removes an entry.
func (s *KnowledgeService) Delete(ctx context.Context, id string) error {
	err := s.repo.DeleteKnowledge(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrKnowledgeNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete knowledge entry: %w", err)
	}

	if s.syncer != nil {
		if err := s.syncer.Remove(ctx, id); err != nil {
			logger.FromContext(ctx, s.logger).Warn("failed to remove entry from index", zap.String("id", id), zap.Error(err))
		}
	}
	return nil
}

// Reindex regenerates every embedding, for example after switching the
// embedding model. It stops at the first failure and reports how many
// entries were reindexed before it.
func (s *KnowledgeService) Reindex(ctx context.Context) (int, error) {
	if s.embedder == nil {
		return 0, ErrEmbeddingUnavailable
	}
	entries, err := s.repo.ListKnowledge(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list knowledge: %w", err)
	}

	for i := range entries {
		entry := &entries[i]

		vec, err := s.embedder.Embed(ctx, entry.EmbeddingText())
		if err != nil {
			return i, fmt.Errorf("failed to embed %q: %w", entry.Title, err)
		}

		now := s.now()
		if err := s.repo.UpdateKnowledgeEmbedding(ctx, entry.ID, vec, now); err != nil {
			return i, err
		}
		entry.Embedding = pgvector.NewVector(vec)
		entry.UpdatedAt = now

		s.sync(ctx, entry)
	}

	logger.FromContext(ctx, s.logger).Info("knowledge reindexed", zap.Int("entries", len(entries)))
	return len(entries), nil
}

func (s *KnowledgeService) sync(ctx context.Context, entry *model.KnowledgeEntry) {
	if s.syncer == nil {
		return
	}
	if err := s.syncer.Put(ctx, entry); err != nil {
		logger.FromContext(ctx, s.logger).Warn("failed to update index", zap.String("id", entry.ID), zap.Error(err))
	}
}

func trimKnowledge(req model.UpsertKnowledgeRequest) model.UpsertKnowledgeRequest {
	req.Category = strings.TrimSpace(req.Category)
	req.Title = strings.TrimSpace(req.Title)
	req.Content = strings.TrimSpace(req.Content)
	req.ContentEN = strings.TrimSpace(req.ContentEN)
	req.ContentEL = strings.TrimSpace(req.ContentEL)
	return req
}
