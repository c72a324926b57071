package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm/clause"

	"github.com/framestudio/agency-assistant/internal/model"
)

// KnowledgeIndex ranks knowledge entries by similarity to a query embedding.
type KnowledgeIndex interface {
	// Search returns at most limit entries with similarity >= threshold,
	// most similar first.
	Search(ctx context.Context, embedding []float32, threshold float32, limit int) ([]model.ScoredEntry, error)
}

// IndexSyncer is implemented by indexes that keep their own copy of the
// entries and must be told about writes.
type IndexSyncer interface {
	Put(ctx context.Context, entry *model.KnowledgeEntry) error
	Remove(ctx context.Context, id string) error
}

// UpsertKnowledge inserts entry or, when an entry with the same category and
// title exists, overwrites its contents and embedding. The stored row is
// returned.
func (s *Store) UpsertKnowledge(ctx context.Context, entry *model.KnowledgeEntry) (*model.KnowledgeEntry, error) {
	db := s.db.WithContext(ctx)

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "category"}, {Name: "title"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "content_en", "content_el", "embedding", "updated_at"}),
	}).Create(entry).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert knowledge entry: %w", err)
	}

	return s.GetKnowledgeByKey(ctx, entry.Category, entry.Title)
}

// GetKnowledgeByKey retrieves an entry by its natural key.
func (s *Store) GetKnowledgeByKey(ctx context.Context, category, title string) (*model.KnowledgeEntry, error) {
	var entry model.KnowledgeEntry
	res := s.db.WithContext(ctx).Where("category = ? AND title = ?", category, title).Limit(1).Find(&entry)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to get knowledge entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &entry, nil
}

// GetKnowledge retrieves an entry by ID.
func (s *Store) GetKnowledge(ctx context.Context, id string) (*model.KnowledgeEntry, error) {
	var entry model.KnowledgeEntry
	res := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&entry)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to get knowledge entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &entry, nil
}

// ListKnowledge returns every entry ordered by category and title.
func (s *Store) ListKnowledge(ctx context.Context) ([]model.KnowledgeEntry, error) {
	entries := []model.KnowledgeEntry{}
	if err := s.db.WithContext(ctx).Order("category").Order("title").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list knowledge entries: %w", err)
	}
	return entries, nil
}

// UpdateKnowledgeEmbedding replaces an entry's embedding.
func (s *Store) UpdateKnowledgeEmbedding(ctx context.Context, id string, embedding []float32, now time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&model.KnowledgeEntry{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"embedding":  pgvector.NewVector(embedding),
			"updated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update embedding: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteKnowledge removes an entry.
func (s *Store) DeleteKnowledge(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.KnowledgeEntry{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete knowledge entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PgvectorIndex searches knowledge_entries with the pgvector cosine distance
// operator. It requires a PostgreSQL store.
type PgvectorIndex struct {
	store *Store
}

// NewPgvectorIndex creates a database-side similarity index.
func NewPgvectorIndex(s *Store) (*PgvectorIndex, error) {
	if !s.IsPostgres() {
		return nil, errors.New("pgvector index requires PostgreSQL")
	}
	return &PgvectorIndex{store: s}, nil
}

type scoredRow struct {
	ID         string
	Category   string
	Title      string
	Content    string
	ContentEN  string `gorm:"column:content_en"`
	ContentEL  string `gorm:"column:content_el"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Similarity float32
}

// Search implements KnowledgeIndex.
func (i *PgvectorIndex) Search(ctx context.Context, embedding []float32, threshold float32, limit int) ([]model.ScoredEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	q := pgvector.NewVector(embedding)

	var rows []scoredRow
	err := i.store.db.WithContext(ctx).Raw(`
		SELECT id, category, title, content, content_en, content_el, created_at, updated_at,
		       1 - (embedding <=> ?) AS similarity
		FROM knowledge_entries
		WHERE 1 - (embedding <=> ?) >= ?
		ORDER BY embedding <=> ?
		LIMIT ?`, q, q, threshold, q, limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	out := make([]model.ScoredEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.ScoredEntry{
			Entry: model.KnowledgeEntry{
				ID:        r.ID,
				Category:  r.Category,
				Title:     r.Title,
				Content:   r.Content,
				ContentEN: r.ContentEN,
				ContentEL: r.ContentEL,
				CreatedAt: r.CreatedAt,
				UpdatedAt: r.UpdatedAt,
			},
			Similarity: r.Similarity,
		})
	}
	return out, nil
}
