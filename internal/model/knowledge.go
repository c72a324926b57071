package model

import (
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// KnowledgeEntry is a titled passage of retrievable business content.
// Embedding is derived from EmbeddingText and must be regenerated whenever
// Title, Content or ContentEN change.
type KnowledgeEntry struct {
	ID        string          `json:"id" gorm:"primaryKey;size:36"`
	Category  string          `json:"category" gorm:"size:100;not null;uniqueIndex:idx_knowledge_category_title,priority:1"`
	Title     string          `json:"title" gorm:"size:255;not null;uniqueIndex:idx_knowledge_category_title,priority:2"`
	Content   string          `json:"content" gorm:"type:text"`
	ContentEN string          `json:"content_en" gorm:"column:content_en;type:text"`
	ContentEL string          `json:"content_el" gorm:"column:content_el;type:text"`
	Embedding pgvector.Vector `json:"-" gorm:"type:vector;not null"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (KnowledgeEntry) TableName() string {
	return "knowledge_entries"
}

// EmbeddingText is the text the entry's embedding is computed from.
func (e *KnowledgeEntry) EmbeddingText() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{e.Title, e.Content, e.ContentEN} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

// LocalizedContent returns the best content for lang, falling back to the
// neutral content field.
func (e *KnowledgeEntry) LocalizedContent(lang Language) string {
	switch lang {
	case LanguageGreek:
		if e.ContentEL != "" {
			return e.ContentEL
		}
	default:
		if e.ContentEN != "" {
			return e.ContentEN
		}
	}
	return e.Content
}

// ScoredEntry is a knowledge entry returned by a similarity search.
type ScoredEntry struct {
	Entry      KnowledgeEntry `json:"entry"`
	Similarity float32        `json:"similarity"`
}

// UpsertKnowledgeRequest creates or updates an entry keyed by category and title.
type UpsertKnowledgeRequest struct {
	Category  string `json:"category" yaml:"category" validate:"required,max=100"`
	Title     string `json:"title" yaml:"title" validate:"required,max=255"`
	Content   string `json:"content" yaml:"content" validate:"required_without_all=ContentEN ContentEL"`
	ContentEN string `json:"content_en" yaml:"content_en"`
	ContentEL string `json:"content_el" yaml:"content_el"`
}

// ReindexResponse reports the outcome of a full embedding regeneration.
type ReindexResponse struct {
	Reindexed int `json:"reindexed"`
}
