package store

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/framestudio/agency-assistant/internal/model"
)

const knowledgeCollection = "knowledge"

// MemoryIndex keeps knowledge embeddings in an in-process chromem-go
// collection. It serves SQLite deployments, where no vector operator exists,
// and must be loaded from the store at startup and kept in sync on writes.
// Writes are serialized against searches so a query never asks chromem for
// more results than the collection holds.
type MemoryIndex struct {
	mu         sync.RWMutex
	collection *chromem.Collection
}

// NewMemoryIndex creates an empty in-process index.
func NewMemoryIndex() (*MemoryIndex, error) {
	db := chromem.NewDB()

	// Entries always carry precomputed embeddings.
	noEmbed := func(context.Context, string) ([]float32, error) {
		return nil, errors.New("memory index requires precomputed embeddings")
	}

	col, err := db.GetOrCreateCollection(knowledgeCollection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector collection: %w", err)
	}

	return &MemoryIndex{collection: col}, nil
}

// Load adds entries to the index.
func (i *MemoryIndex) Load(ctx context.Context, entries []model.KnowledgeEntry) error {
	docs := make([]chromem.Document, 0, len(entries))
	for idx := range entries {
		if len(entries[idx].Embedding.Slice()) == 0 {
			continue
		}
		docs = append(docs, toDocument(&entries[idx]))
	}
	if len(docs) == 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to load vector collection: %w", err)
	}
	return nil
}

// Put implements IndexSyncer. An entry with the same ID is replaced.
func (i *MemoryIndex) Put(ctx context.Context, entry *model.KnowledgeEntry) error {
	if len(entry.Embedding.Slice()) == 0 {
		return errors.New("knowledge entry has no embedding")
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	return i.collection.AddDocument(ctx, toDocument(entry))
}

// Remove implements IndexSyncer.
func (i *MemoryIndex) Remove(ctx context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.collection.Delete(ctx, nil, nil, id)
}

// Count returns the number of indexed entries.
func (i *MemoryIndex) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.collection.Count()
}

// Search implements KnowledgeIndex.
func (i *MemoryIndex) Search(ctx context.Context, embedding []float32, threshold float32, limit int) ([]model.ScoredEntry, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	n := i.collection.Count()
	if limit <= 0 || n == 0 {
		return nil, nil
	}
	if limit < n {
		n = limit
	}

	results, err := i.collection.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	out := make([]model.ScoredEntry, 0, len(results))
	for _, r := range results {
		if r.Similarity < threshold {
			continue
		}
		out = append(out, model.ScoredEntry{
			Entry: model.KnowledgeEntry{
				ID:        r.ID,
				Category:  r.Metadata["category"],
				Title:     r.Metadata["title"],
				Content:   r.Content,
				ContentEN: r.Metadata["content_en"],
				ContentEL: r.Metadata["content_el"],
			},
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

func toDocument(e *model.KnowledgeEntry) chromem.Document {
	return chromem.Document{
		ID: e.ID,
		Metadata: map[string]string{
			"category":   e.Category,
			"title":      e.Title,
			"content_en": e.ContentEN,
			"content_el": e.ContentEL,
		},
		Embedding: e.Embedding.Slice(),
		Content:   e.Content,
	}
}
