// Package rag is the context store: persisted documents with embeddings and
// top-K similarity queries over them.
package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/infrapilot/infrapilot/internal/config"
	"github.com/infrapilot/infrapilot/internal/domain"
	"github.com/infrapilot/infrapilot/internal/embedding"
)

// Index persists embedded documents and answers nearest-neighbor queries.
// Concurrency control is the backing store's own; Index adds no locking.
type Index interface {
	Insert(ctx context.Context, doc domain.Document, embedding []float32) error
	Get(ctx context.Context, id string) (*domain.Document, error)
	Update(ctx context.Context, doc domain.Document, embedding []float32) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int) ([]domain.Document, error)
	ListByMetaKey(ctx context.Context, key string, limit, offset int) ([]domain.Document, error)
	Search(ctx context.Context, embedding []float32, topK int) ([]domain.ScoredDocument, error)
	Count(ctx context.Context) (int, error)
	CountByMetaKey(ctx context.Context, key string) (int, error)
	Close() error
}

// NewIndex builds the index backend selected by rag.driver.
func NewIndex(cfg config.RAGConfig) (Index, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteIndex(cfg.StorePath)
	case "postgres":
		return NewPostgresIndex(context.Background(), cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown rag driver %q", cfg.Driver)
	}
}

// Store embeds text on the way in and out of an Index.
type Store struct {
	index      Index
	embedder   embedding.Embedder
	collection string
	logger     *zap.Logger
}

// NewStore creates a context store over the given index and embedder.
func NewStore(index Index, embedder embedding.Embedder, collection string, logger *zap.Logger) *Store {
	if collection == "" {
		collection = "documents"
	}
	return &Store{
		index:      index,
		embedder:   embedder,
		collection: collection,
		logger:     logger,
	}
}

// Add embeds and persists a new document under a generated id.
func (s *Store) Add(ctx context.Context, text string, metadata map[string]interface{}) (string, error) {
	return s.AddWithID(ctx, uuid.New().String(), text, metadata)
}

// AddWithID embeds and persists a new document under a caller-supplied id.
func (s *Store) AddWithID(ctx context.Context, id, text string, metadata map[string]interface{}) (string, error) {
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("embed document: %w", err)
	}

	now := time.Now().UTC()
	doc := domain.Document{
		ID:        id,
		Text:      text,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.index.Insert(ctx, doc, vectors[0]); err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}

	s.logger.Info("document added", zap.String("id", id), zap.Int("text_len", len(text)))
	return id, nil
}

// Get retrieves a document by id.
func (s *Store) Get(ctx context.Context, id string) (*domain.Document, error) {
	return s.index.Get(ctx, id)
}

// Update replaces a document's text and/or metadata. An empty text keeps
// the stored text and embedding; nil metadata keeps the stored metadata.
func (s *Store) Update(ctx context.Context, id, text string, metadata map[string]interface{}) error {
	existing, err := s.index.Get(ctx, id)
	if err != nil {
		return err
	}

	doc := *existing
	doc.UpdatedAt = time.Now().UTC()
	if metadata != nil {
		doc.Metadata = metadata
	}

	var vector []float32
	if text != "" && text != existing.Text {
		doc.Text = text
		vectors, err := s.embedder.Embed(ctx, []string{text})
		if err != nil {
			return fmt.Errorf("embed document: %w", err)
		}
		vector = vectors[0]
	}

	if err := s.index.Update(ctx, doc, vector); err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	s.logger.Info("document updated", zap.String("id", id), zap.Bool("reembedded", vector != nil))
	return nil
}

// Delete removes a document by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.index.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("document deleted", zap.String("id", id))
	return nil
}

// List pages through stored documents, newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return s.index.List(ctx, limit, offset)
}

// ListByMetaKey pages through documents whose metadata carries the given
// key, newest first. Records without the key are not counted against the
// page window.
func (s *Store) ListByMetaKey(ctx context.Context, key string, limit, offset int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return s.index.ListByMetaKey(ctx, key, limit, offset)
}

// CountByMetaKey returns the number of documents whose metadata carries the
// given key.
func (s *Store) CountByMetaKey(ctx context.Context, key string) (int, error) {
	return s.index.CountByMetaKey(ctx, key)
}

// Query returns up to topK documents most similar to the given text, in
// non-increasing score order. An empty store yields an empty slice.
func (s *Store) Query(ctx context.Context, text string, topK int) ([]domain.ScoredDocument, error) {
	if topK <= 0 {
		return []domain.ScoredDocument{}, nil
	}

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := s.index.Search(ctx, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	if results == nil {
		results = []domain.ScoredDocument{}
	}
	return results, nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.index.Count(ctx)
}

// CollectionName returns the configured collection label.
func (s *Store) CollectionName() string {
	return s.collection
}

// Close releases the backing index.
func (s *Store) Close() error {
	return s.index.Close()
}
