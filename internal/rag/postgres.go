package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/infrapilot/infrapilot/internal/domain"
)

// PostgresIndex is the pgvector index backend. Distance is L2; scores are
// reported as 1/(1+distance) so larger is still more similar.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

// NewPostgresIndex connects to postgres and ensures the schema exists.
func NewPostgresIndex(ctx context.Context, dsn string) (*PostgresIndex, error) {
	if dsn == "" {
		return nil, fmt.Errorf("rag.postgres_dsn is required for the postgres driver")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS rag_documents (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			metadata JSONB,
			embedding vector,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate rag_documents: %w", err)
		}
	}

	return &PostgresIndex{pool: pool}, nil
}

// Insert persists a document with its embedding.
func (p *PostgresIndex) Insert(ctx context.Context, doc domain.Document, embedding []float32) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO rag_documents (id, text, metadata, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text, metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at
	`, doc.ID, doc.Text, metadataJSON, pgvector.NewVector(embedding), doc.CreatedAt, doc.UpdatedAt)
	return err
}

// Get retrieves a document by id.
func (p *PostgresIndex) Get(ctx context.Context, id string) (*domain.Document, error) {
	doc := &domain.Document{}
	var metadataJSON []byte

	err := p.pool.QueryRow(ctx, `
		SELECT id, text, metadata, created_at, updated_at FROM rag_documents WHERE id = $1
	`, id).Scan(&doc.ID, &doc.Text, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return doc, nil
}

// Update rewrites a document in place. A nil embedding keeps the stored one.
func (p *PostgresIndex) Update(ctx context.Context, doc domain.Document, embedding []float32) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if embedding != nil {
		result, err := p.pool.Exec(ctx, `
			UPDATE rag_documents SET text = $1, metadata = $2, embedding = $3, updated_at = $4 WHERE id = $5
		`, doc.Text, metadataJSON, pgvector.NewVector(embedding), doc.UpdatedAt, doc.ID)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("%w: document %s", domain.ErrNotFound, doc.ID)
		}
		return nil
	}

	result, err := p.pool.Exec(ctx, `
		UPDATE rag_documents SET text = $1, metadata = $2, updated_at = $3 WHERE id = $4
	`, doc.Text, metadataJSON, doc.UpdatedAt, doc.ID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %s", domain.ErrNotFound, doc.ID)
	}
	return nil
}

// Delete removes a document by id.
func (p *PostgresIndex) Delete(ctx context.Context, id string) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM rag_documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	return nil
}

// List pages through documents, newest first.
func (p *PostgresIndex) List(ctx context.Context, limit, offset int) ([]domain.Document, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, text, metadata, created_at, updated_at FROM rag_documents
		ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]domain.Document, 0, limit)
	for rows.Next() {
		var doc domain.Document
		var metadataJSON []byte
		if err := rows.Scan(&doc.ID, &doc.Text, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ListByMetaKey pages through documents whose metadata carries the given
// top-level key, newest first.
func (p *PostgresIndex) ListByMetaKey(ctx context.Context, key string, limit, offset int) ([]domain.Document, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, text, metadata, created_at, updated_at FROM rag_documents
		WHERE jsonb_exists(metadata, $1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, key, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]domain.Document, 0, limit)
	for rows.Next() {
		var doc domain.Document
		var metadataJSON []byte
		if err := rows.Scan(&doc.ID, &doc.Text, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Search returns the topK nearest documents by L2 distance.
func (p *PostgresIndex) Search(ctx context.Context, embedding []float32, topK int) ([]domain.ScoredDocument, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, text, metadata, (embedding <-> $1::vector) AS distance
		FROM rag_documents
		ORDER BY embedding <-> $1::vector
		LIMIT $2
	`, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.ScoredDocument
	for rows.Next() {
		var doc domain.ScoredDocument
		var metadataJSON []byte
		var distance float64
		if err := rows.Scan(&doc.ID, &doc.Text, &metadataJSON, &distance); err != nil {
			return nil, err
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		doc.Score = 1 / (1 + distance)
		results = append(results, doc)
	}
	return results, rows.Err()
}

// Count returns the number of stored documents.
func (p *PostgresIndex) Count(ctx context.Context) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rag_documents`).Scan(&count)
	return count, err
}

// CountByMetaKey returns the number of documents whose metadata carries the
// given top-level key.
func (p *PostgresIndex) CountByMetaKey(ctx context.Context, key string) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM rag_documents WHERE jsonb_exists(metadata, $1)
	`, key).Scan(&count)
	return count, err
}

// Close releases the connection pool.
func (p *PostgresIndex) Close() error {
	p.pool.Close()
	return nil
}
