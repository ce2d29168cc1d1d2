package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/infrapilot/infrapilot/internal/domain"
)

// SQLiteIndex is the default index backend: embeddings stored as JSON,
// brute-force cosine similarity at query time. Good enough for a single
// local collection; swap the driver to postgres for anything bigger.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex opens (and migrates) a sqlite-backed index at path.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		metadata TEXT,
		embedding TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return &SQLiteIndex{db: db}, nil
}

// Insert persists a document with its embedding.
func (s *SQLiteIndex) Insert(ctx context.Context, doc domain.Document, embedding []float32) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents (id, text, metadata, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Text, string(metadataJSON), string(embeddingJSON), doc.CreatedAt, doc.UpdatedAt)
	return err
}

// Get retrieves a document by id.
func (s *SQLiteIndex) Get(ctx context.Context, id string) (*domain.Document, error) {
	doc := &domain.Document{}
	var metadataJSON string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, text, metadata, created_at, updated_at FROM documents WHERE id = ?
	`, id).Scan(&doc.ID, &doc.Text, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if metadataJSON != "" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return doc, nil
}

// Update rewrites a document in place. A nil embedding keeps the stored one.
func (s *SQLiteIndex) Update(ctx context.Context, doc domain.Document, embedding []float32) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	var result sql.Result
	if embedding != nil {
		embeddingJSON, err := json.Marshal(embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		result, err = s.db.ExecContext(ctx, `
			UPDATE documents SET text = ?, metadata = ?, embedding = ?, updated_at = ? WHERE id = ?
		`, doc.Text, string(metadataJSON), string(embeddingJSON), doc.UpdatedAt, doc.ID)
		if err != nil {
			return err
		}
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE documents SET text = ?, metadata = ?, updated_at = ? WHERE id = ?
		`, doc.Text, string(metadataJSON), doc.UpdatedAt, doc.ID)
		if err != nil {
			return err
		}
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: document %s", domain.ErrNotFound, doc.ID)
	}
	return nil
}

// Delete removes a document by id.
func (s *SQLiteIndex) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	return nil
}

// List pages through documents, newest first.
func (s *SQLiteIndex) List(ctx context.Context, limit, offset int) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, metadata, created_at, updated_at FROM documents
		ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]domain.Document, 0, limit)
	for rows.Next() {
		var doc domain.Document
		var metadataJSON string
		if err := rows.Scan(&doc.ID, &doc.Text, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		if metadataJSON != "" && metadataJSON != "null" {
			if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ListByMetaKey pages through documents whose metadata JSON carries the
// given key, newest first.
func (s *SQLiteIndex) ListByMetaKey(ctx context.Context, key string, limit, offset int) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, metadata, created_at, updated_at FROM documents
		WHERE json_extract(metadata, ?) IS NOT NULL
		ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, "$."+key, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]domain.Document, 0, limit)
	for rows.Next() {
		var doc domain.Document
		var metadataJSON string
		if err := rows.Scan(&doc.ID, &doc.Text, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		if metadataJSON != "" && metadataJSON != "null" {
			if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Search scans every stored embedding and returns the topK most similar
// documents by cosine similarity, in descending score order.
func (s *SQLiteIndex) Search(ctx context.Context, embedding []float32, topK int) ([]domain.ScoredDocument, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, text, metadata, embedding FROM documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.ScoredDocument
	for rows.Next() {
		var doc domain.ScoredDocument
		var metadataJSON, embeddingJSON string
		if err := rows.Scan(&doc.ID, &doc.Text, &metadataJSON, &embeddingJSON); err != nil {
			return nil, err
		}

		var stored []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &stored); err != nil {
			continue
		}
		if metadataJSON != "" && metadataJSON != "null" {
			if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}

		doc.Score = cosineSimilarity(embedding, stored)
		results = append(results, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Count returns the number of stored documents.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountByMetaKey returns the number of documents whose metadata JSON
// carries the given key.
func (s *SQLiteIndex) CountByMetaKey(ctx context.Context, key string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents WHERE json_extract(metadata, ?) IS NOT NULL
	`, "$."+key).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
