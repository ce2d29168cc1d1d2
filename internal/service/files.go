package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/infrapilot/infrapilot/internal/config"
	"github.com/infrapilot/infrapilot/internal/domain"
	"github.com/infrapilot/infrapilot/internal/extract"
)

// DocumentStore is the slice of the context store the file service uses.
// Uploaded files live in the same store as plain documents; a filename in
// the metadata marks a record as an upload.
type DocumentStore interface {
	AddWithID(ctx context.Context, id, text string, metadata map[string]interface{}) (string, error)
	Get(ctx context.Context, id string) (*domain.Document, error)
	Delete(ctx context.Context, id string) error
	ListByMetaKey(ctx context.Context, key string, limit, offset int) ([]domain.Document, error)
	CountByMetaKey(ctx context.Context, key string) (int, error)
}

// UploadResult summarizes one processed upload.
type UploadResult struct {
	ID            string                 `json:"id"`
	Filename      string                 `json:"filename"`
	Size          int                    `json:"size"`
	Format        string                 `json:"format"`
	StoredInRAG   bool                   `json:"stored_in_rag"`
	Message       string                 `json:"message"`
	Metadata      map[string]interface{} `json:"metadata"`
	ExtractedText int                    `json:"extracted_text_length"`
}

// FileInfo is one entry of a file listing.
type FileInfo struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	Format     string `json:"format"`
	Size       int    `json:"size"`
	UploadedAt string `json:"uploaded_at,omitempty"`
}

// FileService extracts text from uploads and optionally stores it for
// retrieval.
type FileService struct {
	cfg    *config.Config
	store  DocumentStore
	logger *zap.Logger
}

// NewFileService creates a file service.
func NewFileService(cfg *config.Config, store DocumentStore, logger *zap.Logger) *FileService {
	return &FileService{cfg: cfg, store: store, logger: logger}
}

// Upload validates, extracts, and optionally persists one file.
func (s *FileService) Upload(ctx context.Context, filename, mimeType string, data []byte, storeInRAG bool, custom map[string]interface{}) (*UploadResult, error) {
	format := extract.DetectFormat(filename, mimeType)
	if format == extract.FormatUnknown {
		return nil, fmt.Errorf("%w: file %q (%s)", domain.ErrUnsupportedFormat, filename, mimeType)
	}
	if max := s.cfg.Security.MaxUploadBytes; max > 0 && int64(len(data)) > max {
		return nil, fmt.Errorf("%w: file %q exceeds %d bytes", domain.ErrValidation, filename, max)
	}

	text, err := extract.ExtractText(data, format)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	metadata := map[string]interface{}{
		"filename":    filename,
		"size":        len(data),
		"format":      string(format),
		"uploaded_at": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range custom {
		metadata[k] = v
	}

	result := &UploadResult{
		ID:            id,
		Filename:      filename,
		Size:          len(data),
		Format:        string(format),
		StoredInRAG:   storeInRAG,
		Metadata:      metadata,
		ExtractedText: len(text),
	}

	if !storeInRAG {
		result.Message = "File processed successfully (not stored in RAG)"
		s.logger.Info("file processed", zap.String("filename", filename), zap.Int("size", len(data)))
		return result, nil
	}

	if _, err := s.store.AddWithID(ctx, id, text, metadata); err != nil {
		return nil, err
	}
	result.Message = "File uploaded and stored in RAG successfully"
	s.logger.Info("file stored",
		zap.String("id", id),
		zap.String("filename", filename),
		zap.Int("extracted_text_length", len(text)),
	)
	return result, nil
}

// List pages through stored uploads. Plain documents share the store but
// carry no filename metadata, so both the page and the total cover upload
// records only.
func (s *FileService) List(ctx context.Context, limit, offset int) ([]FileInfo, int, error) {
	docs, err := s.store.ListByMetaKey(ctx, "filename", limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountByMetaKey(ctx, "filename")
	if err != nil {
		return nil, 0, err
	}

	files := make([]FileInfo, 0, len(docs))
	for _, doc := range docs {
		name, ok := doc.Metadata["filename"].(string)
		if !ok {
			continue
		}
		info := FileInfo{ID: doc.ID, Filename: name}
		if f, ok := doc.Metadata["format"].(string); ok {
			info.Format = f
		}
		if sz, ok := doc.Metadata["size"].(float64); ok {
			info.Size = int(sz)
		} else if sz, ok := doc.Metadata["size"].(int); ok {
			info.Size = sz
		}
		if at, ok := doc.Metadata["uploaded_at"].(string); ok {
			info.UploadedAt = at
		}
		files = append(files, info)
	}
	return files, total, nil
}

// Get retrieves one stored upload by id.
func (s *FileService) Get(ctx context.Context, id string) (*domain.Document, error) {
	return s.store.Get(ctx, id)
}

// Delete removes one stored upload by id.
func (s *FileService) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}
