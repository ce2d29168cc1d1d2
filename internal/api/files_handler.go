package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/infrapilot/infrapilot/internal/domain"
	"github.com/infrapilot/infrapilot/internal/service"
)

// FilesHandler serves file upload and management.
type FilesHandler struct {
	files *service.FileService
}

// NewFilesHandler creates a files handler.
func NewFilesHandler(files *service.FileService) *FilesHandler {
	return &FilesHandler{files: files}
}

// RegisterRoutes registers file routes
func (h *FilesHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/upload", h.Upload)
	r.GET("", h.List)
	r.GET("/:id", h.Get)
	r.DELETE("/:id", h.Delete)
}

// Upload accepts a multipart file, extracts its text, and optionally
// stores it for retrieval.
func (h *FilesHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondError(c, fmt.Errorf("%w: file field is required", domain.ErrValidation))
		return
	}

	storeInRAG := true
	if raw := c.PostForm("store_in_rag"); raw == "false" || raw == "0" {
		storeInRAG = false
	}

	var custom map[string]interface{}
	if raw := c.PostForm("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &custom); err != nil {
			RespondError(c, fmt.Errorf("%w: metadata is not valid JSON", domain.ErrValidation))
			return
		}
	}

	file, err := fileHeader.Open()
	if err != nil {
		RespondError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		RespondError(c, fmt.Errorf("read upload: %v", err))
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	result, err := h.files.Upload(c.Request.Context(), fileHeader.Filename, mimeType, data, storeInRAG, custom)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// List pages through stored uploads.
func (h *FilesHandler) List(c *gin.Context) {
	limit := queryInt(c, "limit", 10)
	offset := queryInt(c, "offset", 0)

	files, total, err := h.files.List(c.Request.Context(), limit, offset)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"files": files,
		"total": total,
	})
}

// Get retrieves one stored upload with its extracted text.
func (h *FilesHandler) Get(c *gin.Context) {
	doc, err := h.files.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Delete removes a stored upload.
func (h *FilesHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.files.Delete(c.Request.Context(), id); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "message": "File deleted successfully"})
}
