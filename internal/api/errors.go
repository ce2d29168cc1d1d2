package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/infrapilot/infrapilot/internal/domain"
)

// errorTable is the single mapping from error kind to HTTP status. Handlers
// never pick status codes themselves; every error body is
// {"error_kind": ..., "message": ...}.
var errorTable = []struct {
	err    error
	kind   string
	status int
}{
	{domain.ErrValidation, "validation", http.StatusBadRequest},
	{domain.ErrUnsupportedFormat, "unsupported_format", http.StatusBadRequest},
	{domain.ErrExtraction, "extraction_failed", http.StatusBadRequest},
	{domain.ErrUnauthorized, "unauthorized", http.StatusUnauthorized},
	{domain.ErrForbidden, "forbidden", http.StatusForbidden},
	{domain.ErrNotFound, "not_found", http.StatusNotFound},
	{domain.ErrConflict, "conflict", http.StatusConflict},
	{domain.ErrBackendUnavailable, "backend_unavailable", http.StatusServiceUnavailable},
	{domain.ErrTimeout, "timeout", http.StatusGatewayTimeout},
}

// ErrorStatus resolves an error to its kind and HTTP status. Unknown errors
// map to internal_error / 500.
func ErrorStatus(err error) (string, int) {
	for _, entry := range errorTable {
		if errors.Is(err, entry.err) {
			return entry.kind, entry.status
		}
	}
	return "internal_error", http.StatusInternalServerError
}

// RespondError writes the structured error body for err.
func RespondError(c *gin.Context, err error) {
	kind, status := ErrorStatus(err)
	c.JSON(status, gin.H{
		"error_kind": kind,
		"message":    err.Error(),
	})
}
