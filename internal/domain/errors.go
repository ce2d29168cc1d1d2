package domain

import "errors"

var (
	// ErrValidation indicates a malformed or out-of-range request field
	ErrValidation = errors.New("validation error")
	// ErrUnsupportedFormat indicates a file format outside the supported set
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrExtraction indicates a payload that is malformed for its declared format
	ErrExtraction = errors.New("extraction failed")
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrUnauthorized indicates missing or invalid credentials
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates insufficient privileges
	ErrForbidden = errors.New("forbidden")
	// ErrConflict indicates a uniqueness conflict on create
	ErrConflict = errors.New("already exists")
	// ErrBackendUnavailable indicates the inference or vector backend is unreachable
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrTimeout indicates the backend exceeded its time budget
	ErrTimeout = errors.New("backend timeout")
)
