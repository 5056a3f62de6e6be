package tenant

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a document id has no record for the tenant.
var ErrNotFound = errors.New("not found")

// Status tracks a document through the ingestion lifecycle. A document never
// transitions back out of indexed or failed; re-processing means delete and
// re-upload.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusIndexed    Status = "indexed"
	StatusFailed     Status = "failed"
)

// Document is the persisted metadata record for one uploaded document.
// Invariant: ChunkCount > 0 exactly when Status == StatusIndexed.
type Document struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"`
	Filename         string     `json:"filename"`
	OriginalFilename string     `json:"original_filename"`
	StoredPath       string     `json:"stored_path"`
	MimeType         string     `json:"mime_type"`
	FileSize         int64      `json:"file_size"`
	TextContent      string     `json:"text_content,omitempty"`
	ChunkCount       int        `json:"chunk_count"`
	Status           Status     `json:"status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	UploadedAt       time.Time  `json:"uploaded_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
}
