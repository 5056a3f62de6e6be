// Package extract turns uploaded files into plain text for chunking.
// Supported formats: PDF, DOCX, CSV, plain text (incl. markdown/JSON) and
// common raster images when a VisionOCR collaborator is wired in.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExtractionError reports a failed or unsupported extraction. It is fatal to
// the upload that triggered it.
type ExtractionError struct {
	Path     string
	MimeType string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s (%s): %v", e.Path, e.MimeType, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// VisionOCR extracts text from a raster image. The actual model call lives
// outside this package; Processor only needs the contract.
type VisionOCR interface {
	ExtractImageText(ctx context.Context, imageData []byte, mimeType string) (string, error)
}

// Processor dispatches extraction by mime type.
type Processor struct {
	vision VisionOCR // nil means image uploads are rejected
}

// NewProcessor creates a Processor. Pass nil vision to disable image OCR.
func NewProcessor(vision VisionOCR) *Processor {
	return &Processor{vision: vision}
}

const docxMime = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// ExtractText reads the file at path and returns its plain text.
func (p *Processor) ExtractText(ctx context.Context, path, mimeType string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", &ExtractionError{Path: path, MimeType: mimeType, Err: err}
	}

	mime := strings.ToLower(mimeType)
	switch {
	case mime == "application/pdf":
		text, err := extractPDF(path)
		return p.wrap(path, mime, text, err)
	case mime == docxMime:
		text, err := extractDOCX(path)
		return p.wrap(path, mime, text, err)
	case mime == "text/csv" || mime == "application/csv":
		text, err := extractCSV(path)
		return p.wrap(path, mime, text, err)
	case strings.HasPrefix(mime, "text/") || mime == "application/json":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", &ExtractionError{Path: path, MimeType: mime, Err: err}
		}
		return string(data), nil
	case strings.HasPrefix(mime, "image/"):
		return p.extractImage(ctx, path, mime)
	default:
		return "", &ExtractionError{Path: path, MimeType: mime, Err: fmt.Errorf("unsupported mime type")}
	}
}

func (p *Processor) wrap(path, mime string, text string, err error) (string, error) {
	if err != nil {
		return "", &ExtractionError{Path: path, MimeType: mime, Err: err}
	}
	return text, nil
}

func (p *Processor) extractImage(ctx context.Context, path, mime string) (string, error) {
	if p.vision == nil {
		return "", &ExtractionError{Path: path, MimeType: mime, Err: fmt.Errorf("no OCR collaborator configured")}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &ExtractionError{Path: path, MimeType: mime, Err: err}
	}
	text, err := p.vision.ExtractImageText(ctx, data, mime)
	if err != nil {
		return "", &ExtractionError{Path: path, MimeType: mime, Err: err}
	}
	return text, nil
}

// MimeTypeFor guesses a mime type from the filename extension, falling back
// to application/octet-stream (which ExtractText rejects).
func MimeTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return docxMime
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// IsSupported reports whether the filename maps to a supported mime type.
func IsSupported(filename string) bool {
	return MimeTypeFor(filename) != "application/octet-stream"
}
