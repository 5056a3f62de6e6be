// Package vault orchestrates the document pipeline: store the upload, extract
// text, chunk it, and index every chunk in the tenant's lexical and semantic
// indexes. Search degrades from semantic to lexical when the embedding side
// is unavailable or unconvincing.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/docvault/internal/chunker"
	"github.com/kalambet/docvault/internal/config"
	"github.com/kalambet/docvault/internal/extract"
	"github.com/kalambet/docvault/internal/lexical"
	"github.com/kalambet/docvault/internal/semantic"
	"github.com/kalambet/docvault/internal/tenant"
)

// ErrUnsupportedFormat rejects uploads whose filename maps to no extractor.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// TextExtractor turns a stored file into plain text. *extract.Processor is
// the production implementation.
type TextExtractor interface {
	ExtractText(ctx context.Context, path, mimeType string) (string, error)
}

// SearchResult is one retrieval hit, normalised across both indexes.
type SearchResult struct {
	ChunkID          string  `json:"chunk_id"`
	DocumentID       string  `json:"document_id"`
	DocumentFilename string  `json:"document_filename"`
	Content          string  `json:"content"`
	Score            float64 `json:"score"`
	// Source is "semantic" or "lexical", naming the index that produced the
	// hit. A single response never mixes the two.
	Source string `json:"source"`
}

// UploadResult reports the outcome of one document upload. The embedded
// Document carries the final status; a failed extraction is reported here,
// not as an error, so the caller can still see the record.
type UploadResult struct {
	Document      tenant.Document `json:"document"`
	ChunksCreated int             `json:"chunks_created"`
	ProcessingMS  int64           `json:"processing_ms"`
}

// Vault is the per-process entry point for all tenant document operations.
type Vault struct {
	tenants   *tenant.Store
	extractor TextExtractor
	registry  *registry
	chunking  chunker.Config
	search    config.SearchConfig
	logger    *slog.Logger
}

// New wires a Vault from its collaborators. The embedder is shared across
// tenants; indexes are opened lazily per tenant.
func New(tenants *tenant.Store, extractor TextExtractor, embedder semantic.TextEmbedder, cfg config.Config, logger *slog.Logger) *Vault {
	return &Vault{
		tenants:   tenants,
		extractor: extractor,
		registry: newRegistry(tenants, embedder, semantic.StoreOptions{
			Dimensions: cfg.Embedding.Dimensions,
			MinScore:   cfg.Search.MinScore,
		}),
		chunking: chunker.Config{
			MaxTokens:     cfg.Chunking.MaxTokens,
			OverlapTokens: cfg.Chunking.OverlapTokens,
		},
		search: cfg.Search,
		logger: logger,
	}
}

// UploadDocument stores the file, extracts its text, chunks it and indexes
// the chunks in both of the tenant's indexes. The lexical index is the path
// of record: if it cannot be written the document is marked failed. The
// semantic index is best effort; embedding faults degrade to the zero-vector
// sentinel and never fail the upload.
//
// Extraction and indexing failures are reported through the document status
// ("failed" plus an error message), not as a returned error; the error return
// covers problems storing the file or its record.
func (v *Vault) UploadDocument(ctx context.Context, tenantID, filename string, content io.Reader) (*UploadResult, error) {
	started := time.Now()

	mimeType := extract.MimeTypeFor(filename)
	if !extract.IsSupported(filename) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}

	docsDir, err := v.tenants.DocsDir(tenantID)
	if err != nil {
		return nil, err
	}

	docID := uuid.NewString()
	storedName := docID + strings.ToLower(filepath.Ext(filename))
	storedPath := filepath.Join(docsDir, storedName)

	size, err := writeUpload(storedPath, content)
	if err != nil {
		return nil, fmt.Errorf("storing upload: %w", err)
	}

	doc := tenant.Document{
		ID:               docID,
		TenantID:         tenantID,
		Filename:         storedName,
		OriginalFilename: filename,
		StoredPath:       storedPath,
		MimeType:         mimeType,
		FileSize:         size,
		Status:           tenant.StatusPending,
		UploadedAt:       started.UTC(),
	}
	if err := v.tenants.AddDocument(doc); err != nil {
		os.Remove(storedPath)
		return nil, err
	}

	doc.Status = tenant.StatusProcessing
	if err := v.tenants.UpdateDocument(doc); err != nil {
		return nil, err
	}

	log := v.logger.With("tenant", tenantID, "document", docID, "filename", filename)

	text, err := v.extractor.ExtractText(ctx, storedPath, mimeType)
	if err != nil {
		log.Error("text extraction failed", "error", err)
		return v.failUpload(doc, started, fmt.Sprintf("text extraction failed: %v", err))
	}
	if strings.TrimSpace(text) == "" {
		return v.failUpload(doc, started, "document contains no extractable text")
	}

	chunks := chunker.Split(text, v.chunking)
	if len(chunks) == 0 {
		return v.failUpload(doc, started, "document produced no chunks")
	}

	stores, err := v.registry.stores(tenantID)
	if err != nil {
		log.Error("opening tenant indexes failed", "error", err)
		return v.failUpload(doc, started, fmt.Sprintf("opening indexes failed: %v", err))
	}

	lexChunks := make([]lexical.Chunk, len(chunks))
	semChunks := make([]semantic.Chunk, len(chunks))
	for i, c := range chunks {
		chunkID := fmt.Sprintf("%s-%d", docID, c.ChunkIndex)
		meta := lexical.Metadata{
			Filename:  filename,
			StartChar: c.StartChar,
			EndChar:   c.EndChar,
		}
		lexChunks[i] = lexical.Chunk{
			ID:            chunkID,
			TenantID:      tenantID,
			DocumentID:    docID,
			Content:       c.Content,
			ChunkIndex:    c.ChunkIndex,
			TokenCount:    c.EstimatedTokens,
			KeywordVector: lexical.BuildKeywordVector(c.Content),
			Metadata:      meta,
		}
		semChunks[i] = semantic.Chunk{
			ID:      chunkID,
			Content: c.Content,
			Metadata: semantic.Metadata{
				Filename:  meta.Filename,
				StartChar: meta.StartChar,
				EndChar:   meta.EndChar,
			},
		}
	}

	if err := stores.lexical.InsertChunks(lexChunks); err != nil {
		log.Error("lexical indexing failed", "error", err)
		return v.failUpload(doc, started, fmt.Sprintf("keyword indexing failed: %v", err))
	}
	if _, err := stores.semantic.IndexChunks(ctx, tenantID, docID, semChunks); err != nil {
		// The lexical index already covers the document; keep going.
		log.Warn("semantic indexing failed, document searchable by keywords only", "error", err)
	}

	now := time.Now().UTC()
	doc.Status = tenant.StatusIndexed
	doc.TextContent = text
	doc.ChunkCount = len(chunks)
	doc.ProcessedAt = &now
	if err := v.tenants.UpdateDocument(doc); err != nil {
		return nil, err
	}

	log.Info("document indexed", "chunks", len(chunks), "duration", time.Since(started))
	return &UploadResult{
		Document:      doc,
		ChunksCreated: len(chunks),
		ProcessingMS:  time.Since(started).Milliseconds(),
	}, nil
}

func (v *Vault) failUpload(doc tenant.Document, started time.Time, reason string) (*UploadResult, error) {
	now := time.Now().UTC()
	doc.Status = tenant.StatusFailed
	doc.ErrorMessage = reason
	doc.ProcessedAt = &now
	if err := v.tenants.UpdateDocument(doc); err != nil {
		return nil, err
	}
	return &UploadResult{
		Document:     doc,
		ProcessingMS: time.Since(started).Milliseconds(),
	}, nil
}

// SearchKnowledge retrieves the topK most relevant chunks for the query.
// The semantic index is consulted first; when it returns nothing, errors, or
// its best score falls under the fallback threshold, the lexical index
// answers instead. Results always come from exactly one index.
func (v *Vault) SearchKnowledge(ctx context.Context, tenantID, query string, topK int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return []SearchResult{}, nil
	}
	if topK <= 0 {
		topK = v.search.DefaultTopK
	}

	stores, err := v.registry.stores(tenantID)
	if err != nil {
		return nil, err
	}

	// A semantic store error means local corruption, not a provider outage
	// (outages surface as the zero-vector sentinel and an empty result set),
	// so it propagates instead of being papered over by the fallback.
	semHits, err := stores.semantic.Search(ctx, tenantID, query, topK)
	if err != nil {
		return nil, err
	}
	if len(semHits) > 0 && semHits[0].Score >= v.search.FallbackThreshold {
		results := make([]SearchResult, len(semHits))
		for i, h := range semHits {
			results[i] = SearchResult{
				ChunkID:          h.ID,
				DocumentID:       h.DocumentID,
				DocumentFilename: h.Metadata.Filename,
				Content:          h.Content,
				Score:            h.Score,
				Source:           "semantic",
			}
		}
		return results, nil
	}

	lexHits, err := stores.lexical.Search(tenantID, query, topK)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, len(lexHits))
	for i, h := range lexHits {
		results[i] = SearchResult{
			ChunkID:          h.ID,
			DocumentID:       h.DocumentID,
			DocumentFilename: h.Metadata.Filename,
			Content:          h.Content,
			Score:            h.Score,
			Source:           "lexical",
		}
	}
	return results, nil
}

// ListDocuments returns all document records of the tenant.
func (v *Vault) ListDocuments(tenantID string) ([]tenant.Document, error) {
	return v.tenants.Documents(tenantID)
}

// GetDocument returns one document record, or tenant.ErrNotFound.
func (v *Vault) GetDocument(tenantID, documentID string) (tenant.Document, error) {
	return v.tenants.GetDocument(tenantID, documentID)
}

// DeleteDocument removes a document everywhere: both indexes, the stored
// file, and the metadata record. Index and file cleanup is best effort so a
// half-deleted document can always be deleted again; the record is removed
// last.
func (v *Vault) DeleteDocument(tenantID, documentID string) error {
	doc, err := v.tenants.GetDocument(tenantID, documentID)
	if err != nil {
		return err
	}

	log := v.logger.With("tenant", tenantID, "document", documentID)

	stores, err := v.registry.stores(tenantID)
	if err != nil {
		log.Warn("opening tenant indexes for delete failed", "error", err)
	} else {
		if _, err := stores.semantic.RemoveDocument(documentID); err != nil {
			log.Warn("removing semantic chunks failed", "error", err)
		}
		if _, err := stores.lexical.DeleteByDocument(documentID); err != nil {
			log.Warn("removing lexical chunks failed", "error", err)
		}
	}

	if err := os.Remove(doc.StoredPath); err != nil && !os.IsNotExist(err) {
		log.Warn("removing stored file failed", "error", err)
	}

	return v.tenants.RemoveDocument(tenantID, documentID)
}

// Close releases every open tenant index.
func (v *Vault) Close() error {
	return v.registry.closeAll()
}

func writeUpload(path string, content io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	size, err := io.Copy(f, content)
	if err != nil {
		f.Close()
		os.Remove(path)
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return size, nil
}
