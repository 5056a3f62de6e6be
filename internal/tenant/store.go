// Package tenant resolves per-tenant storage paths and persists document
// metadata records. Every tenant gets its own directory under the data dir;
// nothing in here is shared across tenants except the root path.
package tenant

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store manages tenant directories and tenant-scoped document records.
// Records live in a documents.json per tenant, rewritten atomically on every
// mutation; the file is small (metadata only, chunks live in SQLite).
type Store struct {
	root string

	mu sync.Mutex // serialises read-modify-write cycles on documents.json
}

// NewStore creates a Store rooted at dataDir. Tenant directories are created
// lazily on first use.
func NewStore(dataDir string) *Store {
	return &Store{root: filepath.Join(dataDir, "tenants")}
}

// Dir returns the tenant's directory, creating it if needed.
func (s *Store) Dir(tenantID string) (string, error) {
	dir := filepath.Join(s.root, tenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating tenant directory: %w", err)
	}
	return dir, nil
}

// DocsDir returns the tenant's document storage directory, creating it if needed.
func (s *Store) DocsDir(tenantID string) (string, error) {
	dir := filepath.Join(s.root, tenantID, "docs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating document directory: %w", err)
	}
	return dir, nil
}

// LexicalDBPath returns the path of the tenant's keyword index database.
func (s *Store) LexicalDBPath(tenantID string) string {
	return filepath.Join(s.root, tenantID, "lexical.db")
}

// SemanticDBPath returns the path of the tenant's embedding index database.
func (s *Store) SemanticDBPath(tenantID string) string {
	return filepath.Join(s.root, tenantID, "semantic.db")
}

func (s *Store) recordsPath(tenantID string) string {
	return filepath.Join(s.root, tenantID, "documents.json")
}

// Documents returns all document records for the tenant, in insertion order.
// A tenant with no records yields an empty slice.
func (s *Store) Documents(tenantID string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readDocs(tenantID)
}

// GetDocument returns the record for documentID, or ErrNotFound.
func (s *Store) GetDocument(tenantID, documentID string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.readDocs(tenantID)
	if err != nil {
		return Document{}, err
	}
	for _, d := range docs {
		if d.ID == documentID {
			return d, nil
		}
	}
	return Document{}, ErrNotFound
}

// AddDocument appends a new record for the tenant.
func (s *Store) AddDocument(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.readDocs(doc.TenantID)
	if err != nil {
		return err
	}
	docs = append(docs, doc)
	return s.writeDocs(doc.TenantID, docs)
}

// UpdateDocument replaces the record with the same ID. Missing records
// return ErrNotFound.
func (s *Store) UpdateDocument(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.readDocs(doc.TenantID)
	if err != nil {
		return err
	}
	for i := range docs {
		if docs[i].ID == doc.ID {
			docs[i] = doc
			return s.writeDocs(doc.TenantID, docs)
		}
	}
	return ErrNotFound
}

// RemoveDocument deletes the record. Missing records return ErrNotFound.
func (s *Store) RemoveDocument(tenantID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.readDocs(tenantID)
	if err != nil {
		return err
	}
	for i := range docs {
		if docs[i].ID == documentID {
			docs = append(docs[:i], docs[i+1:]...)
			return s.writeDocs(tenantID, docs)
		}
	}
	return ErrNotFound
}

func (s *Store) readDocs(tenantID string) ([]Document, error) {
	data, err := os.ReadFile(s.recordsPath(tenantID))
	if os.IsNotExist(err) {
		return []Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading document records: %w", err)
	}
	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parsing document records: %w", err)
	}
	return docs, nil
}

func (s *Store) writeDocs(tenantID string, docs []Document) error {
	dir := filepath.Join(s.root, tenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating tenant directory: %w", err)
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding document records: %w", err)
	}

	// Write-then-rename so a crash mid-write never truncates the records.
	tmp := s.recordsPath(tenantID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing document records: %w", err)
	}
	if err := os.Rename(tmp, s.recordsPath(tenantID)); err != nil {
		return fmt.Errorf("replacing document records: %w", err)
	}
	return nil
}
