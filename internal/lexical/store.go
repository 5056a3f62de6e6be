// Package lexical is the per-tenant keyword index: sparse term-frequency
// vectors over SQLite with brute-force cosine ranking. It has no network
// dependency, which makes it the path of record for ingestion and the
// fallback for search when the semantic index degrades.
package lexical

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS lexical_chunks (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	content TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	token_count INTEGER NOT NULL,
	keyword_vector TEXT NOT NULL,
	metadata TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lexical_tenant ON lexical_chunks(tenant_id);
CREATE INDEX IF NOT EXISTS idx_lexical_document ON lexical_chunks(document_id);
`

// Chunk is one persisted lexical chunk.
type Chunk struct {
	ID            string
	TenantID      string
	DocumentID    string
	Content       string
	ChunkIndex    int
	TokenCount    int
	KeywordVector map[string]float64
	Metadata      Metadata
	CreatedAt     time.Time
}

// Metadata travels with a chunk into search results.
type Metadata struct {
	Filename     string `json:"filename"`
	StartChar    int    `json:"start_char"`
	EndChar      int    `json:"end_char"`
	SectionTitle string `json:"section_title,omitempty"`
}

// ScoredChunk is a search hit with its cosine similarity.
type ScoredChunk struct {
	Chunk
	Score float64
}

// Store is one tenant's keyword index. The database file lives inside the
// tenant directory, so tenant isolation holds at the filesystem level; the
// tenant_id column is kept for schema parity and defensive filtering.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the index database at path. Pass ":memory:" for an
// in-memory database (used by tests).
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening lexical index: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging lexical index: %w", err)
	}

	// Single connection avoids "database is locked" under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating lexical schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertChunks writes all chunks in a single transaction, so a concurrent
// reader never observes a partially written batch.
func (s *Store) InsertChunks(chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO lexical_chunks (id, tenant_id, document_id, content, chunk_index, token_count, keyword_vector, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		vec, err := json.Marshal(c.KeywordVector)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encoding keyword vector for %s: %w", c.ID, err)
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encoding metadata for %s: %w", c.ID, err)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.Exec(c.ID, c.TenantID, c.DocumentID, c.Content, c.ChunkIndex, c.TokenCount,
			string(vec), string(meta), createdAt.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteByDocument removes all chunks of one document and reports how many.
func (s *Store) DeleteByDocument(documentID string) (int64, error) {
	res, err := s.db.Exec("DELETE FROM lexical_chunks WHERE document_id = ?", documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks for document %s: %w", documentID, err)
	}
	return res.RowsAffected()
}

// DeleteByTenant removes all chunks of one tenant and reports how many.
func (s *Store) DeleteByTenant(tenantID string) (int64, error) {
	res, err := s.db.Exec("DELETE FROM lexical_chunks WHERE tenant_id = ?", tenantID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks for tenant %s: %w", tenantID, err)
	}
	return res.RowsAffected()
}

// Search scores every chunk of the tenant against the query's keyword vector
// and returns the topK best matches, best first. Linear in the tenant's chunk
// count; the store is already partitioned per tenant so the scan stays small.
// Ties keep insertion order (stable sort) so results are deterministic.
func (s *Store) Search(tenantID, query string, topK int) ([]ScoredChunk, error) {
	queryVector := BuildKeywordVector(query)
	if len(queryVector) == 0 || topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT id, tenant_id, document_id, content, chunk_index, token_count, keyword_vector, metadata, created_at
		FROM lexical_chunks WHERE tenant_id = ? ORDER BY rowid`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying lexical chunks: %w", err)
	}
	defer rows.Close()

	var scored []ScoredChunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		score := CosineSimilarity(queryVector, chunk.KeywordVector)
		if score > 0 {
			scored = append(scored, ScoredChunk{Chunk: chunk, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lexical chunks: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Count returns the number of chunks stored for the tenant.
func (s *Store) Count(tenantID string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM lexical_chunks WHERE tenant_id = ?", tenantID).Scan(&n)
	return n, err
}

// CountByDocument returns the number of chunks stored for one document.
func (s *Store) CountByDocument(documentID string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM lexical_chunks WHERE document_id = ?", documentID).Scan(&n)
	return n, err
}

func scanChunk(rows *sql.Rows) (Chunk, error) {
	var c Chunk
	var vec, meta, createdAt string
	if err := rows.Scan(&c.ID, &c.TenantID, &c.DocumentID, &c.Content, &c.ChunkIndex, &c.TokenCount,
		&vec, &meta, &createdAt); err != nil {
		return Chunk{}, fmt.Errorf("scanning chunk row: %w", err)
	}
	if err := json.Unmarshal([]byte(vec), &c.KeywordVector); err != nil {
		return Chunk{}, fmt.Errorf("decoding keyword vector for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return Chunk{}, fmt.Errorf("decoding metadata for %s: %w", c.ID, err)
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Chunk{}, fmt.Errorf("parsing created_at for %s: %w", c.ID, err)
	}
	c.CreatedAt = t
	return c, nil
}
