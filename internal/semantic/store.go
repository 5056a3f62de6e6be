// Package semantic is the per-tenant dense-embedding index. Embeddings come
// from an external provider and degrade to a zero-vector sentinel on provider
// faults, so the index reports "unavailable" (empty results) instead of
// failing; the lexical index covers those queries.
package semantic

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS semantic_chunks (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding BLOB NOT NULL,
	metadata TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_semantic_tenant ON semantic_chunks(tenant_id);
CREATE INDEX IF NOT EXISTS idx_semantic_document ON semantic_chunks(document_id);
`

// Chunk is the unit handed to IndexChunks. The chunk id should match the
// corresponding lexical chunk so the two indexes describe the same slice of
// text.
type Chunk struct {
	ID       string
	Content  string
	Metadata Metadata
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
	ID         string
	TenantID   string
	DocumentID string
	Content    string
	Metadata   Metadata
	Score      float64
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// Dimensions is the fixed embedding width; every BLOB read is checked
	// against it so a model change fails fast instead of scoring garbage.
	Dimensions int
	// MinScore is the floor at or below which matches are discarded.
	MinScore float64
}

// Store is one tenant's embedding index over SQLite.
type Store struct {
	db       *sql.DB
	embedder TextEmbedder
	dims     int
	minScore float64
}

// Open opens (or creates) the index database at path. Pass ":memory:" for an
// in-memory database (used by tests).
func Open(path string, embedder TextEmbedder, opts StoreOptions) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening semantic index: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging semantic index: %w", err)
	}

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
		return nil, fmt.Errorf("creating semantic schema: %w", err)
	}

	return &Store{db: db, embedder: embedder, dims: opts.Dimensions, minScore: opts.MinScore}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// IndexChunks embeds every chunk's content and persists all rows in a single
// transaction. Chunks whose embedding failed are stored with the zero-vector
// sentinel; they simply never score in a search. Returns the number written.
func (s *Store) IndexChunks(ctx context.Context, tenantID, documentID string, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embeddings := s.embedder.BatchEmbed(ctx, texts)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO semantic_chunks (id, tenant_id, document_id, content, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("encoding metadata for %s: %w", c.ID, err)
		}
		if _, err := stmt.Exec(c.ID, tenantID, documentID, c.Content,
			encodeVector(embeddings[i]), string(meta), now); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing chunk batch: %w", err)
	}
	return len(chunks), nil
}

// Search embeds the query and scores it against every stored vector of the
// tenant. A zero query embedding means the provider is unavailable; the
// result is empty rather than a page of meaningless zero-score matches.
// Matches at or below MinScore are discarded.
func (s *Store) Search(ctx context.Context, tenantID, query string, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		return nil, nil
	}

	queryVec := s.embedder.BatchEmbed(ctx, []string{query})[0]
	if IsZeroVector(queryVec) {
		return nil, nil
	}
	queryNorm := norm(queryVec)

	rows, err := s.db.Query(`
		SELECT id, tenant_id, document_id, content, embedding, metadata
		FROM semantic_chunks WHERE tenant_id = ? ORDER BY rowid`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying semantic chunks: %w", err)
	}
	defer rows.Close()

	var scored []ScoredChunk
	var buf []float32
	for rows.Next() {
		var c ScoredChunk
		var blob []byte
		var meta string
		if err := rows.Scan(&c.ID, &c.TenantID, &c.DocumentID, &c.Content, &blob, &meta); err != nil {
			return nil, fmt.Errorf("scanning semantic chunk: %w", err)
		}
		buf, err = decodeVectorInto(buf, blob, s.dims)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", c.ID, err)
		}
		score := cosine(queryVec, buf, queryNorm)
		if score <= s.minScore {
			continue
		}
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", c.ID, err)
		}
		c.Score = score
		scored = append(scored, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating semantic chunks: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// RemoveDocument deletes all rows of one document and reports how many.
func (s *Store) RemoveDocument(documentID string) (int64, error) {
	res, err := s.db.Exec("DELETE FROM semantic_chunks WHERE document_id = ?", documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting semantic chunks for document %s: %w", documentID, err)
	}
	return res.RowsAffected()
}

// Count returns the number of rows stored for the tenant.
func (s *Store) Count(tenantID string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM semantic_chunks WHERE tenant_id = ?", tenantID).Scan(&n)
	return n, err
}

// encodeVector serialises a vector as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVectorInto decodes a stored BLOB, reusing buf across rows. A length
// other than dims*4 means the row was written with a different embedding
// model or is corrupt; either way scoring it would be meaningless.
func decodeVectorInto(buf []float32, b []byte, dims int) ([]float32, error) {
	if len(b) != dims*4 {
		return nil, fmt.Errorf("embedding blob is %d bytes, expected %d (%d dims)", len(b), dims*4, dims)
	}
	if cap(buf) < dims {
		buf = make([]float32, dims)
	} else {
		buf = buf[:dims]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine computes cosine similarity given the precomputed norm of a.
func cosine(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return 0
	}
	return dot / (aNorm * math.Sqrt(bNormSq))
}
