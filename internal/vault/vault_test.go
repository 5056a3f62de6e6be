package vault

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/kalambet/docvault/internal/config"
	"github.com/kalambet/docvault/internal/extract"
	"github.com/kalambet/docvault/internal/tenant"
)

// keywordEmbedder maps three topic words onto three axes, so similarity in
// tests is fully predictable. With down set, every text embeds to the zero
// sentinel, simulating a provider outage.
type keywordEmbedder struct {
	down bool
}

func (f *keywordEmbedder) BatchEmbed(_ context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 3)
		if !f.down {
			lower := strings.ToLower(t)
			if strings.Contains(lower, "refund") {
				v[0] = 1
			}
			if strings.Contains(lower, "shipping") {
				v[1] = 1
			}
			if strings.Contains(lower, "holiday") {
				v[2] = 1
			}
		}
		out[i] = v
	}
	return out
}

type failingExtractor struct {
	err error
}

func (f *failingExtractor) ExtractText(context.Context, string, string) (string, error) {
	return "", f.err
}

type staticExtractor struct {
	text string
}

func (f *staticExtractor) ExtractText(context.Context, string, string) (string, error) {
	return f.text, nil
}

func testConfig() config.Config {
	return config.Config{
		Embedding: config.EmbeddingConfig{Dimensions: 3},
		Chunking:  config.ChunkingConfig{MaxTokens: 500, OverlapTokens: 50},
		Search:    config.SearchConfig{MinScore: 0.1, FallbackThreshold: 0.9, DefaultTopK: 5},
	}
}

func newTestVault(t *testing.T, extractor TextExtractor, embedder *keywordEmbedder) *Vault {
	t.Helper()
	if extractor == nil {
		extractor = extract.NewProcessor(nil)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := New(tenant.NewStore(t.TempDir()), extractor, embedder, testConfig(), logger)
	t.Cleanup(func() { v.Close() })
	return v
}

func upload(t *testing.T, v *Vault, tenantID, filename, text string) *UploadResult {
	t.Helper()
	res, err := v.UploadDocument(context.Background(), tenantID, filename, strings.NewReader(text))
	if err != nil {
		t.Fatalf("UploadDocument(%s): %v", filename, err)
	}
	return res
}

func TestUploadDocument_Indexed(t *testing.T) {
	v := newTestVault(t, nil, &keywordEmbedder{})
	res := upload(t, v, "acme", "policy.txt", "The refund policy allows returns within thirty days.")

	if res.Document.Status != tenant.StatusIndexed {
		t.Fatalf("status = %s (%s), want indexed", res.Document.Status, res.Document.ErrorMessage)
	}
	if res.ChunksCreated == 0 || res.Document.ChunkCount != res.ChunksCreated {
		t.Errorf("chunks created = %d, record count = %d", res.ChunksCreated, res.Document.ChunkCount)
	}
	if res.Document.ProcessedAt == nil {
		t.Error("ProcessedAt not set")
	}

	got, err := v.GetDocument("acme", res.Document.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != tenant.StatusIndexed {
		t.Errorf("persisted status = %s", got.Status)
	}
	if got.OriginalFilename != "policy.txt" {
		t.Errorf("original filename = %q", got.OriginalFilename)
	}
	if _, err := os.Stat(got.StoredPath); err != nil {
		t.Errorf("stored file missing: %v", err)
	}
}

func TestUploadDocument_UnsupportedFormat(t *testing.T) {
	v := newTestVault(t, nil, &keywordEmbedder{})

	_, err := v.UploadDocument(context.Background(), "acme", "app.exe", strings.NewReader("x"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
	docs, err := v.ListDocuments("acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Errorf("rejected upload left %d records", len(docs))
	}
}

func TestUploadDocument_ExtractionFailureMarksFailed(t *testing.T) {
	v := newTestVault(t, &failingExtractor{err: errors.New("garbled pdf")}, &keywordEmbedder{})

	res, err := v.UploadDocument(context.Background(), "acme", "broken.pdf", strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("UploadDocument returned error, want failed status: %v", err)
	}
	if res.Document.Status != tenant.StatusFailed {
		t.Errorf("status = %s, want failed", res.Document.Status)
	}
	if !strings.Contains(res.Document.ErrorMessage, "garbled pdf") {
		t.Errorf("error message = %q", res.Document.ErrorMessage)
	}
	if res.ChunksCreated != 0 || res.Document.ChunkCount != 0 {
		t.Errorf("failed upload reported chunks: %+v", res)
	}
}

func TestUploadDocument_EmptyTextMarksFailed(t *testing.T) {
	v := newTestVault(t, &staticExtractor{text: "   \n\t "}, &keywordEmbedder{})

	res, err := v.UploadDocument(context.Background(), "acme", "blank.txt", strings.NewReader("ignored"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Document.Status != tenant.StatusFailed {
		t.Errorf("status = %s, want failed", res.Document.Status)
	}
}

func TestSearchKnowledge_SemanticPath(t *testing.T) {
	v := newTestVault(t, nil, &keywordEmbedder{})
	upload(t, v, "acme", "refunds.txt", "The refund window is thirty days.")
	upload(t, v, "acme", "shipping.txt", "Standard shipping takes five days.")

	results, err := v.SearchKnowledge(context.Background(), "acme", "refund", 5)
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("got no results")
	}
	for _, r := range results {
		if r.Source != "semantic" {
			t.Errorf("source = %q, want semantic", r.Source)
		}
	}
	if results[0].DocumentFilename != "refunds.txt" {
		t.Errorf("top hit from %q, want refunds.txt", results[0].DocumentFilename)
	}
}

func TestSearchKnowledge_FallsBackWhenProviderDown(t *testing.T) {
	e := &keywordEmbedder{}
	v := newTestVault(t, nil, e)
	upload(t, v, "acme", "refunds.txt", "The refund window is thirty days.")

	e.down = true
	results, err := v.SearchKnowledge(context.Background(), "acme", "refund window", 5)
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("got no results; keyword fallback should have answered")
	}
	for _, r := range results {
		if r.Source != "lexical" {
			t.Errorf("source = %q, want lexical", r.Source)
		}
	}
}

func TestSearchKnowledge_FallsBackOnLowConfidence(t *testing.T) {
	v := newTestVault(t, nil, &keywordEmbedder{})
	// The document touches all three topics, so a single-topic query scores
	// 1/sqrt(3) against it: a real match, but under the 0.9 threshold.
	upload(t, v, "acme", "mixed.txt", "Refund, shipping and holiday rules in one place.")

	results, err := v.SearchKnowledge(context.Background(), "acme", "refund", 5)
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("got no results")
	}
	for _, r := range results {
		if r.Source != "lexical" {
			t.Errorf("source = %q, want lexical on low-confidence fallback", r.Source)
		}
	}
}

func TestSearchKnowledge_EmptyQuery(t *testing.T) {
	v := newTestVault(t, nil, &keywordEmbedder{})
	upload(t, v, "acme", "refunds.txt", "The refund window is thirty days.")

	results, err := v.SearchKnowledge(context.Background(), "acme", "   ", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results for blank query", len(results))
	}
}

func TestSearchKnowledge_TenantIsolation(t *testing.T) {
	v := newTestVault(t, nil, &keywordEmbedder{})
	upload(t, v, "acme", "refunds.txt", "The refund window is thirty days.")

	results, err := v.SearchKnowledge(context.Background(), "globex", "refund", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("globex sees acme's chunks: %+v", results)
	}
}

func TestDeleteDocument_Cascades(t *testing.T) {
	e := &keywordEmbedder{}
	v := newTestVault(t, nil, e)
	res := upload(t, v, "acme", "refunds.txt", "The refund window is thirty days.")

	if err := v.DeleteDocument("acme", res.Document.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	if _, err := v.GetDocument("acme", res.Document.ID); !errors.Is(err, tenant.ErrNotFound) {
		t.Errorf("GetDocument after delete: %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(res.Document.StoredPath); !os.IsNotExist(err) {
		t.Errorf("stored file still present: %v", err)
	}

	// Neither index should answer for the deleted document.
	for _, down := range []bool{false, true} {
		e.down = down
		results, err := v.SearchKnowledge(context.Background(), "acme", "refund", 5)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 0 {
			t.Errorf("search (provider down=%v) still returns %d results", down, len(results))
		}
	}
}

func TestDeleteDocument_NotFound(t *testing.T) {
	v := newTestVault(t, nil, &keywordEmbedder{})
	if err := v.DeleteDocument("acme", "missing"); !errors.Is(err, tenant.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListDocuments_Order(t *testing.T) {
	v := newTestVault(t, nil, &keywordEmbedder{})
	first := upload(t, v, "acme", "a.txt", "Refund text one.")
	second := upload(t, v, "acme", "b.txt", "Shipping text two.")

	docs, err := v.ListDocuments("acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if docs[0].ID != first.Document.ID || docs[1].ID != second.Document.ID {
		t.Errorf("documents out of upload order: %s, %s", docs[0].ID, docs[1].ID)
	}
}
