package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/docvault/internal/config"
	"github.com/kalambet/docvault/internal/extract"
	"github.com/kalambet/docvault/internal/tenant"
	"github.com/kalambet/docvault/internal/vault"
)

const testToken = "test-token-123"

// axisEmbedder gives each of three topic words its own axis so ranking in
// tests is deterministic.
type axisEmbedder struct{}

func (axisEmbedder) BatchEmbed(_ context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 3)
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
		out[i] = v
	}
	return out
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		Embedding: config.EmbeddingConfig{Dimensions: 3},
		Chunking:  config.ChunkingConfig{MaxTokens: 500, OverlapTokens: 50},
		Search:    config.SearchConfig{MinScore: 0.1, FallbackThreshold: 0.3, DefaultTopK: 5},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := vault.New(tenant.NewStore(t.TempDir()), extract.NewProcessor(nil), axisEmbedder{}, cfg, logger)
	t.Cleanup(func() { v.Close() })

	srv := httptest.NewServer(NewAppHandler(AppDeps{Vault: v, Token: testToken}))
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func uploadFile(t *testing.T, srv *httptest.Server, tenantID, filename, content string) map[string]json.RawMessage {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	resp := doRequest(t, http.MethodPost, srv.URL+"/v1/tenants/"+tenantID+"/documents", &buf, mw.FormDataContentType())
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status = %d: %s", resp.StatusCode, body)
	}
	var out map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestHealthUnauthenticated(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	for _, header := range []string{"", "Bearer wrong", "Basic abc"} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/tenants/acme/documents", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, resp.StatusCode)
		}
	}
}

func TestUploadListGetDelete(t *testing.T) {
	srv := newTestServer(t)

	res := uploadFile(t, srv, "acme", "policy.txt", "The refund window is thirty days.")
	var doc tenant.Document
	if err := json.Unmarshal(res["document"], &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Status != tenant.StatusIndexed {
		t.Fatalf("status = %s, want indexed", doc.Status)
	}

	// List contains exactly this document.
	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/tenants/acme/documents", nil, "")
	var docs []tenant.Document
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID != doc.ID {
		t.Fatalf("list = %+v", docs)
	}

	// Get by id.
	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/tenants/acme/documents/"+doc.ID, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	// Delete, then the record is gone.
	resp = doRequest(t, http.MethodDelete, srv.URL+"/v1/tenants/acme/documents/"+doc.ID, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/tenants/acme/documents/"+doc.ID, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestListEmptyTenant(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/tenants/ghost/documents", nil, "")
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("empty tenant list = %q, want []", body)
	}
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "app.exe")
	fw.Write([]byte("MZ"))
	mw.Close()

	resp := doRequest(t, http.MethodPost, srv.URL+"/v1/tenants/acme/documents", &buf, mw.FormDataContentType())
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadMissingFileField(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("name", "no file here")
	mw.Close()

	resp := doRequest(t, http.MethodPost, srv.URL+"/v1/tenants/acme/documents", &buf, mw.FormDataContentType())
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSearch(t *testing.T) {
	srv := newTestServer(t)
	uploadFile(t, srv, "acme", "refunds.txt", "The refund window is thirty days.")
	uploadFile(t, srv, "acme", "shipping.txt", "Standard shipping takes five days.")

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/tenants/acme/search?q=refund&top_k=3", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Query   string               `json:"query"`
		Results []vault.SearchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Query != "refund" {
		t.Errorf("query = %q", out.Query)
	}
	if len(out.Results) == 0 {
		t.Fatal("no results")
	}
	if out.Results[0].DocumentFilename != "refunds.txt" {
		t.Errorf("top hit = %q, want refunds.txt", out.Results[0].DocumentFilename)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/tenants/acme/search", nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSearchEmptyIndexReturnsEmptyList(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/tenants/acme/search?q=refund", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Results []vault.SearchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Results == nil || len(out.Results) != 0 {
		t.Errorf("results = %#v, want empty non-nil list", out.Results)
	}
}

func TestDeleteMissingDocument(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodDelete, srv.URL+"/v1/tenants/acme/documents/nope", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
