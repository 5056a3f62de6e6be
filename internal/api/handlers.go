// Package api exposes the tenant document pipeline over HTTP. All tenant
// routes sit behind bearer auth; /health stays open for process supervision.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/docvault/internal/tenant"
	"github.com/kalambet/docvault/internal/vault"
)

const maxUploadSize = 50 << 20 // 50MB

type AppDeps struct {
	Vault *vault.Vault
	Token string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Route("/v1/tenants/{tenantID}", func(r chi.Router) {
			r.Post("/documents", handleUpload(deps))
			r.Get("/documents", handleListDocuments(deps))
			r.Get("/documents/{documentID}", handleGetDocument(deps))
			r.Delete("/documents/{documentID}", handleDeleteDocument(deps))
			r.Get("/search", handleSearch(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload accepts a multipart form with a single "file" field. The
// response always carries the document record; extraction problems surface
// as status "failed" on an otherwise successful upload.
func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "missing file field: %v", err)
			return
		}
		defer file.Close()

		result, err := deps.Vault.UploadDocument(r.Context(), tenantID, header.Filename, file)
		if errors.Is(err, vault.ErrUnsupportedFormat) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store document: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, result)
	}
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")

		docs, err := deps.Vault.ListDocuments(tenantID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		if docs == nil {
			docs = []tenant.Document{}
		}

		writeJSON(w, http.StatusOK, docs)
	}
}

func handleGetDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")
		documentID := chi.URLParam(r, "documentID")

		doc, err := deps.Vault.GetDocument(tenantID, documentID)
		if errors.Is(err, tenant.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, doc)
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")
		documentID := chi.URLParam(r, "documentID")

		err := deps.Vault.DeleteDocument(tenantID, documentID)
		if errors.Is(err, tenant.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

type searchResponse struct {
	Query   string               `json:"query"`
	Results []vault.SearchResult `json:"results"`
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")

		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query parameter q is required")
			return
		}
		topK := parseIntParam(r, "top_k", 0, 50)

		results, err := deps.Vault.SearchKnowledge(r.Context(), tenantID, query, topK)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}
		if results == nil {
			results = []vault.SearchResult{}
		}

		writeJSON(w, http.StatusOK, searchResponse{Query: query, Results: results})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
