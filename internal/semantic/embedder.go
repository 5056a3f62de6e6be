package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// embedConcurrency bounds in-flight provider calls per BatchEmbed.
const embedConcurrency = 4

// TextEmbedder turns texts into fixed-length vectors. Implementations must
// return exactly one vector per input text and never fail: a vector of all
// zeros is the sentinel for "embedding unavailable".
type TextEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) [][]float32
}

// EmbedderOptions configures the provider client.
type EmbedderOptions struct {
	BaseURL    string
	Model      string
	APIKey     string
	Dimensions int
	BatchSize  int
}

// Embedder calls an external embedding provider over HTTP using the
// batchEmbedContents wire format. Requests are capped at BatchSize texts to
// bound request size and quota blast radius.
type Embedder struct {
	baseURL    string
	model      string
	apiKey     string
	dims       int
	batchSize  int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewEmbedder creates an Embedder. Dimensions and BatchSize must be positive.
func NewEmbedder(opts EmbedderOptions) *Embedder {
	return &Embedder{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		model:     opts.Model,
		apiKey:    opts.APIKey,
		dims:      opts.Dimensions,
		batchSize: opts.BatchSize,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: slog.Default(),
	}
}

type embedRequest struct {
	Requests []embedContentRequest `json:"requests"`
}

type embedContentRequest struct {
	Model   string       `json:"model"`
	Content embedContent `json:"content"`
}

type embedContent struct {
	Parts []embedPart `json:"parts"`
}

type embedPart struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

// BatchEmbed returns one vector per input text. Texts are partitioned into
// fixed-size batches, one provider call each; batches fan out concurrently.
// A failed batch (transport error, non-200, malformed or short response)
// yields zero vectors for exactly the texts in that batch — one provider
// fault never poisons the whole call, and failures are not retried.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) [][]float32 {
	results := make([][]float32, len(texts))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		g.Go(func() error {
			vectors, err := e.embedBatch(gCtx, texts[start:end])
			if err != nil {
				e.logger.Warn("embedding batch failed, using zero vectors",
					"batch_start", start, "batch_size", end-start, "error", err)
				for i := start; i < end; i++ {
					results[i] = make([]float32, e.dims)
				}
				return nil
			}
			for i, vec := range vectors {
				results[start+i] = vec
			}
			return nil
		})
	}
	g.Wait() // goroutines only return nil; degradation happened above

	return results
}

// embedBatch performs one provider call for up to batchSize texts.
func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embedRequest{Requests: make([]embedContentRequest, len(texts))}
	for i, text := range texts {
		reqBody.Requests[i] = embedContentRequest{
			Model:   "models/" + e.model,
			Content: embedContent{Parts: []embedPart{{Text: text}}},
		}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", e.baseURL, e.model, e.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling embedding provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Embeddings) < len(texts) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(parsed.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i := range texts {
		values := parsed.Embeddings[i].Values
		if len(values) != e.dims {
			return nil, fmt.Errorf("provider returned %d-dim vector, expected %d", len(values), e.dims)
		}
		vectors[i] = values
	}
	return vectors, nil
}

// IsZeroVector reports whether vec is the all-zero failure sentinel.
func IsZeroVector(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
