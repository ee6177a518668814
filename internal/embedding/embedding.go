// Package embedding provides the optional dense-vector client used by the
// ingestion coordinator. A disabled or noop provider returns ErrNoProvider
// so embedding failures never block an ingest.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/khalidsaidi/ragmap/internal/catalog"
)

// ErrNoProvider is returned by NoopProvider and signals "no embedding for
// this record" — the caller must not treat this as a fatal ingest error.
var ErrNoProvider = errors.New("embedding: no provider configured")

const maxResponseBody = 10 << 20 // 10MB

// Provider requests a dense vector for a text blob.
type Provider interface {
	Embed(ctx context.Context, text string) (*catalog.Embedding, error)
}

// OpenAIProvider calls an OpenAI-compatible embeddings endpoint.
type OpenAIProvider struct {
	apiKey     string
	model      string
	baseURL    string
	dimensions int
	httpClient *http.Client
}

// NewOpenAIProvider constructs a provider. dimensions of 0 defaults to 1536.
func NewOpenAIProvider(apiKey, model string, dimensions int) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("embedding: api key is required")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dimensions == 0 {
		dimensions = 1536
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    "https://api.openai.com/v1/embeddings",
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type openAIRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed requests a single embedding. Callers are expected to bound ctx with
// a reasonable deadline (recommended <= 30s) — a hanging provider must
// never block the ingestion coordinator beyond that.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) (*catalog.Embedding, error) {
	body, err := json.Marshal(openAIRequest{Model: p.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("embedding: provider error (%d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return nil, fmt.Errorf("embedding: provider returned status %d", resp.StatusCode)
	}
	if len(parsed.Data) == 0 {
		return nil, errors.New("embedding: empty response data")
	}

	return &catalog.Embedding{
		Model:      p.model,
		Dimensions: len(parsed.Data[0].Embedding),
		Vector:     parsed.Data[0].Embedding,
		CreatedAt:  time.Now(),
	}, nil
}

// NoopProvider is used when embeddings are disabled in configuration; it
// never stores zero-vectors, it simply declines.
type NoopProvider struct {
	dimensions int
}

// NewNoopProvider constructs a no-op provider.
func NewNoopProvider(dimensions int) *NoopProvider {
	return &NoopProvider{dimensions: dimensions}
}

func (p *NoopProvider) Embed(_ context.Context, _ string) (*catalog.Embedding, error) {
	return nil, ErrNoProvider
}
