// Package embedder turns text into dense vectors for the document store.
//
// Backends (Ollama, OpenAI, Azure OpenAI, Gemini) each implement
// rag.Embedder with exactly one provider call per Embed. The Batcher wraps a
// backend with the ingestion batching contract: bounded sub-batches, paced
// sequential calls, per-call timeouts and all-or-nothing results.
package embedder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OpenAIEmbedder calls the OpenAI embeddings API, or an Azure OpenAI
// deployment of it. It is safe for concurrent use.
type OpenAIEmbedder struct {
	endpoint   string
	model      string
	dimensions int
	// auth holds the credential header of the selected flavour.
	auth   http.Header
	client *http.Client
}

// OpenAIConfig configures an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is "https://api.openai.com/v1" (or a compatible server) for
	// OpenAI, "https://<resource>.openai.azure.com/openai" for Azure.
	BaseURL string
	APIKey  string
	// Model is the model name, or the deployment name on Azure.
	Model string
	// Dimensions requests shortened vectors when positive.
	Dimensions int
	// Azure selects api-key auth and the deployments URL layout.
	Azure bool
	// APIVersion is the Azure api-version query value.
	APIVersion string
	// Timeout caps a single HTTP exchange (default: DefaultTimeout).
	Timeout time.Duration
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from cfg.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	auth := http.Header{}
	if cfg.Azure {
		auth.Set("api-key", cfg.APIKey)
	} else {
		auth.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return &OpenAIEmbedder{
		endpoint:   openaiEndpoint(cfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		auth:       auth,
		client:     &http.Client{Timeout: timeout},
	}
}

// openaiEndpoint returns the embeddings URL for cfg.
func openaiEndpoint(cfg *OpenAIConfig) string {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if !cfg.Azure {
		return base + "/embeddings"
	}
	q := url.Values{"api-version": {cfg.APIVersion}}
	return base + "/deployments/" + url.PathEscape(cfg.Model) + "/embeddings?" + q.Encode()
}

type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed sends texts in one request and returns their vectors in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var result openaiEmbedResponse
	err := postJSON(ctx, e.client, e.endpoint, e.auth,
		openaiEmbedRequest{Input: texts, Model: e.model, Dimensions: max(e.dimensions, 0)}, &result,
		func() string {
			if result.Error == nil {
				return ""
			}
			return result.Error.Message
		})
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	return orderByIndex(result, len(texts))
}

// orderByIndex places each returned vector at its "index"; the API does not
// promise input order. Every index must appear exactly once.
func orderByIndex(result openaiEmbedResponse, n int) ([][]float32, error) {
	if len(result.Data) != n {
		return nil, fmt.Errorf("openai embedder: expected %d embeddings, got %d", n, len(result.Data))
	}
	out := make([][]float32, n)
	for _, d := range result.Data {
		switch {
		case d.Index < 0 || d.Index >= n:
			return nil, fmt.Errorf("openai embedder: index %d out of range [0, %d)", d.Index, n)
		case out[d.Index] != nil:
			return nil, fmt.Errorf("openai embedder: duplicate index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
