// Package rerank provides second-stage relevance scorers implementing
// rag.Reranker.
//
// CrossEncoder talks to a cross-encoder serving endpoint over HTTP, either
// Hugging Face text-embeddings-inference (TEI) or a Cohere/Jina compatible
// rerank API. Lexical is an offline token-overlap scorer for development
// without a model server.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultModel is the cross-encoder used when none is configured.
const DefaultModel = "cross-encoder/ms-marco-MiniLM-L-6-v2"

// Protocol selects the wire format of the rerank endpoint.
type Protocol string

const (
	// ProtocolTEI is Hugging Face text-embeddings-inference: POST /rerank.
	ProtocolTEI Protocol = "tei"
	// ProtocolCohere is the Cohere/Jina rerank API: POST /v1/rerank.
	ProtocolCohere Protocol = "cohere"
)

// Config holds the settings for constructing a CrossEncoder.
type Config struct {
	// Endpoint is the server base URL (e.g. "http://localhost:8080").
	Endpoint string
	// Protocol selects the wire format (default: tei).
	Protocol Protocol
	// Model is sent with cohere requests; TEI serves a single model.
	Model string
	// APIKey is sent as a Bearer token when set.
	APIKey string
	// Timeout caps a single HTTP exchange (default: 30s).
	Timeout time.Duration
}

// CrossEncoder scores (query, passage) pairs with a remote cross-encoder.
// It is safe for concurrent use.
type CrossEncoder struct {
	// endpoint is the server base URL without a trailing slash.
	endpoint string
	// protocol selects the wire format.
	protocol Protocol
	// model is the cross-encoder model name.
	model string
	// apiKey is the optional Bearer token.
	apiKey string
	// client is the shared HTTP client.
	client *http.Client
}

// NewCrossEncoder constructs a CrossEncoder from cfg.
func NewCrossEncoder(cfg *Config) (*CrossEncoder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("rerank: endpoint must be set")
	}
	protocol := cfg.Protocol
	if protocol == "" {
		protocol = ProtocolTEI
	}
	if protocol != ProtocolTEI && protocol != ProtocolCohere {
		return nil, fmt.Errorf("rerank: unknown protocol %q, valid values: tei, cohere", protocol)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CrossEncoder{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		protocol: protocol,
		model:    model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Endpoint returns the configured server base URL.
func (c *CrossEncoder) Endpoint() string { return c.endpoint }

// teiRequest is the JSON body sent to TEI /rerank.
type teiRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
}

// teiResult is one element of the TEI /rerank response array.
type teiResult struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// cohereRequest is the JSON body sent to /v1/rerank.
type cohereRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

// cohereResponse is the JSON body returned from /v1/rerank.
type cohereResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float32 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank returns one score per passage in input order.
func (c *CrossEncoder) Rerank(ctx context.Context, query string, passages []string) ([]float32, error) {
	if len(passages) == 0 {
		return []float32{}, nil
	}

	var (
		path string
		body any
	)
	switch c.protocol {
	case ProtocolCohere:
		path = "/v1/rerank"
		body = cohereRequest{Model: c.model, Query: query, Documents: passages, TopN: len(passages)}
	default:
		path = "/rerank"
		body = teiRequest{Query: query, Texts: passages, RawScores: false}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("rerank: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("rerank: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rerank: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rerank: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	type scored struct {
		index int
		score float32
	}
	var results []scored
	switch c.protocol {
	case ProtocolCohere:
		var r cohereResponse
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("rerank: decode response: %w", err)
		}
		for _, x := range r.Results {
			results = append(results, scored{x.Index, x.RelevanceScore})
		}
	default:
		var r []teiResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("rerank: decode response: %w", err)
		}
		for _, x := range r {
			results = append(results, scored{x.Index, x.Score})
		}
	}

	if len(results) != len(passages) {
		return nil, fmt.Errorf("rerank: expected %d scores, got %d", len(passages), len(results))
	}
	scores := make([]float32, len(passages))
	seen := make([]bool, len(passages))
	for _, r := range results {
		if r.index < 0 || r.index >= len(passages) {
			return nil, fmt.Errorf("rerank: index %d out of range [0, %d)", r.index, len(passages))
		}
		if seen[r.index] {
			return nil, fmt.Errorf("rerank: duplicate index %d", r.index)
		}
		seen[r.index] = true
		scores[r.index] = r.score
	}
	return scores, nil
}

// HealthPath returns the path probed by readiness checks.
func (c *CrossEncoder) HealthPath() string {
	if c.protocol == ProtocolTEI {
		return "/health"
	}
	return ""
}
