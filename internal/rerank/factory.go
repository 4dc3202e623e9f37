package rerank

import (
	"fmt"
	"os"
	"time"

	"github.com/54b3r/docqa-go/internal/rag"
)

// NewFromEnv constructs the configured rag.Reranker.
//
//	RERANK_PROVIDER  = tei | cohere | lexical   (default: tei)
//	RERANK_ENDPOINT  = server base URL          (default: http://localhost:8080)
//	RERANK_MODEL     = model name               (default: cross-encoder/ms-marco-MiniLM-L-6-v2)
//	RERANK_API_KEY   = optional Bearer token
//	RERANK_TIMEOUT   = per-call timeout         (default: 30s)
func NewFromEnv() (rag.Reranker, error) {
	provider := getEnvOrDefault("RERANK_PROVIDER", string(ProtocolTEI))
	switch provider {
	case "lexical":
		return NewLexical(), nil
	case string(ProtocolTEI), string(ProtocolCohere):
		timeout := 30 * time.Second
		if v := os.Getenv("RERANK_TIMEOUT"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("rerank: invalid RERANK_TIMEOUT %q: %w", v, err)
			}
			timeout = d
		}
		return NewCrossEncoder(&Config{
			Endpoint: getEnvOrDefault("RERANK_ENDPOINT", "http://localhost:8080"),
			Protocol: Protocol(provider),
			Model:    getEnvOrDefault("RERANK_MODEL", DefaultModel),
			APIKey:   os.Getenv("RERANK_API_KEY"),
			Timeout:  timeout,
		})
	default:
		return nil, fmt.Errorf("rerank: unknown provider %q, valid values: tei, cohere, lexical", provider)
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
