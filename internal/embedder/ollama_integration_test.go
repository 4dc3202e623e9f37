//go:build integration

package embedder

import (
	"context"
	"testing"
	"time"

	"github.com/54b3r/docqa-go/internal/rag"
)

// TestOllamaEmbedder_Integration needs a running Ollama with the embedding
// model pulled (default nomic-embed-text):
//
//	ollama pull nomic-embed-text
//	go test -tags=integration -run TestOllamaEmbedder_Integration ./internal/embedder/
//
// OLLAMA_HOST and EMBEDDING_MODEL override the defaults.
func TestOllamaEmbedder_Integration(t *testing.T) {
	host := getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
	model := getEnvOrDefault("EMBEDDING_MODEL", "nomic-embed-text")

	b := NewBatcher(NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model}), &BatcherConfig{MaxBatch: 2})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	passages := []string{
		"The invoice is payable within thirty days of receipt.",
		"Payment is due one month after the invoice date.",
		"The glacier retreated four kilometres during the last century.",
	}
	vecs, err := b.EmbedMany(ctx, passages)
	if err != nil {
		t.Fatalf("EmbedMany: %v (is %q pulled on %s?)", err, model, host)
	}
	if len(vecs) != len(passages) {
		t.Fatalf("got %d vectors for %d passages", len(vecs), len(passages))
	}
	for i, v := range vecs {
		if len(v) == 0 || len(v) != len(vecs[0]) {
			t.Fatalf("vector %d has dimension %d, want %d", i, len(v), len(vecs[0]))
		}
	}

	// Paraphrases must be closer than unrelated text.
	related := rag.MetricCosine.Distance(vecs[0], vecs[1])
	unrelated := rag.MetricCosine.Distance(vecs[0], vecs[2])
	if related >= unrelated {
		t.Errorf("cosine distance: paraphrase %.3f, unrelated %.3f", related, unrelated)
	}

	q, err := b.EmbedOne(ctx, "When do I have to pay the invoice?")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if len(q) != len(vecs[0]) {
		t.Errorf("query dimension %d, passage dimension %d", len(q), len(vecs[0]))
	}
	t.Logf("model=%s dim=%d related=%.3f unrelated=%.3f", model, len(q), related, unrelated)
}
