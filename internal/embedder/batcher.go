package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

const (
	// DefaultMaxBatch is the largest number of texts sent in one provider call.
	DefaultMaxBatch = 99

	// DefaultBatchPause is the pause between consecutive sub-batches.
	DefaultBatchPause = 500 * time.Millisecond

	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 60 * time.Second
)

// QueryEmbedder is implemented by backends that embed search queries
// differently from stored passages (e.g. Gemini task types).
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// BatcherConfig holds the batching policy for a Batcher.
type BatcherConfig struct {
	// MaxBatch is the provider's per-call item limit (default: 99).
	MaxBatch int

	// Pause is the minimum spacing between sub-batch calls. Zero disables
	// pacing; a negative value selects DefaultBatchPause.
	Pause time.Duration

	// Timeout bounds each provider call (default: 60s).
	Timeout time.Duration
}

// Batcher wraps a single-call rag.Embedder with the batching contract used
// by ingestion: inputs are partitioned into sub-batches no larger than the
// provider limit, sub-batches run sequentially with a pause between them,
// and a failure of any sub-batch fails the whole call.
type Batcher struct {
	// backend performs one provider call per sub-batch.
	backend rag.Embedder

	// maxBatch is the sub-batch size limit.
	maxBatch int

	// timeout bounds each provider call.
	timeout time.Duration

	// pause spaces sub-batch calls; zero means no pacing.
	pause time.Duration
}

// NewBatcher wraps backend with the given policy. A nil cfg selects defaults.
func NewBatcher(backend rag.Embedder, cfg *BatcherConfig) *Batcher {
	if cfg == nil {
		cfg = &BatcherConfig{Pause: -1}
	}
	b := &Batcher{
		backend:  backend,
		maxBatch: cfg.MaxBatch,
		timeout:  cfg.Timeout,
		pause:    cfg.Pause,
	}
	if b.maxBatch <= 0 {
		b.maxBatch = DefaultMaxBatch
	}
	if b.timeout <= 0 {
		b.timeout = DefaultTimeout
	}
	if b.pause < 0 {
		b.pause = DefaultBatchPause
	}
	return b
}

// MaxBatch returns the configured sub-batch size limit.
func (b *Batcher) MaxBatch() int { return b.maxBatch }

// Embed implements rag.Embedder by delegating to EmbedMany.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return b.EmbedMany(ctx, texts)
}

// EmbedOne embeds a single text. Any remote failure or malformed payload is
// rag.ErrUpstream.
func (b *Batcher) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if qe, ok := b.backend.(QueryEmbedder); ok {
		vec, err := qe.EmbedQuery(cctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedder: embed query: %w: %w", rag.ErrUpstream, err)
		}
		if len(vec) == 0 {
			return nil, fmt.Errorf("embedder: embed query: empty vector: %w", rag.ErrUpstream)
		}
		return vec, nil
	}

	vecs, err := b.backend.Embed(cctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedder: embed query: %w: %w", rag.ErrUpstream, err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedder: embed query: malformed response with %d vectors: %w", len(vecs), rag.ErrUpstream)
	}
	return vecs[0], nil
}

// EmbedMany embeds texts in order. It issues exactly ceil(len(texts)/MaxBatch)
// provider calls, sequentially. No partial result is ever returned: any
// sub-batch failure is rag.ErrEmbeddingBatch wrapping rag.ErrUpstream.
func (b *Batcher) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	log := logging.FromContext(ctx)

	limit := rate.Inf
	if b.pause > 0 {
		limit = rate.Every(b.pause)
	}
	limiter := rate.NewLimiter(limit, 1)

	out := make([][]float32, 0, len(texts))
	dims := 0
	batches := (len(texts) + b.maxBatch - 1) / b.maxBatch
	for n := 0; n < batches; n++ {
		start := n * b.maxBatch
		end := min(start+b.maxBatch, len(texts))

		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: waiting for sub-batch %d/%d: %w: %w",
				rag.ErrEmbeddingBatch, n+1, batches, rag.ErrUpstream, err)
		}

		vecs, err := b.call(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: sub-batch %d/%d: %w", rag.ErrEmbeddingBatch, n+1, batches, err)
		}
		for i, v := range vecs {
			if len(v) == 0 {
				return nil, fmt.Errorf("%w: empty vector at position %d: %w", rag.ErrEmbeddingBatch, start+i, rag.ErrUpstream)
			}
			if dims == 0 {
				dims = len(v)
			}
			if len(v) != dims {
				return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d: %w",
					rag.ErrEmbeddingBatch, start+i, len(v), dims, rag.ErrUpstream)
			}
		}
		out = append(out, vecs...)

		log.Debug("embedder: sub-batch complete",
			slog.Int("batch", n+1),
			slog.Int("batches", batches),
			slog.Int("size", end-start),
		)
	}
	return out, nil
}

// call performs one bounded provider call and checks the result count.
func (b *Batcher) call(ctx context.Context, texts []string) ([][]float32, error) {
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	vecs, err := b.backend.Embed(cctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rag.ErrUpstream, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", rag.ErrUpstream, len(texts), len(vecs))
	}
	return vecs, nil
}
