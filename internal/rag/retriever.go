package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/54b3r/docqa-go/internal/logging"
)

const (
	// CandidateCount is the number of passages fetched by first-stage
	// vector search and handed to the re-ranker.
	CandidateCount = 25

	// FinalContextCount is the number of re-ranked passages kept in the
	// assembled context.
	FinalContextCount = 5

	// ContextSeparator joins the final passages into the context block.
	ContextSeparator = "\n\n---\n\n"

	// DefaultRerankTimeout bounds one re-rank call.
	DefaultRerankTimeout = 30 * time.Second
)

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithCandidateCount overrides the number of first-stage candidates.
func WithCandidateCount(n int) RetrieverOption {
	return func(r *Retriever) {
		if n > 0 {
			r.candidates = n
		}
	}
}

// WithFinalCount overrides the number of passages kept after re-ranking.
func WithFinalCount(n int) RetrieverOption {
	return func(r *Retriever) {
		if n > 0 {
			r.final = n
		}
	}
}

// WithRerankTimeout bounds each re-rank call. Zero disables the bound.
func WithRerankTimeout(d time.Duration) RetrieverOption {
	return func(r *Retriever) {
		r.rerankTimeout = d
	}
}

// Retriever turns a query into a context block in two stages: a cheap
// vector search narrows the store to a candidate set, then a cross-encoder
// re-ranks the candidates and the best few are joined into one string.
type Retriever struct {
	// searcher performs first-stage nearest-neighbour search.
	searcher Searcher

	// reranker scores (query, passage) pairs in the second stage.
	reranker Reranker

	// candidates is the first-stage fetch size.
	candidates int

	// final is the number of passages kept after re-ranking.
	final int

	// rerankTimeout bounds the re-rank call; zero means no bound.
	rerankTimeout time.Duration
}

// NewRetriever constructs a Retriever from a Searcher and a Reranker.
func NewRetriever(searcher Searcher, reranker Reranker, opts ...RetrieverOption) (*Retriever, error) {
	if searcher == nil {
		return nil, fmt.Errorf("rag: searcher must not be nil")
	}
	if reranker == nil {
		return nil, fmt.Errorf("rag: reranker must not be nil")
	}
	r := &Retriever{
		searcher:      searcher,
		reranker:      reranker,
		candidates:    CandidateCount,
		final:         FinalContextCount,
		rerankTimeout: DefaultRerankTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve returns the re-ranked candidates for query, best first, truncated
// to the final context size. An empty store yields an empty slice and the
// re-ranker is not called. A re-ranker failure is ErrRetrievalDegraded.
func (r *Retriever) Retrieve(ctx context.Context, query string, vector []float32, filter Filter) ([]Candidate, error) {
	log := logging.FromContext(ctx)

	candidates, err := r.searcher.Search(ctx, vector, r.candidates, filter)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	if len(candidates) == 0 {
		log.Debug("rag: no candidates", slog.String("document_id", filter.DocumentID))
		return nil, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Passage.Text
	}

	rctx := ctx
	if r.rerankTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, r.rerankTimeout)
		defer cancel()
	}

	start := time.Now()
	scores, err := r.reranker.Rerank(rctx, query, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrievalDegraded, err)
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("%w: re-ranker returned %d scores for %d passages",
			ErrRetrievalDegraded, len(scores), len(candidates))
	}
	log.Debug("rag: re-ranked candidates",
		slog.Int("candidates", len(candidates)),
		slog.Duration("elapsed", time.Since(start)),
	)

	for i := range candidates {
		if f := float64(scores[i]); math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: re-ranker returned non-finite score %v for passage %d",
				ErrRetrievalDegraded, scores[i], i)
		}
		candidates[i].Score = scores[i]
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > r.final {
		candidates = candidates[:r.final]
	}
	return candidates, nil
}

// RetrieveContext runs Retrieve and joins the surviving passage texts with
// ContextSeparator. The empty string means nothing relevant was found.
func (r *Retriever) RetrieveContext(ctx context.Context, query string, vector []float32, filter Filter) (string, error) {
	candidates, err := r.Retrieve(ctx, query, vector, filter)
	if err != nil {
		return "", err
	}
	return JoinContext(candidates), nil
}

// JoinContext joins candidate texts in order with ContextSeparator.
func JoinContext(candidates []Candidate) string {
	if len(candidates) == 0 {
		return ""
	}
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Passage.Text
	}
	return strings.Join(texts, ContextSeparator)
}
