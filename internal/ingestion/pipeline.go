// Package ingestion implements the document ingestion pipeline. An upload
// is identified, extracted to text, chunked, embedded in batches, and
// persisted so that it becomes searchable all at once or not at all.
// This pipeline backs both POST /api/upload and the `docqa ingest` command.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// Identity selects how a document ID is derived from an upload.
type Identity string

const (
	// IdentityContent derives the ID from the SHA-256 of the bytes, so
	// re-uploading identical content is answered from the store.
	IdentityContent Identity = "content"
	// IdentityRandom assigns a fresh UUID to every upload, so every upload
	// is processed again.
	IdentityRandom Identity = "random"
)

// ParseIdentity converts a configuration string into an Identity.
func ParseIdentity(s string) (Identity, error) {
	switch Identity(strings.ToLower(strings.TrimSpace(s))) {
	case "", IdentityContent:
		return IdentityContent, nil
	case IdentityRandom:
		return IdentityRandom, nil
	default:
		return "", fmt.Errorf("ingestion: unknown identity scheme %q, valid values: content, random", s)
	}
}

// Chunker splits extracted text into passages.
type Chunker interface {
	Split(text string) []string
}

// BatchEmbedder embeds an arbitrary number of texts, splitting them into
// provider-sized batches.
type BatchEmbedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Identity selects the document identity scheme. Defaults to content.
	Identity Identity

	// MaxBytes rejects uploads larger than this. Zero disables the check.
	MaxBytes int64

	// HTTPTimeout is the timeout for IngestURL downloads.
	// Defaults to 30s if zero.
	HTTPTimeout time.Duration

	// UserAgent is the HTTP User-Agent header sent with IngestURL requests.
	UserAgent string

	// Timeout bounds a shared ingestion whose first caller carried no
	// deadline. Defaults to 10m if zero.
	Timeout time.Duration
}

// Result describes the outcome of one ingestion.
type Result struct {
	// DocumentID is the identity of the ingested document.
	DocumentID string
	// Filename is the uploaded filename.
	Filename string
	// ChunkCount is the number of stored passages.
	ChunkCount int
	// Created is false when an identical document was already ingested.
	Created bool
}

// Pipeline orchestrates the extract → chunk → embed → persist flow.
type Pipeline struct {
	// extractor turns raw bytes into text.
	extractor rag.Extractor

	// chunker splits text into passages.
	chunker Chunker

	// embedder converts passages into vectors.
	embedder BatchEmbedder

	// store persists documents and passages.
	store rag.Store

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// inflight collapses concurrent ingestion of the same document ID.
	inflight singleflight.Group

	// httpClient is used by IngestURL.
	httpClient *http.Client
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(extractor rag.Extractor, chunker Chunker, embedder BatchEmbedder, store rag.Store, cfg *Config) (*Pipeline, error) {
	if extractor == nil {
		return nil, fmt.Errorf("ingestion: extractor must not be nil")
	}
	if chunker == nil {
		return nil, fmt.Errorf("ingestion: chunker must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Identity == "" {
		cfg.Identity = IdentityContent
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "docqa-go/1.0 (document ingestion)"
	}

	return &Pipeline{
		extractor:  extractor,
		chunker:    chunker,
		embedder:   embedder,
		store:      store,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil
}

// ContentID returns the content-hash identity of data: the lowercase hex
// SHA-256 digest.
func ContentID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Ingest processes one upload. With content identity, an already ingested
// document is returned with Created=false without invoking extraction or
// embedding, and concurrent uploads of the same bytes are processed once.
// Progress is reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, filename string, data []byte, progress func(msg string)) (*Result, error) {
	if progress == nil {
		progress = func(string) {}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("ingestion: %q is empty: %w", filename, rag.ErrInvalidInput)
	}
	if p.cfg.MaxBytes > 0 && int64(len(data)) > p.cfg.MaxBytes {
		return nil, fmt.Errorf("ingestion: %q is %d bytes, limit is %d: %w",
			filename, len(data), p.cfg.MaxBytes, rag.ErrInvalidInput)
	}

	if p.cfg.Identity == IdentityRandom {
		return p.process(ctx, uuid.NewString(), filename, data, progress)
	}

	id := ContentID(data)
	var left atomic.Bool
	ch := p.inflight.DoChan(id, func() (any, error) {
		work, cancel := p.detach(ctx)
		defer cancel()
		return p.ingestOnce(work, id, filename, data, func(msg string) {
			if !left.Load() {
				progress(msg)
			}
		})
	})
	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		left.Store(true)
		return nil, fmt.Errorf("ingestion: %q: %w", filename, ctx.Err())
	}
	if r.Err != nil {
		return nil, r.Err
	}
	res := *r.Val.(*Result)
	if r.Shared {
		logging.FromContext(ctx).Debug("ingestion: joined in-flight upload", slog.String("document_id", id))
		res.Filename = filename
	}
	return &res, nil
}

// detach returns the context a shared ingestion runs under. It keeps the
// values of ctx but not its cancellation, so one caller giving up does not
// fail the others waiting on the same document. The caller's deadline is
// kept, or cfg.Timeout applied when there is none.
func (p *Pipeline) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	work := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(work, deadline)
	}
	return context.WithTimeout(work, p.cfg.Timeout)
}

// ingestOnce answers from the store when the document is already ready and
// clears leftovers of an interrupted ingestion before reprocessing.
func (p *Pipeline) ingestOnce(ctx context.Context, id, filename string, data []byte, progress func(string)) (*Result, error) {
	existing, err := p.store.GetDocument(ctx, id)
	switch {
	case err == nil && existing.Ready:
		progress(fmt.Sprintf("%s already ingested as %s", filename, shortID(id)))
		return &Result{DocumentID: id, Filename: filename, ChunkCount: existing.ChunkCount, Created: false}, nil
	case err == nil:
		logging.FromContext(ctx).Warn("ingestion: removing incomplete document",
			slog.String("document_id", id),
		)
		if err := p.store.DeleteDocument(ctx, id); err != nil {
			return nil, fmt.Errorf("ingestion: clear incomplete %s: %w", shortID(id), err)
		}
	case !errors.Is(err, rag.ErrNotFound):
		return nil, fmt.Errorf("ingestion: lookup %s: %w", shortID(id), err)
	}
	return p.process(ctx, id, filename, data, progress)
}

// process runs extraction, chunking, embedding and persistence for a new
// document.
func (p *Pipeline) process(ctx context.Context, id, filename string, data []byte, progress func(string)) (*Result, error) {
	log := logging.FromContext(ctx).With(slog.String("document_id", id), slog.String("filename", filename))

	format := DetectFormat(filename, data)
	if format == FormatUnknown {
		return nil, fmt.Errorf("ingestion: %q: unsupported format: %w", filename, rag.ErrExtraction)
	}
	progress(fmt.Sprintf("extracting %s (%s)", filename, format))

	text, err := p.extractor.Extract(ctx, filename, data)
	if err != nil {
		if !errors.Is(err, rag.ErrExtraction) {
			err = fmt.Errorf("%w: %w", rag.ErrExtraction, err)
		}
		return nil, fmt.Errorf("ingestion: extract %q: %w", filename, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("ingestion: extract %q: no text: %w", filename, rag.ErrExtraction)
	}

	chunks := p.chunker.Split(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("ingestion: chunk %q: %w", filename, rag.ErrChunking)
	}
	progress(fmt.Sprintf("chunked %s into %d passages", filename, len(chunks)))

	vectors, err := p.embedder.EmbedMany(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("ingestion: embed %q: %w", filename, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("ingestion: embed %q: got %d vectors for %d passages: %w",
			filename, len(vectors), len(chunks), rag.ErrEmbeddingBatch)
	}
	progress(fmt.Sprintf("embedded %d passages", len(vectors)))

	doc := &rag.Document{
		ID:        id,
		Filename:  filename,
		Data:      data,
		Size:      int64(len(data)),
		Ready:     false,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.InsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("ingestion: save %q: %w", filename, err)
	}

	passages := make([]rag.Passage, len(chunks))
	for i, chunk := range chunks {
		passages[i] = rag.Passage{DocumentID: id, Index: i, Text: chunk, Vector: vectors[i]}
	}

	if err := p.store.InsertPassages(ctx, id, passages); err != nil {
		return nil, p.compensate(ctx, log, id, fmt.Errorf("ingestion: save passages of %q: %w", filename, err))
	}
	if err := p.store.MarkReady(ctx, id, len(passages)); err != nil {
		return nil, p.compensate(ctx, log, id, fmt.Errorf("ingestion: publish %q: %w", filename, err))
	}

	log.Info("document ingested", slog.Int("passages", len(passages)), slog.String("format", string(format)))
	progress(fmt.Sprintf("ingested %s as %s", filename, shortID(id)))
	return &Result{DocumentID: id, Filename: filename, ChunkCount: len(passages), Created: true}, nil
}

// compensate deletes a partially written document and returns cause joined
// with any cleanup failure. Cleanup runs even if ctx is already cancelled.
func (p *Pipeline) compensate(ctx context.Context, log *slog.Logger, id string, cause error) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := p.store.DeleteDocument(cleanupCtx, id); err != nil {
		log.Error("ingestion: compensating delete failed", slog.String("error", err.Error()))
		return errors.Join(cause, fmt.Errorf("ingestion: compensating delete: %w", err))
	}
	log.Warn("ingestion: rolled back document", slog.String("error", cause.Error()))
	return cause
}

// IngestFile reads path from disk and ingests it under its base name.
func (p *Pipeline) IngestFile(ctx context.Context, path string, progress func(msg string)) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: read %s: %w", path, err)
	}
	return p.Ingest(ctx, filepath.Base(path), data, progress)
}

// IngestURL downloads rawURL and ingests the response body under the last
// path segment of the URL.
func (p *Pipeline) IngestURL(ctx context.Context, rawURL string, progress func(msg string)) (*Result, error) {
	if progress == nil {
		progress = func(string) {}
	}
	progress(fmt.Sprintf("fetching %s", rawURL))

	data, err := p.fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("ingestion: fetch failed for %s: %w", rawURL, err)
	}
	return p.Ingest(ctx, filenameFromURL(rawURL), data, progress)
}

// fetch retrieves the raw bytes of a URL.
func (p *Pipeline) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	var r io.Reader = resp.Body
	if p.cfg.MaxBytes > 0 {
		// One byte over the limit is enough for Ingest to reject it.
		r = io.LimitReader(resp.Body, p.cfg.MaxBytes+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

// shortID abbreviates a document ID for progress messages.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
