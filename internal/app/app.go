// Package app owns the process-wide clients of docqa: the embedder, the
// re-ranker, the extractor, the document store, the chat model and the
// tracing handler. Each client is built from the environment on first use,
// shared by every caller afterwards, and released by Close in reverse
// construction order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/docqa-go/internal/answer"
	"github.com/54b3r/docqa-go/internal/budget"
	"github.com/54b3r/docqa-go/internal/chunker"
	"github.com/54b3r/docqa-go/internal/embedder"
	"github.com/54b3r/docqa-go/internal/extract"
	"github.com/54b3r/docqa-go/internal/ingestion"
	"github.com/54b3r/docqa-go/internal/provider"
	"github.com/54b3r/docqa-go/internal/qa"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/rerank"
	"github.com/54b3r/docqa-go/internal/store"
	"github.com/54b3r/docqa-go/internal/tracing"
)

// Store backends selected by STORE_BACKEND.
const (
	// BackendSQLite keeps documents, passages and history in one SQLite file.
	BackendSQLite = "sqlite"
	// BackendPostgres keeps documents and passages in PostgreSQL with pgvector.
	BackendPostgres = "postgres"
	// BackendQdrant keeps documents in SQLite and passages in Qdrant.
	BackendQdrant = "qdrant"
)

// DefaultUploadMaxBytes is the default upload size limit (32 MiB).
const DefaultUploadMaxBytes = 32 << 20

// closer is a named release function registered at construction time.
type closer struct {
	name string
	fn   func() error
}

// App lazily builds and caches the shared clients. Construction errors are
// cached too, so a broken configuration fails the same way on every call.
// App is safe for concurrent use.
type App struct {
	// log is the base logger for construction events.
	log *slog.Logger

	// mu guards closers.
	mu sync.Mutex
	// closers are release functions in construction order.
	closers []closer

	sqlite    func() (*store.SQLiteStore, error)
	docs      func() (rag.Store, error)
	qdrant    func() (*rag.QdrantIndex, error)
	embed     func() (*embedder.Batcher, error)
	reranker  func() (rag.Reranker, error)
	extractor func() (*extract.Router, error)
	chat      func() (model.BaseChatModel, error)
	handlers  func() []callbacks.Handler
	generator func() (*answer.Generator, error)
	retriever func() (*rag.Retriever, error)
	pipeline  func() (*ingestion.Pipeline, error)
	service   func() (*qa.Service, error)
}

// New returns an App that builds its clients from the environment on demand.
// ctx is used for client construction (dialling stores, creating SDK
// clients) and should outlive the App.
func New(ctx context.Context, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	a := &App{log: log}

	a.sqlite = sync.OnceValues(func() (*store.SQLiteStore, error) { return a.buildSQLite() })
	a.qdrant = sync.OnceValues(func() (*rag.QdrantIndex, error) { return a.buildQdrant(ctx) })
	a.docs = sync.OnceValues(func() (rag.Store, error) { return a.buildStore(ctx) })
	a.embed = sync.OnceValues(func() (*embedder.Batcher, error) { return a.buildEmbedder(ctx) })
	a.reranker = sync.OnceValues(func() (rag.Reranker, error) { return a.buildReranker() })
	a.extractor = sync.OnceValues(func() (*extract.Router, error) { return a.buildExtractor() })
	a.chat = sync.OnceValues(func() (model.BaseChatModel, error) { return a.buildChatModel(ctx) })
	a.handlers = sync.OnceValue(a.buildTracing)
	a.generator = sync.OnceValues(func() (*answer.Generator, error) { return a.buildGenerator() })
	a.retriever = sync.OnceValues(func() (*rag.Retriever, error) { return a.buildRetriever() })
	a.pipeline = sync.OnceValues(func() (*ingestion.Pipeline, error) { return a.buildPipeline() })
	a.service = sync.OnceValues(func() (*qa.Service, error) { return a.buildService() })

	return a
}

// StoreBackend returns the configured store backend name.
func StoreBackend() string {
	return getEnvOrDefault("STORE_BACKEND", BackendSQLite)
}

// SQLite returns the shared SQLite database. It is the document store for the
// sqlite backend, the catalog for the qdrant backend, and the conversation
// history store for every backend.
func (a *App) SQLite() (*store.SQLiteStore, error) { return a.sqlite() }

// Store returns the document store for the configured backend.
func (a *App) Store() (rag.Store, error) { return a.docs() }

// QdrantClient returns the Qdrant client when the qdrant backend is selected
// and already connected, nil otherwise.
func (a *App) QdrantClient() *qdrant.Client {
	if StoreBackend() != BackendQdrant {
		return nil
	}
	idx, err := a.qdrant()
	if err != nil {
		return nil
	}
	return idx.Client()
}

// Embedder returns the batching embedding client.
func (a *App) Embedder() (*embedder.Batcher, error) { return a.embed() }

// Reranker returns the second-stage re-ranker.
func (a *App) Reranker() (rag.Reranker, error) { return a.reranker() }

// Extractor returns the format-dispatching text extractor.
func (a *App) Extractor() (*extract.Router, error) { return a.extractor() }

// ChatModel returns the chat model that writes answers.
func (a *App) ChatModel() (model.BaseChatModel, error) { return a.chat() }

// Generator returns the answer generator.
func (a *App) Generator() (*answer.Generator, error) { return a.generator() }

// Retriever returns the two-stage retriever.
func (a *App) Retriever() (*rag.Retriever, error) { return a.retriever() }

// Pipeline returns the ingestion pipeline.
func (a *App) Pipeline() (*ingestion.Pipeline, error) { return a.pipeline() }

// QA returns the question-answering service.
func (a *App) QA() (*qa.Service, error) { return a.service() }

// History returns the conversation store, or nil when HISTORY_DEPTH is negative.
func (a *App) History() (store.ConversationStore, error) {
	if getEnvInt("HISTORY_DEPTH", qa.DefaultHistoryDepth) < 0 {
		return nil, nil
	}
	s, err := a.SQLite()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// UploadMaxBytes returns the configured upload size limit.
func UploadMaxBytes() int64 {
	return int64(getEnvInt("UPLOAD_MAX_BYTES", DefaultUploadMaxBytes))
}

// Close releases every client that was built, newest first. All release
// errors are returned joined.
func (a *App) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(); err != nil {
			errs = append(errs, fmt.Errorf("app: close %s: %w", c.name, err))
			continue
		}
		a.log.Debug("app: closed client", slog.String("client", c.name))
	}
	return errors.Join(errs...)
}

// onClose registers fn to run on Close.
func (a *App) onClose(name string, fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) buildSQLite() (*store.SQLiteStore, error) {
	path := os.Getenv("DOCQA_DB_PATH")
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	metric, err := rag.ParseMetric(os.Getenv("VECTOR_METRIC"))
	if err != nil {
		return nil, err
	}

	opts := []store.Option{store.WithMetric(metric)}
	if dims := getEnvInt("EMBEDDING_DIMENSIONS", 0); dims > 0 {
		opts = append(opts, store.WithDimensions(dims))
	}
	s, err := store.Open(path, opts...)
	if err != nil {
		return nil, err
	}
	a.onClose("sqlite", s.Close)
	a.log.Info("sqlite store opened", slog.String("path", path), slog.String("metric", string(metric)))
	return s, nil
}

func (a *App) buildQdrant(ctx context.Context) (*rag.QdrantIndex, error) {
	metric, err := rag.ParseMetric(os.Getenv("VECTOR_METRIC"))
	if err != nil {
		return nil, err
	}
	cfg := &rag.QdrantConfig{
		Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "docqa"),
		VectorSize: uint64(embedder.DefaultDimensions(embedder.Backend())), //nolint:gosec // dimensions are bounded
		Metric:     metric,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	}
	idx, err := rag.NewQdrantIndex(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("app: failed to connect to Qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	a.onClose("qdrant", idx.Close)
	a.log.Info("qdrant index ready",
		slog.String("host", cfg.Host),
		slog.Int("port", cfg.Port),
		slog.String("collection", cfg.Collection),
	)
	return idx, nil
}

func (a *App) buildStore(ctx context.Context) (rag.Store, error) {
	backend := StoreBackend()
	switch backend {
	case BackendSQLite:
		return a.SQLite()

	case BackendQdrant:
		catalog, err := a.SQLite()
		if err != nil {
			return nil, err
		}
		idx, err := a.qdrant()
		if err != nil {
			return nil, err
		}
		// Both halves are closed through their own registrations.
		return rag.NewSplitStore(catalog, idx), nil

	case BackendPostgres:
		metric, err := rag.ParseMetric(os.Getenv("VECTOR_METRIC"))
		if err != nil {
			return nil, err
		}
		pg, err := store.NewPostgresStore(ctx, &store.PostgresConfig{
			DSN:        os.Getenv("POSTGRES_DSN"),
			Dimensions: embedder.DefaultDimensions(embedder.Backend()),
			Metric:     metric,
			MaxConns:   int32(getEnvInt("POSTGRES_MAX_CONNS", 0)), //nolint:gosec // pool size is bounded
		})
		if err != nil {
			return nil, err
		}
		a.onClose("postgres", pg.Close)
		a.log.Info("postgres store ready", slog.String("metric", string(metric)))
		return pg, nil

	default:
		return nil, fmt.Errorf("app: unknown STORE_BACKEND %q, valid values: sqlite, postgres, qdrant: %w", backend, rag.ErrInvalidInput)
	}
}

func (a *App) buildEmbedder(ctx context.Context) (*embedder.Batcher, error) {
	if err := embedder.Validate(a.log); err != nil {
		return nil, err
	}
	backend, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	cfg := embedder.BatcherConfigFromEnv()
	a.log.Info("embedder initialised",
		slog.String("provider", embedder.Backend()),
		slog.Int("max_batch", cfg.MaxBatch),
	)
	return embedder.NewBatcher(backend, cfg), nil
}

func (a *App) buildReranker() (rag.Reranker, error) {
	r, err := rerank.NewFromEnv()
	if err != nil {
		return nil, err
	}
	a.log.Info("reranker initialised", slog.String("provider", getEnvOrDefault("RERANK_PROVIDER", "tei")))
	return r, nil
}

func (a *App) buildExtractor() (*extract.Router, error) {
	r, err := extract.NewFromEnv()
	if err != nil {
		return nil, err
	}
	if !r.HasPDF() {
		a.log.Warn("extract: no PDF backend configured, PDF uploads will fail",
			slog.String("hint", "set LLAMA_CLOUD_API_KEY or install pdftotext"),
		)
	}
	return r, nil
}

func (a *App) buildChatModel(ctx context.Context) (model.BaseChatModel, error) {
	cfg := provider.ConfigFromEnv()
	m, err := provider.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("app: failed to initialise model provider: %w", err)
	}
	a.log.Info("provider initialised",
		slog.String("provider", string(cfg.Backend)),
		slog.String("model", cfg.ModelName()),
	)
	return m, nil
}

// buildTracing sets up Langfuse. It never fails; tracing is opt-in.
func (a *App) buildTracing() []callbacks.Handler {
	handler, flush, ok := tracing.Setup()
	if !ok {
		a.log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
		return nil
	}
	a.onClose("langfuse", func() error { flush(); return nil })
	a.log.Info("langfuse tracing enabled")
	return []callbacks.Handler{handler}
}

func (a *App) buildGenerator() (*answer.Generator, error) {
	m, err := a.ChatModel()
	if err != nil {
		return nil, err
	}

	opts := []answer.Option{
		answer.WithTimeout(getEnvDuration("GENERATION_TIMEOUT", answer.DefaultTimeout)),
		answer.WithMaxContextTokens(getEnvInt("MAX_CONTEXT_TOKENS", budget.DefaultMaxContextTokens)),
	}
	if path := os.Getenv("PROMPT_TEMPLATE_FILE"); path != "" {
		tmpl, err := answer.LoadTemplate(path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, answer.WithTemplate(tmpl))
	}
	if handlers := a.handlers(); len(handlers) > 0 {
		opts = append(opts, answer.WithCallbacks(handlers...))
	}
	return answer.NewGenerator(m, opts...)
}

func (a *App) buildRetriever() (*rag.Retriever, error) {
	s, err := a.Store()
	if err != nil {
		return nil, err
	}
	r, err := a.Reranker()
	if err != nil {
		return nil, err
	}
	return rag.NewRetriever(s, r,
		rag.WithCandidateCount(getEnvInt("RETRIEVAL_CANDIDATES", rag.CandidateCount)),
		rag.WithFinalCount(getEnvInt("RETRIEVAL_FINAL", rag.FinalContextCount)),
		rag.WithRerankTimeout(getEnvDuration("RERANK_TIMEOUT", rag.DefaultRerankTimeout)),
	)
}

func (a *App) buildPipeline() (*ingestion.Pipeline, error) {
	identity, err := ingestion.ParseIdentity(os.Getenv("INGEST_IDENTITY"))
	if err != nil {
		return nil, err
	}
	ex, err := a.Extractor()
	if err != nil {
		return nil, err
	}
	emb, err := a.Embedder()
	if err != nil {
		return nil, err
	}
	s, err := a.Store()
	if err != nil {
		return nil, err
	}
	split := chunker.New(
		chunker.WithChunkSize(getEnvInt("CHUNK_SIZE", chunker.DefaultChunkSize)),
		chunker.WithOverlap(getEnvInt("CHUNK_OVERLAP", chunker.DefaultOverlap)),
	)
	return ingestion.NewPipeline(ex, split, emb, s, &ingestion.Config{
		Identity: identity,
		MaxBytes: UploadMaxBytes(),
		Timeout:  getEnvDuration("UPLOAD_TIMEOUT", 0),
	})
}

func (a *App) buildService() (*qa.Service, error) {
	s, err := a.Store()
	if err != nil {
		return nil, err
	}
	emb, err := a.Embedder()
	if err != nil {
		return nil, err
	}
	ret, err := a.Retriever()
	if err != nil {
		return nil, err
	}
	gen, err := a.Generator()
	if err != nil {
		return nil, err
	}

	cfg := &qa.Config{HistoryDepth: getEnvInt("HISTORY_DEPTH", qa.DefaultHistoryDepth)}
	hist, err := a.History()
	if err != nil {
		a.log.Warn("history: failed to open store, disabling", slog.Any("error", err))
	} else if hist != nil {
		cfg.History = hist
	}
	return qa.NewService(s, emb, ret, gen, cfg)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration parses a Go duration, or returns fallback if the variable is
// unset or not parseable.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
