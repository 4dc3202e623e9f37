package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docqa-go/internal/ingestion"
	"github.com/54b3r/docqa-go/internal/qa"
	"github.com/54b3r/docqa-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// exceed UploadTimeout so a slow ingestion can still report its result.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// QueryTimeout bounds one POST /api/query request (default: 2m).
	QueryTimeout time.Duration
	// UploadTimeout bounds one POST /api/upload request (default: 10m).
	UploadTimeout time.Duration
	// MaxUploadBytes rejects larger uploads with 413 (default: 32 MiB).
	MaxUploadBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on upload and
	// query (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on upload, query and document
	// routes. If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is served on GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Ingester stores an uploaded document. *ingestion.Pipeline satisfies it.
type Ingester interface {
	// Ingest extracts, chunks, embeds and persists data.
	Ingest(ctx context.Context, filename string, data []byte, progress func(msg string)) (*ingestion.Result, error)
}

// Asker answers a question. *qa.Service satisfies it.
type Asker interface {
	// Ask answers req, optionally scoped to one document.
	Ask(ctx context.Context, req qa.Request) (*qa.Response, error)
}

// Catalog lists stored documents. Every rag.Store satisfies it.
type Catalog interface {
	// ListDocuments returns every document without raw bytes.
	ListDocuments(ctx context.Context) ([]rag.Document, error)
	// GetDocument returns one document or rag.ErrNotFound.
	GetDocument(ctx context.Context, id string) (*rag.Document, error)
}

// Server is the HTTP server that exposes document upload and question
// answering.
type Server struct {
	// ingester handles POST /api/upload.
	ingester Ingester
	// asker handles POST /api/query.
	asker Asker
	// catalog handles GET /api/documents.
	catalog Catalog
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// DocumentID optionally restricts retrieval to one document.
	DocumentID string `json:"document_id,omitempty"`
	// Query is the user's natural language question.
	Query string `json:"query"`
}

// queryResponse is the JSON response for POST /api/query.
type queryResponse struct {
	// Answer is the generated answer text.
	Answer string `json:"answer"`
	// Grounded reports whether retrieved context was supplied to the model.
	Grounded bool `json:"grounded"`
	// Answered is false when the model produced no usable text and Answer
	// holds the fixed apology.
	Answered bool `json:"answered"`
	// DocumentID echoes the request scope.
	DocumentID string `json:"document_id,omitempty"`
	// Passages is the number of passages in the context.
	Passages int `json:"passages"`
	// TemplateVersion identifies the prompt wording.
	TemplateVersion string `json:"template_version"`
}

// uploadResponse is the JSON response for POST /api/upload.
type uploadResponse struct {
	// DocumentID is the identity of the stored document.
	DocumentID string `json:"document_id"`
	// Filename is the uploaded filename.
	Filename string `json:"filename"`
	// ChunkCount is the number of stored passages.
	ChunkCount int `json:"chunk_count"`
	// Created is false when the same document was already ingested.
	Created bool `json:"created"`
	// Message is a human-readable outcome.
	Message string `json:"message"`
}

// documentResponse is one document in GET /api/documents responses.
type documentResponse struct {
	// ID is the document identity.
	ID string `json:"id"`
	// Filename is the uploaded filename.
	Filename string `json:"filename"`
	// Size is the upload size in bytes.
	Size int64 `json:"size"`
	// ChunkCount is the number of stored passages.
	ChunkCount int `json:"chunk_count"`
	// Ready reports whether the document can be queried.
	Ready bool `json:"ready"`
	// CreatedAt is when the document was first stored.
	CreatedAt time.Time `json:"created_at"`
}

// documentsResponse is the JSON response for GET /api/documents.
type documentsResponse struct {
	// Documents is the list of stored documents, newest first.
	Documents []documentResponse `json:"documents"`
}

// errorResponse is the JSON body of every error response.
type errorResponse struct {
	// Error is the human-readable failure message.
	Error string `json:"error"`
	// Reason is the machine-readable failure kind.
	Reason string `json:"reason"`
}
