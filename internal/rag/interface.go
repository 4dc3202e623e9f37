// Package rag defines the retrieval core of docqa: the document and passage
// model, the interfaces for embedding, storage, re-ranking and extraction,
// and the two-stage Retriever that turns a query into a context block.
// Concrete backends (Qdrant, SQLite, Postgres, HTTP model servers) satisfy
// these interfaces so ingestion and querying never depend on a specific one.
package rag

import (
	"context"
	"time"
)

// Document is one uploaded file. It is created once per distinct upload and
// never mutated apart from the Ready flag set when ingestion completes.
type Document struct {
	// ID is the stable identity of the document. With the default identity
	// scheme it is the lowercase hex SHA-256 digest of Data.
	ID string

	// Filename is the original filename supplied by the uploader.
	Filename string

	// Data holds the raw uploaded bytes. Listing calls leave it nil.
	Data []byte

	// Size is the length of Data in bytes.
	Size int64

	// ChunkCount is the number of passages stored for the document.
	// Zero until the document is marked ready.
	ChunkCount int

	// Ready reports whether ingestion completed. Passages of a document that
	// is not ready are never returned by Search.
	Ready bool

	// CreatedAt is when the document row was first written.
	CreatedAt time.Time
}

// Passage is a bounded span of a document's extracted text together with
// its embedding vector. It is the unit of embedding and retrieval.
type Passage struct {
	// ID is the unique identifier of the passage within the store.
	ID string

	// DocumentID is the identity of the owning Document.
	DocumentID string

	// Index is the position of the chunk in the extracted text. It is
	// informational only; retrieval is by relevance, not position.
	Index int

	// Text is the chunk text.
	Text string

	// Vector is the embedding of Text. Every vector in one store has the
	// same length.
	Vector []float32
}

// Candidate is a passage returned by first-stage vector search, later
// annotated with a relevance score by the re-ranker. It lives only for the
// duration of one query.
type Candidate struct {
	// Passage is the matched passage. Vector is not populated.
	Passage Passage

	// Distance is the first-stage distance to the query vector. Lower is nearer.
	Distance float32

	// Score is the second-stage relevance score. Higher is more relevant.
	// Zero until the candidate has been re-ranked.
	Score float32
}

// Filter narrows a search. The zero value searches every ready document.
type Filter struct {
	// DocumentID restricts the search to passages of a single document.
	DocumentID string
}

// Embedder converts text into dense vector embeddings with a single provider
// call. Batching rules live in the embedder package, not here.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Reranker scores (query, passage) pairs jointly.
// Implementations must be safe to call from multiple goroutines.
type Reranker interface {
	// Rerank returns one relevance score per passage, in input order.
	// Higher scores are more relevant.
	Rerank(ctx context.Context, query string, passages []string) ([]float32, error)
}

// Extractor turns raw uploaded bytes into text.
type Extractor interface {
	// Extract returns the text content of data. filename is a format hint.
	Extract(ctx context.Context, filename string, data []byte) (string, error)
}

// Searcher performs first-stage nearest-neighbour search.
type Searcher interface {
	// Search returns up to topK passages of ready documents ordered by
	// ascending distance to vector. Equal distances keep insertion order.
	Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Candidate, error)
}

// Catalog persists documents.
type Catalog interface {
	// InsertDocument durably writes doc. A duplicate ID is ErrAlreadyExists.
	InsertDocument(ctx context.Context, doc *Document) error

	// GetDocument returns the document with the given ID, including its raw
	// bytes, or ErrNotFound.
	GetDocument(ctx context.Context, id string) (*Document, error)

	// ListDocuments returns every document without raw bytes, newest first.
	ListDocuments(ctx context.Context) ([]Document, error)

	// MarkReady records the passage count and makes the document's
	// passages visible to Search.
	MarkReady(ctx context.Context, id string, chunkCount int) error

	// DeleteDocument removes the document and every passage it owns.
	// Deleting a missing document is not an error.
	DeleteDocument(ctx context.Context, id string) error
}

// Store is the document store: a Catalog of documents plus the passages
// that belong to them. Implementations must support concurrent searches
// during concurrent writes.
type Store interface {
	Catalog
	Searcher

	// InsertPassages writes every passage of one document in a single
	// all-or-nothing operation. Passages stay invisible to Search until
	// MarkReady is called for the document.
	InsertPassages(ctx context.Context, documentID string, passages []Passage) error

	// Close releases any resources held by the store.
	Close() error
}
