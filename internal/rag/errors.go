package rag

import "errors"

// Errors returned by the retrieval core. Callers classify failures with
// errors.Is; every error carries the wrapped cause in its message.
var (
	// ErrNotFound indicates a requested document does not exist or is not
	// ready to be queried.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a document with the same identity exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed caller input (empty query, empty
	// upload, unknown option).
	ErrInvalidInput = errors.New("invalid input")

	// ErrExtraction indicates the document-parsing collaborator failed or
	// returned no text.
	ErrExtraction = errors.New("extraction failed")

	// ErrChunking indicates chunking produced zero passages from non-empty text.
	ErrChunking = errors.New("chunking produced no passages")

	// ErrUpstream indicates a remote model call failed, timed out, or
	// returned a malformed payload.
	ErrUpstream = errors.New("upstream call failed")

	// ErrEmbeddingBatch indicates a batched embedding call failed as a whole.
	// It always accompanies ErrUpstream or a count mismatch.
	ErrEmbeddingBatch = errors.New("embedding batch failed")

	// ErrStore indicates the persistence layer rejected a write or a search.
	ErrStore = errors.New("store failure")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// store's configured dimensionality.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrRetrievalDegraded indicates the re-ranking stage failed. It is
	// distinct from an empty context, which means nothing relevant exists.
	ErrRetrievalDegraded = errors.New("retrieval degraded: re-ranking unavailable")

	// ErrGeneration indicates the answer-generation collaborator failed.
	ErrGeneration = errors.New("answer generation failed")
)

// Reason returns a short machine-readable label for err, used in HTTP error
// bodies, metrics, and logs. Unclassified errors report "internal".
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrExtraction):
		return "extraction_failed"
	case errors.Is(err, ErrChunking):
		return "chunking_failed"
	case errors.Is(err, ErrRetrievalDegraded):
		return "retrieval_degraded"
	case errors.Is(err, ErrEmbeddingBatch):
		return "embedding_batch_failed"
	case errors.Is(err, ErrGeneration):
		return "generation_failed"
	case errors.Is(err, ErrUpstream):
		return "upstream_failed"
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, ErrStore):
		return "store_failed"
	default:
		return "internal"
	}
}
