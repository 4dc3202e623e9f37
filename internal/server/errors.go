package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// reasonTimeout labels requests that ran past their deadline.
const reasonTimeout = "timeout"

// statusFor maps an error to its HTTP status code.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, rag.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rag.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrExtraction), errors.Is(err, rag.ErrChunking):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rag.ErrRetrievalDegraded):
		return http.StatusServiceUnavailable
	case errors.Is(err, rag.ErrEmbeddingBatch), errors.Is(err, rag.ErrUpstream), errors.Is(err, rag.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// reasonFor returns the machine-readable failure kind used in responses
// and metric labels.
func reasonFor(err error) string {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return "too_large"
	case errors.Is(err, context.DeadlineExceeded):
		return reasonTimeout
	default:
		return rag.Reason(err)
	}
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// writeError logs err with its reason and writes the JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	reason := reasonFor(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		slog.Int("status", status),
		slog.String("reason", reason),
		slog.Any("error", err),
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", attrs...)
	} else {
		log.Warn("request rejected", attrs...)
	}

	writeJSON(w, r, status, errorResponse{Error: err.Error(), Reason: reason})
}
