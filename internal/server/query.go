package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/qa"
	"github.com/54b3r/docqa-go/internal/rag"
)

// maxQueryBody caps the JSON body of POST /api/query.
const maxQueryBody = 64 << 10

// handleQuery handles POST /api/query. The question is answered from the
// passages of one document when document_id is set, or of every document
// otherwise.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logging.FromContext(r.Context())

	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody)).Decode(&req); err != nil {
		err = fmt.Errorf("query: invalid request body: %v: %w", err, rag.ErrInvalidInput)
		s.observeQuery(reasonFor(err), start)
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		err := fmt.Errorf("query: query is required: %w", rag.ErrInvalidInput)
		s.observeQuery(reasonFor(err), start)
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	resp, err := s.asker.Ask(ctx, qa.Request{DocumentID: req.DocumentID, Question: req.Query})
	if err != nil {
		s.observeQuery(reasonFor(err), start)
		writeError(w, r, err)
		return
	}

	mode := "ungrounded"
	if resp.Grounded {
		mode = "grounded"
	}
	s.metrics.queryGroundedTotal.WithLabelValues(mode).Inc()
	s.observeQuery("ok", start)

	log.Info("query answered",
		slog.String("document_id", req.DocumentID),
		slog.String("mode", mode),
		slog.Int("passages", resp.Passages),
		slog.Bool("answered", resp.Answered),
	)

	writeJSON(w, r, http.StatusOK, queryResponse{
		Answer:          resp.Answer,
		Grounded:        resp.Grounded,
		Answered:        resp.Answered,
		DocumentID:      resp.DocumentID,
		Passages:        resp.Passages,
		TemplateVersion: resp.TemplateVersion,
	})
}

// observeQuery records the outcome and latency of one query.
func (s *Server) observeQuery(outcome string, start time.Time) {
	s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
