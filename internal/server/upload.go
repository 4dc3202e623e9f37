package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// Upload outcome messages.
const (
	// MessageCreated is returned when a new document was ingested.
	MessageCreated = "File processed successfully and saved."
	// MessageDuplicate is returned when the same document already exists.
	MessageDuplicate = "File was already processed. Ready to be queried."
)

const (
	// uploadField is the multipart form field carrying the file.
	uploadField = "file"
	// multipartOverhead is the slack allowed on top of MaxUploadBytes for
	// multipart boundaries and headers.
	multipartOverhead = 1 << 20
	// multipartMemory is the part of a multipart body kept in memory; the
	// rest spills to temporary files.
	multipartMemory = 8 << 20
)

// handleUpload handles POST /api/upload. The multipart field "file" is
// ingested synchronously; the response reports the document identity and
// whether it was newly created.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logging.FromContext(r.Context())

	filename, data, err := s.readUpload(w, r)
	if err != nil {
		s.observeIngest(reasonFor(err), start)
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.UploadTimeout)
	defer cancel()

	log.Info("upload received", slog.String("filename", filename), slog.Int("bytes", len(data)))

	res, err := s.ingester.Ingest(ctx, filename, data, func(msg string) {
		log.Debug(msg)
	})
	if err != nil {
		s.observeIngest(reasonFor(err), start)
		writeError(w, r, err)
		return
	}

	resp := uploadResponse{
		DocumentID: res.DocumentID,
		Filename:   res.Filename,
		ChunkCount: res.ChunkCount,
		Created:    res.Created,
		Message:    MessageDuplicate,
	}
	status := http.StatusOK
	outcome := "duplicate"
	if res.Created {
		resp.Message = MessageCreated
		status = http.StatusCreated
		outcome = "created"
		s.metrics.ingestChunksTotal.Add(float64(res.ChunkCount))
	}
	s.observeIngest(outcome, start)

	log.Info("upload complete",
		slog.String("document_id", res.DocumentID),
		slog.Int("chunks", res.ChunkCount),
		slog.Bool("created", res.Created),
	)
	writeJSON(w, r, status, resp)
}

// readUpload parses the multipart body and returns the uploaded file. The
// body is capped so an oversized upload fails with 413 before it is read
// into memory.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	limit := s.cfg.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("upload: malformed multipart body: %v: %w", err, rag.ErrInvalidInput)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		return "", nil, fmt.Errorf("upload: form field %q is required: %w", uploadField, rag.ErrInvalidInput)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return "", nil, fmt.Errorf("upload: read %s: %v: %w", header.Filename, err, rag.ErrInvalidInput)
	}
	if int64(len(data)) > limit {
		return "", nil, &http.MaxBytesError{Limit: limit}
	}

	filename := filepath.Base(header.Filename)
	if filename == "." || filename == string(filepath.Separator) {
		return "", nil, fmt.Errorf("upload: filename is required: %w", rag.ErrInvalidInput)
	}
	return filename, data, nil
}

// observeIngest records the outcome and latency of one upload.
func (s *Server) observeIngest(outcome string, start time.Time) {
	s.metrics.ingestRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.ingestDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
