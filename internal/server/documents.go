package server

import (
	"net/http"

	"github.com/54b3r/docqa-go/internal/rag"
)

// handleListDocuments handles GET /api/documents. Raw bytes are never
// returned.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.catalog.ListDocuments(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := documentsResponse{Documents: make([]documentResponse, 0, len(docs))}
	for i := range docs {
		resp.Documents = append(resp.Documents, toDocumentResponse(&docs[i]))
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleGetDocument handles GET /api/documents/{id}.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.catalog.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toDocumentResponse(doc))
}

// toDocumentResponse converts a stored document to its API form.
func toDocumentResponse(d *rag.Document) documentResponse {
	return documentResponse{
		ID:         d.ID,
		Filename:   d.Filename,
		Size:       d.Size,
		ChunkCount: d.ChunkCount,
		Ready:      d.Ready,
		CreatedAt:  d.CreatedAt,
	}
}
