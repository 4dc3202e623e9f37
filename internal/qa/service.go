// Package qa answers questions about ingested documents: it embeds the
// question, retrieves and re-ranks passages, and asks the answer generator,
// keeping a short conversation history per document.
package qa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/answer"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/store"
)

// DefaultHistoryDepth is the number of prior question/answer pairs loaded
// for each question.
const DefaultHistoryDepth = 5

// QueryEmbedder embeds a single question.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// CandidateRetriever returns the final re-ranked passages for a question.
type CandidateRetriever interface {
	Retrieve(ctx context.Context, query string, vector []float32, filter rag.Filter) ([]rag.Candidate, error)
}

// Answerer generates an answer from a question and its context.
type Answerer interface {
	Answer(ctx context.Context, req answer.Request) (*answer.Response, error)
}

// DocumentGetter looks up a document by ID.
type DocumentGetter interface {
	GetDocument(ctx context.Context, id string) (*rag.Document, error)
}

// Request is one question, optionally scoped to a single document.
type Request struct {
	// DocumentID restricts retrieval to one document. Empty searches all.
	DocumentID string
	// Question is the user's question.
	Question string
}

// Response is the answer to a Request.
type Response struct {
	// Answer is the generated text.
	Answer string
	// Grounded reports whether retrieved passages were in the prompt.
	Grounded bool
	// Answered is false when the model produced no answer.
	Answered bool
	// DocumentID echoes the request scope.
	DocumentID string
	// Passages is the number of passages in the context.
	Passages int
	// TemplateVersion identifies the prompt wording.
	TemplateVersion string
	// Context is the joined passage block handed to the model.
	Context string
}

// Config holds the optional collaborators of a Service.
type Config struct {
	// History persists turns per document. Nil disables history.
	History store.ConversationStore
	// HistoryDepth is the number of prior pairs to load. Defaults to
	// DefaultHistoryDepth; negative disables history.
	HistoryDepth int
}

// Service answers questions. It is safe for concurrent use.
type Service struct {
	// docs validates scoped requests.
	docs DocumentGetter
	// embedder embeds the question.
	embedder QueryEmbedder
	// retriever finds and re-ranks passages.
	retriever CandidateRetriever
	// answerer writes the answer.
	answerer Answerer
	// history stores turns; nil when disabled.
	history store.ConversationStore
	// historyDepth is the number of pairs loaded per question.
	historyDepth int
}

// NewService constructs a Service from its collaborators.
func NewService(docs DocumentGetter, embedder QueryEmbedder, retriever CandidateRetriever, answerer Answerer, cfg *Config) (*Service, error) {
	if docs == nil || embedder == nil || retriever == nil || answerer == nil {
		return nil, fmt.Errorf("qa: documents, embedder, retriever and answerer must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	depth := cfg.HistoryDepth
	if depth == 0 {
		depth = DefaultHistoryDepth
	}
	s := &Service{
		docs:         docs,
		embedder:     embedder,
		retriever:    retriever,
		answerer:     answerer,
		history:      cfg.History,
		historyDepth: depth,
	}
	if depth < 0 {
		s.history = nil
	}
	return s, nil
}

// Ask answers req. A scoped request for a missing or unfinished document is
// rag.ErrNotFound. Failures to persist history are logged, not returned.
func (s *Service) Ask(ctx context.Context, req Request) (*Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("qa: question must not be empty: %w", rag.ErrInvalidInput)
	}
	log := logging.FromContext(ctx)

	if req.DocumentID != "" {
		doc, err := s.docs.GetDocument(ctx, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("qa: document %s: %w", req.DocumentID, err)
		}
		if !doc.Ready {
			return nil, fmt.Errorf("qa: document %s is still being processed: %w", req.DocumentID, rag.ErrNotFound)
		}
	}

	vector, err := s.embedder.EmbedOne(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("qa: embed question: %w", err)
	}

	candidates, err := s.retriever.Retrieve(ctx, question, vector, rag.Filter{DocumentID: req.DocumentID})
	if err != nil {
		return nil, fmt.Errorf("qa: retrieve: %w", err)
	}
	contextText := rag.JoinContext(candidates)
	if len(candidates) == 0 {
		log.Warn("no relevant context found after re-ranking", slog.String("document_id", req.DocumentID))
	}

	resp, err := s.answerer.Answer(ctx, answer.Request{
		Question: question,
		Context:  contextText,
		History:  s.loadHistory(ctx, req.DocumentID),
	})
	if err != nil {
		return nil, fmt.Errorf("qa: %w", err)
	}

	s.saveTurn(ctx, req.DocumentID, question, resp.Text)

	return &Response{
		Answer:          resp.Text,
		Grounded:        resp.Mode == answer.Grounded,
		Answered:        resp.Answered,
		DocumentID:      req.DocumentID,
		Passages:        len(candidates),
		TemplateVersion: resp.TemplateVersion,
		Context:         contextText,
	}, nil
}

// loadHistory returns prior turns for thread as chat messages.
func (s *Service) loadHistory(ctx context.Context, thread string) []*schema.Message {
	if s.history == nil {
		return nil
	}
	prior, err := s.history.Recent(ctx, thread, s.historyDepth*2)
	if err != nil {
		logging.FromContext(ctx).Warn("history: failed to load prior messages", slog.Any("error", err))
		return nil
	}
	msgs := make([]*schema.Message, 0, len(prior))
	for _, m := range prior {
		switch m.Role {
		case store.RoleUser:
			msgs = append(msgs, schema.UserMessage(m.Content))
		case store.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
		}
	}
	return msgs
}

// saveTurn persists the question and answer. Failures are logged only.
func (s *Service) saveTurn(ctx context.Context, thread, question, answerText string) {
	if s.history == nil {
		return
	}
	if err := s.history.AppendTurn(ctx, thread, question, answerText); err != nil {
		logging.FromContext(ctx).Warn("history: failed to persist turn", slog.Any("error", err))
	}
}
