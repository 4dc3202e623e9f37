package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/budget"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

const (
	// UnableToAnswer is returned when the model produces no answer.
	UnableToAnswer = "I am sorry, but I was unable to generate a response for that query."

	// NoContextPlaceholder replaces an empty context in ungrounded prompts.
	NoContextPlaceholder = "No relevant context found."

	// DefaultTimeout bounds a single generation call.
	DefaultTimeout = 60 * time.Second
)

// Mode records whether an answer was grounded in retrieved passages.
type Mode string

const (
	// Grounded answers had at least one retrieved passage.
	Grounded Mode = "grounded"
	// Ungrounded answers had none and rely on the model's general knowledge.
	Ungrounded Mode = "ungrounded"
)

// ModeFor returns Ungrounded for an empty context and Grounded otherwise.
func ModeFor(context string) Mode {
	if len(context) == 0 {
		return Ungrounded
	}
	return Grounded
}

// Request is one question with its retrieved context.
type Request struct {
	// Question is the user's question.
	Question string
	// Context is the joined passage block; empty means nothing relevant.
	Context string
	// History holds prior turns, oldest first. It is trimmed to fit the budget.
	History []*schema.Message
}

// Response is the generated answer.
type Response struct {
	// Text is the answer, or UnableToAnswer when the model returned nothing.
	Text string
	// Mode reports whether the prompt carried retrieved context.
	Mode Mode
	// Answered is false when Text is the UnableToAnswer fallback.
	Answered bool
	// TemplateVersion is the Version of the template used.
	TemplateVersion string
}

// Option configures a Generator.
type Option func(*Generator)

// WithTemplate replaces DefaultTemplate.
func WithTemplate(t Template) Option {
	return func(g *Generator) { g.tmpl = t }
}

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithMaxContextTokens sets the prompt budget used to trim history.
func WithMaxContextTokens(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxTokens = n
		}
	}
}

// WithCallbacks attaches eino callback handlers (e.g. Langfuse tracing) to
// every generation.
func WithCallbacks(handlers ...callbacks.Handler) Option {
	return func(g *Generator) { g.handlers = append(g.handlers, handlers...) }
}

// Generator assembles prompts and calls the chat model.
// It is safe for concurrent use.
type Generator struct {
	// model produces the answer text.
	model model.BaseChatModel
	// tmpl is the active prompt template.
	tmpl Template
	// chat is tmpl compiled into an eino chat template.
	chat prompt.ChatTemplate
	// timeout bounds one Generate call.
	timeout time.Duration
	// maxTokens is the prompt budget for history trimming.
	maxTokens int
	// handlers receive eino callbacks for each generation.
	handlers []callbacks.Handler
}

// NewGenerator returns a Generator over m.
func NewGenerator(m model.BaseChatModel, opts ...Option) (*Generator, error) {
	if m == nil {
		return nil, fmt.Errorf("answer: chat model must not be nil")
	}
	g := &Generator{
		model:     m,
		tmpl:      DefaultTemplate,
		timeout:   DefaultTimeout,
		maxTokens: budget.DefaultMaxContextTokens,
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := g.tmpl.Validate(); err != nil {
		return nil, fmt.Errorf("answer: template %s: %w", g.tmpl.Version, err)
	}
	g.chat = prompt.FromMessages(schema.FString,
		schema.SystemMessage(g.tmpl.System),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage(g.tmpl.User),
	)
	return g, nil
}

// TemplateVersion returns the active template version.
func (g *Generator) TemplateVersion() string { return g.tmpl.Version }

// Messages renders the prompt for req without calling the model. An empty
// context is replaced by NoContextPlaceholder, and history is trimmed
// oldest-first to the token budget.
func (g *Generator) Messages(ctx context.Context, req Request) ([]*schema.Message, error) {
	contextText := req.Context
	if ModeFor(contextText) == Ungrounded {
		contextText = NoContextPlaceholder
	}
	vars := map[string]any{
		"context":  contextText,
		"question": req.Question,
	}

	fixed, err := g.chat.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("answer: render prompt: %w", err)
	}
	if len(req.History) == 0 {
		return fixed, nil
	}

	history := budget.TrimHistory(fixed, req.History, g.maxTokens)
	if dropped := len(req.History) - len(history); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(history)),
			slog.Int("max_tokens", g.maxTokens),
		)
	}
	vars["history"] = history
	msgs, err := g.chat.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("answer: render prompt: %w", err)
	}
	return msgs, nil
}

// Answer generates an answer for req. A model failure or timeout wraps
// rag.ErrGeneration; an empty model response is not an error and yields
// UnableToAnswer with Answered=false.
func (g *Generator) Answer(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("answer: empty question: %w", rag.ErrInvalidInput)
	}
	mode := ModeFor(req.Context)
	log := logging.FromContext(ctx)

	msgs, err := g.Messages(ctx, req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if len(g.handlers) > 0 {
		ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
			Name:      "docqa.answer",
			Type:      string(mode),
			Component: components.ComponentOfChatModel,
		}, g.handlers...)
	}

	start := time.Now()
	out, err := g.model.Generate(ctx, msgs)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("answer: model timed out after %s: %w: %w", g.timeout, rag.ErrGeneration, err)
		}
		return nil, fmt.Errorf("answer: %w: %w", rag.ErrGeneration, err)
	}

	resp := &Response{Mode: mode, TemplateVersion: g.tmpl.Version}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		log.Warn("answer: model returned no content", slog.String("mode", string(mode)))
		resp.Text = UnableToAnswer
		return resp, nil
	}
	resp.Text = strings.TrimSpace(out.Content)
	resp.Answered = true

	log.Debug("answer generated",
		slog.String("mode", string(mode)),
		slog.String("template_version", g.tmpl.Version),
		slog.Duration("elapsed", time.Since(start)),
	)
	return resp, nil
}
