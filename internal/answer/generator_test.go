package answer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/rag"
)

// fakeChatModel returns a canned message or error and records its input.
type fakeChatModel struct {
	out   *schema.Message
	err   error
	block bool
	got   []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.got = input
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.out, f.err
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func newTestGenerator(t *testing.T, m model.BaseChatModel, opts ...Option) *Generator {
	t.Helper()
	g, err := NewGenerator(m, opts...)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

func TestModeFor(t *testing.T) {
	t.Parallel()
	if ModeFor("") != Ungrounded {
		t.Error(`ModeFor("") should be Ungrounded`)
	}
	if ModeFor("x") != Grounded {
		t.Error(`ModeFor("x") should be Grounded`)
	}
}

func TestMessages_Grounded(t *testing.T) {
	t.Parallel()
	g := newTestGenerator(t, &fakeChatModel{})
	msgs, err := g.Messages(context.Background(), Request{
		Question: "When is the invoice due?",
		Context:  "The invoice is due on March 3.\n\n---\n\nUse {braces} literally.",
	})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Role != schema.System || !strings.Contains(msgs[0].Content, "due on March 3") {
		t.Errorf("system = %q", msgs[0].Content)
	}
	if !strings.Contains(msgs[0].Content, "{braces}") {
		t.Error("braces in context must be passed through unchanged")
	}
	if strings.Contains(msgs[0].Content, NoContextPlaceholder) {
		t.Error("grounded prompt must not contain the placeholder")
	}
	if msgs[1].Role != schema.User || msgs[1].Content != "When is the invoice due?" {
		t.Errorf("user = %+v", msgs[1])
	}
}

func TestMessages_UngroundedUsesPlaceholder(t *testing.T) {
	t.Parallel()
	g := newTestGenerator(t, &fakeChatModel{})
	msgs, err := g.Messages(context.Background(), Request{Question: "What is Go?"})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if !strings.Contains(msgs[0].Content, NoContextPlaceholder) {
		t.Errorf("system = %q, want placeholder", msgs[0].Content)
	}
}

func TestMessages_HistoryTrimmed(t *testing.T) {
	t.Parallel()
	history := []*schema.Message{
		schema.UserMessage(strings.Repeat("old question ", 200)),
		schema.AssistantMessage(strings.Repeat("old answer ", 200), nil),
		schema.UserMessage("recent question"),
		schema.AssistantMessage("recent answer", nil),
	}
	g := newTestGenerator(t, &fakeChatModel{}, WithMaxContextTokens(400))
	msgs, err := g.Messages(context.Background(), Request{Question: "q", Context: "c", History: history})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	// system, recent question, recent answer, user
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4", len(msgs))
	}
	if msgs[1].Content != "recent question" || msgs[2].Content != "recent answer" || msgs[3].Content != "q" {
		t.Errorf("unexpected order: %q, %q, %q", msgs[1].Content, msgs[2].Content, msgs[3].Content)
	}
}

func TestAnswer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		model        *fakeChatModel
		context      string
		wantText     string
		wantAnswered bool
		wantMode     Mode
	}{
		{
			name:         "grounded answer",
			model:        &fakeChatModel{out: schema.AssistantMessage("  March 3.\n", nil)},
			context:      "The invoice is due on March 3.",
			wantText:     "March 3.",
			wantAnswered: true,
			wantMode:     Grounded,
		},
		{
			name:         "ungrounded answer",
			model:        &fakeChatModel{out: schema.AssistantMessage("Go is a language.", nil)},
			wantText:     "Go is a language.",
			wantAnswered: true,
			wantMode:     Ungrounded,
		},
		{
			name:     "empty content falls back",
			model:    &fakeChatModel{out: schema.AssistantMessage("   ", nil)},
			context:  "c",
			wantText: UnableToAnswer,
			wantMode: Grounded,
		},
		{
			name:     "nil message falls back",
			model:    &fakeChatModel{},
			wantText: UnableToAnswer,
			wantMode: Ungrounded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := newTestGenerator(t, tt.model)
			resp, err := g.Answer(context.Background(), Request{Question: "q", Context: tt.context})
			if err != nil {
				t.Fatalf("Answer: %v", err)
			}
			if resp.Text != tt.wantText || resp.Answered != tt.wantAnswered || resp.Mode != tt.wantMode {
				t.Errorf("resp = %+v", resp)
			}
			if resp.TemplateVersion != "v1" {
				t.Errorf("TemplateVersion = %q, want v1", resp.TemplateVersion)
			}
		})
	}
}

func TestAnswer_Errors(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(t, &fakeChatModel{err: errors.New("503 overloaded")})
	if _, err := g.Answer(context.Background(), Request{Question: "q"}); !errors.Is(err, rag.ErrGeneration) {
		t.Errorf("model error: err = %v, want ErrGeneration", err)
	}

	g = newTestGenerator(t, &fakeChatModel{block: true}, WithTimeout(10*time.Millisecond))
	_, err := g.Answer(context.Background(), Request{Question: "q"})
	if !errors.Is(err, rag.ErrGeneration) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("timeout: err = %v, want ErrGeneration and DeadlineExceeded", err)
	}

	if _, err := g.Answer(context.Background(), Request{Question: "  "}); !errors.Is(err, rag.ErrInvalidInput) {
		t.Errorf("empty question: err = %v, want ErrInvalidInput", err)
	}
}

func TestNewGenerator_Validation(t *testing.T) {
	t.Parallel()
	if _, err := NewGenerator(nil); err == nil {
		t.Error("nil model: expected error")
	}
	bad := Template{Version: "v2", System: "no placeholder", User: "{question}"}
	if _, err := NewGenerator(&fakeChatModel{}, WithTemplate(bad)); err == nil {
		t.Error("template without {context}: expected error")
	}
}

func TestLoadTemplate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		return p
	}

	tmpl, err := LoadTemplate(write("ok.yaml", "version: v2\nsystem: |\n  Answer from this only:\n  {context}\n"))
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}
	if tmpl.Version != "v2" || tmpl.User != DefaultTemplate.User || !strings.Contains(tmpl.System, "{context}") {
		t.Errorf("tmpl = %+v", tmpl)
	}

	g := newTestGenerator(t, &fakeChatModel{out: schema.AssistantMessage("ok", nil)}, WithTemplate(tmpl))
	resp, err := g.Answer(context.Background(), Request{Question: "q"})
	if err != nil || resp.TemplateVersion != "v2" {
		t.Errorf("resp = %+v, err = %v", resp, err)
	}

	for name, body := range map[string]string{
		"noversion.yaml": "system: '{context}'\n",
		"noctx.yaml":     "version: v3\nsystem: nothing here\n",
		"broken.yaml":    "version: [unterminated\n",
	} {
		if _, err := LoadTemplate(write(name, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := LoadTemplate(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file: expected error")
	}
}
