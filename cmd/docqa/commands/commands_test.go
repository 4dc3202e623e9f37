package commands

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/docqa-go/internal/app"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/store"
	"github.com/54b3r/docqa-go/internal/version"
)

// isolateEnv points every file the CLI touches at a temp dir and returns the
// database path.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "docqa.db")
	t.Setenv("HOME", dir)
	t.Setenv("DOCQA_CONFIG", "")
	t.Setenv("DOCQA_DOTENV", "")
	t.Setenv("DOCQA_DB_PATH", dbPath)
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("LOG_LEVEL", "error")
	return dbPath
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"ask", "documents", "ingest", "serve", "version"} {
		if !slices.Contains(names, want) {
			t.Errorf("missing subcommand %q in %v", want, names)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("missing --config flag")
	}
}

func TestVersionCmd(t *testing.T) {
	isolateEnv(t)

	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "docqa "+version.Version) {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestIngestCmd_RequiresSource(t *testing.T) {
	isolateEnv(t)

	if _, err := execute(t, "ingest"); err == nil {
		t.Fatal("expected error without sources")
	}
}

func TestDocumentsCmd_Lifecycle(t *testing.T) {
	dbPath := isolateEnv(t)
	ctx := context.Background()

	// Seed one ready document and a conversation thread for it.
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	doc := &rag.Document{
		ID:        "doc-1",
		Filename:  "report.pdf",
		Data:      []byte("%PDF-1.4"),
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := s.InsertDocument(ctx, doc); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.MarkReady(ctx, "doc-1", 7); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	if err := s.Append(ctx, "doc-1", store.RoleUser, "what is this?"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	out, err := execute(t, "documents", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "doc-1") || !strings.Contains(out, "report.pdf") || !strings.Contains(out, "ready") {
		t.Errorf("list output missing document:\n%s", out)
	}

	out, err = execute(t, "documents", "show", "doc-1")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "Passages:") || !strings.Contains(out, "7") {
		t.Errorf("show output:\n%s", out)
	}

	out, err = execute(t, "documents", "delete", "doc-1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.Contains(out, "deleted doc-1") {
		t.Errorf("delete output %q", out)
	}

	s, err = store.Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.GetDocument(ctx, "doc-1"); !errors.Is(err, rag.ErrNotFound) {
		t.Errorf("document still present: %v", err)
	}
	msgs, err := s.Recent(ctx, "doc-1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("history not cleared: %d messages", len(msgs))
	}
}

func TestDocumentsCmd_ShowMissing(t *testing.T) {
	isolateEnv(t)

	_, err := execute(t, "documents", "show", "nope")
	if !errors.Is(err, rag.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestServerConfigFromEnv(t *testing.T) {
	t.Setenv("DOCQA_HOST", "0.0.0.0")
	t.Setenv("DOCQA_PORT", "9090")
	t.Setenv("DOCQA_API_KEY", "k")
	t.Setenv("QUERY_TIMEOUT", "45s")
	t.Setenv("UPLOAD_TIMEOUT", "bogus")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "4")
	t.Setenv("UPLOAD_MAX_BYTES", "1024")

	cfg := serverConfigFromEnv()
	if cfg.Host != "0.0.0.0" || cfg.Port != 9090 || cfg.APIKey != "k" {
		t.Errorf("bind/auth: %+v", cfg)
	}
	if cfg.QueryTimeout != 45*time.Second {
		t.Errorf("QueryTimeout = %v", cfg.QueryTimeout)
	}
	if cfg.UploadTimeout != 0 {
		t.Errorf("unparseable UploadTimeout should fall back to zero, got %v", cfg.UploadTimeout)
	}
	if cfg.RateLimit != 2.5 || cfg.RateBurst != 4 {
		t.Errorf("rate limit: %v/%d", cfg.RateLimit, cfg.RateBurst)
	}
	if cfg.MaxUploadBytes != 1024 {
		t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes)
	}
}

func TestBuildPingers(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want []string
	}{
		{
			name: "sqlite with tei and ollama",
			env: map[string]string{
				"RERANK_PROVIDER": "tei",
				"RERANK_ENDPOINT": "http://rerank:8080/",
				"MODEL_PROVIDER":  "ollama",
				"OLLAMA_HOST":     "http://ollama:11434",
			},
			want: []string{"sqlite", "reranker", "ollama"},
		},
		{
			name: "sqlite with lexical and openai",
			env: map[string]string{
				"RERANK_PROVIDER": "lexical",
				"MODEL_PROVIDER":  "openai",
			},
			want: []string{"sqlite"},
		},
		{
			name: "cohere has no health endpoint",
			env: map[string]string{
				"RERANK_PROVIDER": "cohere",
				"MODEL_PROVIDER":  "openai",
			},
			want: []string{"sqlite"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			a := app.New(t.Context(), nil)
			t.Cleanup(func() { _ = a.Close() })

			var got []string
			for _, p := range buildPingers(a, discardLogger()) {
				got = append(got, p.Name())
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("pingers = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsURL(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"https://example.com/a.pdf": true,
		"http://localhost/doc.md":   true,
		"./notes/http.md":           false,
		"report.pdf":                false,
	}
	for in, want := range cases {
		if got := isURL(in); got != want {
			t.Errorf("isURL(%q) = %v, want %v", in, got, want)
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
