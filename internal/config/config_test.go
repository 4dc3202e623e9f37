package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: azure
  max_tokens: 2048
  temperature: 0.3
  azure:
    endpoint: https://my-resource.openai.azure.com
    deployment: gpt-4o
    api_version: "2025-04-01-preview"
embedding:
  provider: ollama
  model: nomic-embed-text
  batch_size: 16
store:
  backend: qdrant
  metric: cosine
  sqlite_path: /var/lib/docqa/docqa.db
  qdrant:
    host: qdrant.internal
    port: 6334
    collection: passages
    tls: true
rerank:
  provider: tei
  endpoint: http://reranker:8080
ingestion:
  chunk_size: 800
  chunk_overlap: 100
  identity: random
retrieval:
  candidates: 20
  final: 5
server:
  port: 9090
  rate_limit: 2.5
logging:
  level: debug
  format: text
history:
  depth: 3
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE",
		"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT", "AZURE_OPENAI_API_VERSION",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_BATCH_SIZE",
		"STORE_BACKEND", "VECTOR_METRIC", "DOCQA_DB_PATH",
		"QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION", "QDRANT_TLS",
		"RERANK_PROVIDER", "RERANK_ENDPOINT",
		"CHUNK_SIZE", "CHUNK_OVERLAP", "INGEST_IDENTITY",
		"RETRIEVAL_CANDIDATES", "RETRIEVAL_FINAL",
		"DOCQA_PORT", "RATE_LIMIT_RPS",
		"LOG_LEVEL", "LOG_FORMAT", "HISTORY_DEPTH",
		"DOCQA_DOTENV",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"MODEL_PROVIDER":           "azure",
		"MODEL_MAX_TOKENS":         "2048",
		"MODEL_TEMPERATURE":        "0.3",
		"AZURE_OPENAI_ENDPOINT":    "https://my-resource.openai.azure.com",
		"AZURE_OPENAI_DEPLOYMENT":  "gpt-4o",
		"AZURE_OPENAI_API_VERSION": "2025-04-01-preview",
		"EMBEDDING_PROVIDER":       "ollama",
		"EMBEDDING_MODEL":          "nomic-embed-text",
		"EMBEDDING_BATCH_SIZE":     "16",
		"STORE_BACKEND":            "qdrant",
		"VECTOR_METRIC":            "cosine",
		"DOCQA_DB_PATH":            "/var/lib/docqa/docqa.db",
		"QDRANT_HOST":              "qdrant.internal",
		"QDRANT_PORT":              "6334",
		"QDRANT_COLLECTION":        "passages",
		"QDRANT_TLS":               "true",
		"RERANK_PROVIDER":          "tei",
		"RERANK_ENDPOINT":          "http://reranker:8080",
		"CHUNK_SIZE":               "800",
		"CHUNK_OVERLAP":            "100",
		"INGEST_IDENTITY":          "random",
		"RETRIEVAL_CANDIDATES":     "20",
		"RETRIEVAL_FINAL":          "5",
		"DOCQA_PORT":               "9090",
		"RATE_LIMIT_RPS":           "2.5",
		"LOG_LEVEL":                "debug",
		"LOG_FORMAT":               "text",
		"HISTORY_DEPTH":            "3",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ollama
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading; it should NOT be overwritten.
	t.Setenv("MODEL_PROVIDER", "azure")
	t.Setenv("DOCQA_DOTENV", "")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("MODEL_PROVIDER"); got != "azure" {
		t.Errorf("MODEL_PROVIDER: expected env override %q, got %q", "azure", got)
	}
}

func TestLoad_DotenvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	envPath := filepath.Join(dir, "docqa.env")

	if err := os.WriteFile(cfgPath, []byte("store:\n  backend: postgres\nlogging:\n  level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(envPath, []byte("STORE_BACKEND=sqlite\nCHUNK_SIZE=640\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, k := range []string{"STORE_BACKEND", "CHUNK_SIZE", "LOG_LEVEL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("DOCQA_DOTENV", envPath)

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	checks := map[string]string{
		"STORE_BACKEND": "sqlite",
		"CHUNK_SIZE":    "640",
		"LOG_LEVEL":     "warn",
	}
	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoadDotenv_MissingExplicitFile(t *testing.T) {
	t.Setenv("DOCQA_DOTENV", filepath.Join(t.TempDir(), "missing.env"))

	if err := LoadDotenv(slog.Default()); err == nil {
		t.Fatal("expected error for missing explicit dotenv file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCQA_DOTENV", "")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestEnvValues(t *testing.T) {
	t.Parallel()
	var cfg Config
	cfg.Model.Temperature = 0.3
	cfg.Server.RateLimit = 2.5
	cfg.Store.Qdrant.TLS = true
	cfg.History.Depth = -1
	cfg.Logging.Level = "warn"

	got := map[string]string{}
	for _, kv := range envValues(&cfg) {
		got[kv.key] = kv.value
	}
	want := map[string]string{
		"MODEL_TEMPERATURE": "0.3",
		"RATE_LIMIT_RPS":    "2.5",
		"QDRANT_TLS":        "true",
		"HISTORY_DEPTH":     "-1",
		"LOG_LEVEL":         "warn",
	}
	if len(got) != len(want) {
		t.Errorf("envValues() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

// TestEnvTags verifies every leaf field of Config maps to a distinct variable.
func TestEnvTags(t *testing.T) {
	t.Parallel()
	seen := map[string]string{}
	var walk func(prefix string, typ reflect.Type)
	walk = func(prefix string, typ reflect.Type) {
		for i := range typ.NumField() {
			f := typ.Field(i)
			if f.Type.Kind() == reflect.Struct {
				walk(prefix+f.Name+".", f.Type)
				continue
			}
			key := f.Tag.Get("env")
			if key == "" {
				t.Errorf("%s%s has no env tag", prefix, f.Name)
				continue
			}
			if other, dup := seen[key]; dup {
				t.Errorf("%s is used by %s and %s%s", key, other, prefix, f.Name)
			}
			seen[key] = prefix + f.Name
		}
	}
	walk("", reflect.TypeOf(Config{}))
}
