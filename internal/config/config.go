// Package config provides layered configuration for docqa.
// Precedence, lowest first: defaults → YAML file → .env file → process env.
// Every setting is ultimately read from an environment variable by the
// component that owns it, so the YAML and .env layers only fill in variables
// the process environment leaves unset.
//
// YAML file search order:
//  1. --config CLI flag (explicit path)
//  2. DOCQA_CONFIG environment variable
//  3. ~/.docqa/config.yaml
//  4. ./docqa.yaml
//
// The .env file is DOCQA_DOTENV, or ./.env when unset.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration file. Every leaf field carries an env tag
// naming the variable it fills in.
type Config struct {
	// Model configures the chat model that writes answers.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider and batching.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Store configures document and passage persistence.
	Store StoreConfig `yaml:"store"`

	// Rerank configures the second-stage re-ranker.
	Rerank RerankConfig `yaml:"rerank"`

	// Extraction configures document text extraction.
	Extraction ExtractionConfig `yaml:"extraction"`

	// Ingestion configures chunking and document identity.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Retrieval configures candidate counts and prompt assembly.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// History configures conversation history.
	History HistoryConfig `yaml:"history"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, ark, gemini.
	Provider string `yaml:"provider" env:"MODEL_PROVIDER"`
	// MaxTokens is the maximum number of tokens in an answer.
	MaxTokens int `yaml:"max_tokens" env:"MODEL_MAX_TOKENS"`
	// Temperature controls response randomness.
	Temperature float32 `yaml:"temperature" env:"MODEL_TEMPERATURE"`
	// Timeout bounds one generation call (e.g. "60s").
	Timeout string `yaml:"timeout" env:"GENERATION_TIMEOUT"`

	Ollama OllamaConfig `yaml:"ollama"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Azure  AzureConfig  `yaml:"azure"`
	Ark    ArkConfig    `yaml:"ark"`
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host" env:"OLLAMA_HOST"`
	// Model is the Ollama model name.
	Model string `yaml:"model" env:"OLLAMA_MODEL"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key" env:"OPENAI_API_KEY"`
	// Model is the OpenAI model name.
	Model string `yaml:"model" env:"OPENAI_MODEL"`
	// BaseURL points at an OpenAI-compatible server.
	BaseURL string `yaml:"base_url" env:"OPENAI_BASE_URL"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key" env:"AZURE_OPENAI_API_KEY"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint" env:"AZURE_OPENAI_ENDPOINT"`
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment" env:"AZURE_OPENAI_DEPLOYMENT"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version" env:"AZURE_OPENAI_API_VERSION"`
}

// ArkConfig holds Volcengine Ark provider settings.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey string `yaml:"api_key" env:"ARK_API_KEY"`
	// Model is the Ark endpoint or model ID.
	Model string `yaml:"model" env:"ARK_MODEL"`
	// BaseURL overrides the Ark endpoint.
	BaseURL string `yaml:"base_url" env:"ARK_BASE_URL"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key" env:"GOOGLE_API_KEY"`
	// Model is the Gemini model name.
	Model string `yaml:"model" env:"GEMINI_MODEL"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure, gemini).
	Provider string `yaml:"provider" env:"EMBEDDING_PROVIDER"`
	// Model is the embedding model name.
	Model string `yaml:"model" env:"EMBEDDING_MODEL"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions" env:"EMBEDDING_DIMENSIONS"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key" env:"EMBEDDING_API_KEY"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint" env:"EMBEDDING_ENDPOINT"`
	// BatchSize is the maximum number of texts per provider call.
	BatchSize int `yaml:"batch_size" env:"EMBEDDING_BATCH_SIZE"`
	// BatchPause is the pause between sub-batches (e.g. "500ms").
	BatchPause string `yaml:"batch_pause" env:"EMBEDDING_BATCH_PAUSE"`
	// Timeout bounds one provider call (e.g. "60s").
	Timeout string `yaml:"timeout" env:"EMBEDDING_TIMEOUT"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Backend selects sqlite, postgres or qdrant.
	Backend string `yaml:"backend" env:"STORE_BACKEND"`
	// Metric is the vector distance: euclidean, cosine or dot.
	Metric string `yaml:"metric" env:"VECTOR_METRIC"`
	// SQLitePath is the SQLite database path.
	SQLitePath string `yaml:"sqlite_path" env:"DOCQA_DB_PATH"`
	// PostgresDSN is the Postgres connection string. Prefer env var POSTGRES_DSN.
	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	// Qdrant holds Qdrant connection settings.
	Qdrant QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host" env:"QDRANT_HOST"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port" env:"QDRANT_PORT"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection" env:"QDRANT_COLLECTION"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key" env:"QDRANT_API_KEY"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls" env:"QDRANT_TLS"`
}

// RerankConfig holds re-ranker settings.
type RerankConfig struct {
	// Provider selects tei, cohere or lexical.
	Provider string `yaml:"provider" env:"RERANK_PROVIDER"`
	// Endpoint is the re-ranker base URL.
	Endpoint string `yaml:"endpoint" env:"RERANK_ENDPOINT"`
	// Model is the cross-encoder model name.
	Model string `yaml:"model" env:"RERANK_MODEL"`
	// APIKey is the re-ranker API key. Prefer env var RERANK_API_KEY.
	APIKey string `yaml:"api_key" env:"RERANK_API_KEY"`
	// Timeout bounds one re-rank call (e.g. "30s").
	Timeout string `yaml:"timeout" env:"RERANK_TIMEOUT"`
}

// ExtractionConfig holds text extraction settings.
type ExtractionConfig struct {
	// LlamaCloudAPIKey enables LlamaParse. Prefer env var LLAMA_CLOUD_API_KEY.
	LlamaCloudAPIKey string `yaml:"llama_cloud_api_key" env:"LLAMA_CLOUD_API_KEY"`
	// BaseURL overrides the LlamaCloud API URL.
	BaseURL string `yaml:"base_url" env:"LLAMA_PARSE_BASE_URL"`
	// PollInterval is the delay between job status checks (e.g. "2s").
	PollInterval string `yaml:"poll_interval" env:"LLAMA_PARSE_POLL_INTERVAL"`
	// Timeout bounds one extraction (e.g. "5m").
	Timeout string `yaml:"timeout" env:"EXTRACT_TIMEOUT"`
}

// IngestionConfig holds chunking and identity settings.
type IngestionConfig struct {
	// ChunkSize is the maximum passage length in characters.
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	// ChunkOverlap is the overlap between consecutive passages.
	ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	// Identity selects content or random document identity.
	Identity string `yaml:"identity" env:"INGEST_IDENTITY"`
	// MaxUploadBytes rejects larger uploads.
	MaxUploadBytes int `yaml:"max_upload_bytes" env:"UPLOAD_MAX_BYTES"`
}

// RetrievalConfig holds retrieval and prompt settings.
type RetrievalConfig struct {
	// Candidates is the number of first-stage candidates.
	Candidates int `yaml:"candidates" env:"RETRIEVAL_CANDIDATES"`
	// Final is the number of passages kept after re-ranking.
	Final int `yaml:"final" env:"RETRIEVAL_FINAL"`
	// PromptTemplateFile is a YAML prompt template path.
	PromptTemplateFile string `yaml:"prompt_template_file" env:"PROMPT_TEMPLATE_FILE"`
	// MaxContextTokens is the prompt budget.
	MaxContextTokens int `yaml:"max_context_tokens" env:"MAX_CONTEXT_TOKENS"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host" env:"DOCQA_HOST"`
	// Port is the TCP port.
	Port int `yaml:"port" env:"DOCQA_PORT"`
	// APIKey is the Bearer token for API authentication. Prefer env var DOCQA_API_KEY.
	APIKey string `yaml:"api_key" env:"DOCQA_API_KEY"`
	// QueryTimeout bounds one /api/query request (e.g. "2m").
	QueryTimeout string `yaml:"query_timeout" env:"QUERY_TIMEOUT"`
	// UploadTimeout bounds one /api/upload request (e.g. "10m").
	UploadTimeout string `yaml:"upload_timeout" env:"UPLOAD_TIMEOUT"`
	// RateLimit is the sustained requests per second per client IP.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT_RPS"`
	// RateBurst is the burst size per client IP.
	RateBurst int `yaml:"rate_burst" env:"RATE_LIMIT_BURST"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level" env:"LOG_LEVEL"`
	// Format is the log output format: json, text.
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// HistoryConfig holds conversation history settings.
type HistoryConfig struct {
	// Depth is the number of prior question/answer pairs sent with each
	// question. A negative value disables history.
	Depth int `yaml:"depth" env:"HISTORY_DEPTH"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key" env:"LANGFUSE_PUBLIC_KEY"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key" env:"LANGFUSE_SECRET_KEY"`
	// Host is the Langfuse API host.
	Host string `yaml:"host" env:"LANGFUSE_HOST"`
}

// Load applies the YAML and .env layers. The .env file is read first so its
// values take precedence over YAML; neither layer overwrites a variable that
// is already set. Returns the YAML path that was loaded, or empty string if
// no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	if err := LoadDotenv(log); err != nil {
		return "", err
	}

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, kv := range envValues(&cfg) {
		if os.Getenv(kv.key) != "" {
			continue
		}
		if err := os.Setenv(kv.key, kv.value); err != nil {
			return "", fmt.Errorf("config: set %s: %w", kv.key, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// LoadDotenv loads DOCQA_DOTENV (default ./.env) without overriding
// variables that are already set. A missing default file is not an error;
// a missing explicit file is.
func LoadDotenv(log *slog.Logger) error {
	path := os.Getenv("DOCQA_DOTENV")
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	log.Debug("config: loaded dotenv file", slog.String("path", path))
	return nil
}

// resolveConfigPath returns the first existing file among the explicit path,
// DOCQA_CONFIG, ~/.docqa/config.yaml and ./docqa.yaml. A missing explicit
// path disables the search.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return existing(explicit)
	}
	candidates := []string{os.Getenv("DOCQA_CONFIG")}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".docqa", "config.yaml"))
	}
	candidates = append(candidates, "docqa.yaml")
	for _, p := range candidates {
		if p != "" && existing(p) != "" {
			return p
		}
	}
	return ""
}

// existing returns p when it names an existing file, "" otherwise.
func existing(p string) string {
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// envValue is one non-zero YAML setting and the variable it fills in.
type envValue struct {
	key   string
	value string
}

// envValues walks cfg and returns every non-zero env-tagged field in
// declaration order.
func envValues(cfg *Config) []envValue {
	var out []envValue
	var walk func(v reflect.Value)
	walk = func(v reflect.Value) {
		t := v.Type()
		for i := range t.NumField() {
			f, fv := t.Field(i), v.Field(i)
			if fv.Kind() == reflect.Struct {
				walk(fv)
				continue
			}
			key := f.Tag.Get("env")
			if key == "" || fv.IsZero() {
				continue
			}
			out = append(out, envValue{key: key, value: formatValue(fv)})
		}
	}
	walk(reflect.ValueOf(cfg).Elem())
	return out
}

// formatValue renders a scalar field the way the owning component parses it.
func formatValue(v reflect.Value) string {
	switch v.Kind() {
	case reflect.Int:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'f', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	}
	return v.String()
}
