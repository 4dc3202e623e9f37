// Package audit writes one structured line per CLI command invocation with
// the effective settings, so an operator can reconstruct how a run was
// configured. Credentials appear only as "set" or "unset" and connection
// strings lose their password.
package audit

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/54b3r/docqa-go/internal/version"
)

// redaction selects how an audited variable is rendered.
type redaction int

const (
	plain redaction = iota
	secret
	dsn
)

// audited is the ordered list of variables in every audit line.
var audited = []struct {
	key  string
	kind redaction
}{
	{"MODEL_PROVIDER", plain},
	{"OLLAMA_HOST", plain},
	{"OLLAMA_MODEL", plain},
	{"OPENAI_API_KEY", secret},
	{"OPENAI_MODEL", plain},
	{"AZURE_OPENAI_API_KEY", secret},
	{"AZURE_OPENAI_ENDPOINT", plain},
	{"AZURE_OPENAI_DEPLOYMENT", plain},
	{"ARK_API_KEY", secret},
	{"ARK_MODEL", plain},
	{"GOOGLE_API_KEY", secret},
	{"GEMINI_API_KEY", secret},
	{"GEMINI_MODEL", plain},
	{"EMBEDDING_PROVIDER", plain},
	{"EMBEDDING_MODEL", plain},
	{"EMBEDDING_API_KEY", secret},
	{"STORE_BACKEND", plain},
	{"VECTOR_METRIC", plain},
	{"DOCQA_DB_PATH", plain},
	{"POSTGRES_DSN", dsn},
	{"QDRANT_HOST", plain},
	{"QDRANT_PORT", plain},
	{"QDRANT_COLLECTION", plain},
	{"QDRANT_API_KEY", secret},
	{"RERANK_PROVIDER", plain},
	{"RERANK_ENDPOINT", plain},
	{"RERANK_API_KEY", secret},
	{"LLAMA_CLOUD_API_KEY", secret},
	{"INGEST_IDENTITY", plain},
	{"RETRIEVAL_CANDIDATES", plain},
	{"RETRIEVAL_FINAL", plain},
	{"DOCQA_API_KEY", secret},
	{"LOG_LEVEL", plain},
	{"LOG_FORMAT", plain},
	{"LANGFUSE_PUBLIC_KEY", secret},
	{"LANGFUSE_SECRET_KEY", secret},
}

// kinds indexes audited by key for SanitiseKey.
var kinds = func() map[string]redaction {
	m := make(map[string]redaction, len(audited))
	for _, a := range audited {
		m[a.key] = a.kind
	}
	return m
}()

// LogCommandStart logs the command name, build version, config file and the
// audited environment at Info.
func LogCommandStart(log *slog.Logger, command, configPath string) {
	attrs := make([]slog.Attr, 0, len(audited)+3)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("version", version.String()),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)
	for _, a := range audited {
		attrs = append(attrs, slog.String(a.key, render(a.kind, os.Getenv(a.key))))
	}
	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey renders value the way the audit line would for key. Unknown
// keys are treated as plain.
func SanitiseKey(key, value string) string {
	return render(kinds[key], value)
}

func render(kind redaction, v string) string {
	switch kind {
	case secret:
		return presence(v)
	case dsn:
		return sanitiseDSN(v)
	}
	if v == "" {
		return "unset"
	}
	return v
}

func presence(v string) string {
	if v == "" {
		return "unset"
	}
	return "set"
}

// sanitiseDSN redacts the password of a URL connection string. Key/value
// DSNs are reported as "set".
func sanitiseDSN(s string) string {
	if s == "" {
		return "unset"
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "set"
	}
	return u.Redacted()
}

// sanitiseConfigPath shortens the home directory to "~"; an empty path is
// "none".
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" && strings.HasPrefix(p, home+string(os.PathSeparator)) {
		return "~" + p[len(home):]
	}
	return p
}
