package commands

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/docqa-go/internal/app"
	"github.com/54b3r/docqa-go/internal/provider"
	"github.com/54b3r/docqa-go/internal/rerank"
	"github.com/54b3r/docqa-go/internal/server"
)

// serverConfigFromEnv builds the HTTP server settings from DOCQA_* and the
// per-request timeout and rate-limit variables. Zero values fall back to the
// server defaults.
func serverConfigFromEnv() *server.Config {
	cfg := &server.Config{
		Host:           os.Getenv("DOCQA_HOST"),
		Port:           getEnvInt("DOCQA_PORT", 0),
		APIKey:         os.Getenv("DOCQA_API_KEY"),
		QueryTimeout:   getEnvDuration("QUERY_TIMEOUT", 0),
		UploadTimeout:  getEnvDuration("UPLOAD_TIMEOUT", 0),
		MaxUploadBytes: app.UploadMaxBytes(),
		RateBurst:      getEnvInt("RATE_LIMIT_BURST", 0),
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit = f
		}
	}
	return cfg
}

// pingable is implemented by stores that can probe their connection.
type pingable interface {
	Ping(ctx context.Context) error
}

// buildPingers returns the readiness probes for every dependency the
// configured backends talk to. Dependencies that failed to build are skipped;
// their errors already surfaced when the server was wired.
func buildPingers(a *app.App, log *slog.Logger) []server.Pinger {
	var pingers []server.Pinger

	switch app.StoreBackend() {
	case app.BackendPostgres:
		if s, err := a.Store(); err == nil {
			if p, ok := s.(pingable); ok {
				pingers = append(pingers, server.NewStorePinger("postgres", p))
			}
		}
	default:
		if s, err := a.SQLite(); err == nil {
			pingers = append(pingers, server.NewStorePinger("sqlite", s))
		}
	}

	if c := a.QdrantClient(); c != nil {
		pingers = append(pingers, server.NewQdrantPinger(c))
	}

	if r, err := a.Reranker(); err == nil {
		if ce, ok := r.(*rerank.CrossEncoder); ok && ce.HealthPath() != "" {
			pingers = append(pingers, server.NewHTTPPinger("reranker", strings.TrimRight(ce.Endpoint(), "/")+ce.HealthPath()))
		}
	}

	if cfg := provider.ConfigFromEnv(); cfg.Backend == provider.BackendOllama {
		pingers = append(pingers, server.NewHTTPPinger("ollama", strings.TrimRight(cfg.Ollama.Host, "/")+"/api/tags"))
	}

	for _, p := range pingers {
		log.Info("readiness probe registered", slog.String("dependency", p.Name()))
	}
	return pingers
}

// closeApp releases the shared clients, logging (not returning) failures so
// they never mask the command's own error.
func closeApp(a *app.App, log *slog.Logger) {
	if err := a.Close(); err != nil {
		log.Warn("shutdown: failed to release clients", slog.Any("error", err))
	}
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration parses a Go duration, or returns fallback if the variable is
// unset or not parseable.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
