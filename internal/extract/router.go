package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/54b3r/docqa-go/internal/ingestion"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// Router dispatches each upload to the extractor for its detected format.
type Router struct {
	// pdf handles PDF uploads. Nil means PDFs are rejected.
	pdf rag.Extractor
	// text handles plain text and markdown uploads.
	text rag.Extractor
}

// NewRouter returns a Router. pdf may be nil when no PDF backend is configured.
func NewRouter(pdf, text rag.Extractor) *Router {
	if text == nil {
		text = PlainText{}
	}
	return &Router{pdf: pdf, text: text}
}

// HasPDF reports whether a PDF backend is configured.
func (r *Router) HasPDF() bool { return r.pdf != nil }

// Extract detects the format of data and delegates to the matching extractor.
func (r *Router) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	format := ingestion.DetectFormat(filename, data)
	logging.FromContext(ctx).Debug("extracting document",
		slog.String("filename", filename),
		slog.String("format", string(format)),
		slog.Int("bytes", len(data)),
	)
	switch format {
	case ingestion.FormatPDF:
		if r.pdf == nil {
			return "", fmt.Errorf("%w: PDF extraction requires LLAMA_CLOUD_API_KEY or pdftotext on PATH", rag.ErrExtraction)
		}
		return r.pdf.Extract(ctx, filename, data)
	case ingestion.FormatMarkdown, ingestion.FormatText:
		return r.text.Extract(ctx, filename, data)
	default:
		return "", fmt.Errorf("%w: unsupported format for %q", rag.ErrExtraction, filename)
	}
}

// NewFromEnv builds the Router from the environment.
//
//	LLAMA_CLOUD_API_KEY        = enables LlamaParse for PDFs
//	LLAMA_PARSE_BASE_URL       = API base URL  (default: https://api.cloud.llamaindex.ai)
//	LLAMA_PARSE_POLL_INTERVAL  = poll delay    (default: 2s)
//	EXTRACT_TIMEOUT            = per-document  (default: 5m)
//
// Without a key, pdftotext is used when it is on PATH.
func NewFromEnv() (*Router, error) {
	var pdf rag.Extractor
	if key := os.Getenv("LLAMA_CLOUD_API_KEY"); key != "" {
		poll, err := durationEnv("LLAMA_PARSE_POLL_INTERVAL", DefaultPollInterval)
		if err != nil {
			return nil, err
		}
		timeout, err := durationEnv("EXTRACT_TIMEOUT", DefaultTimeout)
		if err != nil {
			return nil, err
		}
		lp, err := NewLlamaParse(&LlamaParseConfig{
			APIKey:       key,
			BaseURL:      os.Getenv("LLAMA_PARSE_BASE_URL"),
			PollInterval: poll,
			Timeout:      timeout,
		})
		if err != nil {
			return nil, err
		}
		pdf = lp
	} else if PDFToTextAvailable() {
		pdf = NewPDFToText(nil)
	}
	return NewRouter(pdf, PlainText{}), nil
}

// durationEnv parses the named variable as a time.Duration.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("extract: invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
