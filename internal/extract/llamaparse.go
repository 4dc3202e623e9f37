// Package extract turns uploaded bytes into text for chunking. PDFs are
// parsed by the LlamaCloud parsing API into layout-aware markdown (or by a
// local pdftotext binary when no API key is configured); text and markdown
// pass through unchanged.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

const (
	// DefaultLlamaParseURL is the LlamaCloud API base URL.
	DefaultLlamaParseURL = "https://api.cloud.llamaindex.ai"
	// DefaultPollInterval is the delay between job status requests.
	DefaultPollInterval = 2 * time.Second
	// DefaultTimeout bounds one whole extraction: upload, polling and download.
	DefaultTimeout = 5 * time.Minute
)

// LlamaParseConfig holds the settings for the LlamaCloud parser.
type LlamaParseConfig struct {
	// APIKey is the LlamaCloud API key (LLAMA_CLOUD_API_KEY). Required.
	APIKey string
	// BaseURL overrides DefaultLlamaParseURL.
	BaseURL string
	// PollInterval overrides DefaultPollInterval.
	PollInterval time.Duration
	// Timeout overrides DefaultTimeout.
	Timeout time.Duration
}

// LlamaParse extracts markdown from documents with the LlamaCloud parsing API.
type LlamaParse struct {
	// apiKey is sent as a Bearer token on every request.
	apiKey string
	// baseURL is the API base URL without a trailing slash.
	baseURL string
	// pollInterval is the delay between job status requests.
	pollInterval time.Duration
	// timeout bounds one Extract call.
	timeout time.Duration
	// client performs the HTTP exchanges.
	client *http.Client
}

// NewLlamaParse constructs a LlamaParse extractor from cfg.
func NewLlamaParse(cfg *LlamaParseConfig) (*LlamaParse, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("extract: LlamaParse API key must be set")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultLlamaParseURL
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LlamaParse{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(base, "/"),
		pollInterval: poll,
		timeout:      timeout,
		client:       &http.Client{},
	}, nil
}

// jobResponse is the body returned by the upload and job status endpoints.
type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// markdownResponse is the body returned by the markdown result endpoint.
type markdownResponse struct {
	Markdown string `json:"markdown"`
}

// Extract uploads data, waits for the parse job, and returns its markdown.
// Every failure, including an empty result, wraps rag.ErrExtraction.
func (l *LlamaParse) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	log := logging.FromContext(ctx)

	jobID, err := l.upload(ctx, filename, data)
	if err != nil {
		return "", fmt.Errorf("%w: llamaparse upload: %w", rag.ErrExtraction, err)
	}
	log.Debug("llamaparse job created", slog.String("job_id", jobID), slog.String("filename", filename))

	if err := l.wait(ctx, jobID); err != nil {
		return "", fmt.Errorf("%w: llamaparse job %s: %w", rag.ErrExtraction, jobID, err)
	}

	var result markdownResponse
	if err := l.getJSON(ctx, "/api/parsing/job/"+jobID+"/result/markdown", &result); err != nil {
		return "", fmt.Errorf("%w: llamaparse result %s: %w", rag.ErrExtraction, jobID, err)
	}
	if strings.TrimSpace(result.Markdown) == "" {
		return "", fmt.Errorf("%w: llamaparse returned no text for %q", rag.ErrExtraction, filename)
	}
	return result.Markdown, nil
}

// upload posts the document as multipart form data and returns the job ID.
func (l *LlamaParse) upload(ctx context.Context, filename string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := mw.WriteField("result_type", "markdown"); err != nil {
		return "", fmt.Errorf("write form field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/api/parsing/upload", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	var job jobResponse
	if err := l.do(req, &job); err != nil {
		return "", err
	}
	if job.ID == "" {
		return "", fmt.Errorf("response carried no job id")
	}
	return job.ID, nil
}

// wait polls the job status until it succeeds, fails, or ctx expires.
func (l *LlamaParse) wait(ctx context.Context, jobID string) error {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		var job jobResponse
		if err := l.getJSON(ctx, "/api/parsing/job/"+jobID, &job); err != nil {
			return err
		}
		switch strings.ToUpper(job.Status) {
		case "SUCCESS":
			return nil
		case "ERROR", "CANCELED", "CANCELLED":
			return fmt.Errorf("job finished with status %s", job.Status)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// getJSON performs an authenticated GET and decodes the JSON response.
func (l *LlamaParse) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)
	return l.do(req, out)
}

// do sends req and decodes a 2xx JSON body into out.
func (l *LlamaParse) do(req *http.Request, out any) error {
	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
