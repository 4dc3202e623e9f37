package extract

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/54b3r/docqa-go/internal/rag"
)

// CommandRunner runs an external command and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner runs commands with os/exec.
type execRunner struct{}

// Run executes name with args and returns stdout.
func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PDFToText extracts PDF text with the poppler pdftotext binary. It is the
// offline fallback when no LlamaCloud key is configured.
type PDFToText struct {
	// runner executes pdftotext.
	runner CommandRunner
}

// NewPDFToText returns a PDFToText using runner, or os/exec when runner is nil.
func NewPDFToText(runner CommandRunner) *PDFToText {
	if runner == nil {
		runner = execRunner{}
	}
	return &PDFToText{runner: runner}
}

// PDFToTextAvailable reports whether pdftotext is on PATH.
func PDFToTextAvailable() bool {
	_, err := exec.LookPath("pdftotext")
	return err == nil
}

// Extract writes data to a temporary file and runs pdftotext on it.
func (p *PDFToText) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	f, err := os.CreateTemp("", "docqa-*.pdf")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %w", rag.ErrExtraction, err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("%w: write temp file: %w", rag.ErrExtraction, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: close temp file: %w", rag.ErrExtraction, err)
	}

	out, err := p.runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", f.Name(), "-")
	if err != nil {
		return "", fmt.Errorf("%w: pdftotext %q: %w", rag.ErrExtraction, filename, err)
	}
	text := string(out)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: pdftotext returned no text for %q", rag.ErrExtraction, filename)
	}
	return text, nil
}
