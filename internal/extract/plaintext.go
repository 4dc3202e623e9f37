package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/docqa-go/internal/rag"
)

// PlainText passes UTF-8 text and markdown through unchanged.
type PlainText struct{}

// Extract returns data as a string. Invalid UTF-8 and whitespace-only
// content are extraction failures.
func (PlainText) Extract(_ context.Context, filename string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %q is not valid UTF-8 text", rag.ErrExtraction, filename)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %q contains no text", rag.ErrExtraction, filename)
	}
	return text, nil
}
