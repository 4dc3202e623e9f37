package ingestion

import (
	"bytes"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Format classifies an upload for extraction.
type Format string

const (
	// FormatPDF is a PDF document.
	FormatPDF Format = "pdf"
	// FormatMarkdown is a markdown document.
	FormatMarkdown Format = "markdown"
	// FormatText is plain UTF-8 text.
	FormatText Format = "text"
	// FormatUnknown is anything docqa cannot extract.
	FormatUnknown Format = "unknown"
)

// extensionFormats maps lowercase file extensions to formats.
var extensionFormats = map[string]Format{
	".pdf":      FormatPDF,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".mdx":      FormatMarkdown,
	".txt":      FormatText,
	".text":     FormatText,
	".log":      FormatText,
	".csv":      FormatText,
	".rst":      FormatText,
}

// pdfMagic is the signature every PDF file starts with.
var pdfMagic = []byte("%PDF-")

// DetectFormat classifies an upload. The content signature wins over the
// extension for PDFs, so a mislabelled PDF is still parsed as one; otherwise
// a known extension decides, with http.DetectContentType as the fallback.
func DetectFormat(filename string, data []byte) Format {
	if bytes.HasPrefix(data, pdfMagic) {
		return FormatPDF
	}
	if f, ok := extensionFormats[strings.ToLower(filepath.Ext(filename))]; ok {
		if f == FormatPDF {
			// Extension says PDF but the bytes do not.
			return FormatUnknown
		}
		return f
	}

	ct := http.DetectContentType(data)
	switch {
	case strings.HasPrefix(ct, "application/pdf"):
		return FormatPDF
	case strings.HasPrefix(ct, "text/plain"):
		return FormatText
	default:
		return FormatUnknown
	}
}

// filenameFromURL returns the last path segment of rawURL, or "index.html"
// when the path is empty.
func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "index.html"
	}
	return name
}
