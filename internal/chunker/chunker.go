// Package chunker splits extracted document text into bounded, overlapping
// passages suitable for embedding.
//
// Splitting is recursive: the text is cut on the coarsest separator that
// occurs in it (paragraph, then line, then word, then character), small
// pieces are merged back together up to the chunk size, and pieces that are
// still too large are split again with the next finer separator. Lengths are
// measured in characters, not bytes.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the maximum number of characters per chunk.
	DefaultChunkSize = 1000

	// DefaultOverlap is the number of trailing characters carried into the
	// next chunk.
	DefaultOverlap = 100
)

// DefaultSeparators lists split boundaries from most to least natural.
// The empty separator is a hard character cut.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Option configures a Splitter.
type Option func(*Splitter)

// WithChunkSize sets the maximum chunk length in characters.
func WithChunkSize(n int) Option {
	return func(s *Splitter) { s.size = n }
}

// WithOverlap sets the overlap between adjacent chunks in characters.
func WithOverlap(n int) Option {
	return func(s *Splitter) { s.overlap = n }
}

// WithSeparators replaces the separator priority list.
func WithSeparators(seps ...string) Option {
	return func(s *Splitter) {
		if len(seps) > 0 {
			s.separators = append([]string(nil), seps...)
		}
	}
}

// Splitter is a recursive character text splitter. It is stateless after
// construction and safe for concurrent use.
type Splitter struct {
	// size is the maximum chunk length in characters.
	size int

	// overlap is the maximum number of characters shared by adjacent chunks.
	overlap int

	// separators is the boundary priority list, coarsest first.
	separators []string
}

// New returns a Splitter. Out-of-range options are normalized: a
// non-positive size falls back to DefaultChunkSize, a negative overlap to
// zero, and an overlap not smaller than the size to a tenth of the size.
func New(opts ...Option) *Splitter {
	s := &Splitter{
		size:       DefaultChunkSize,
		overlap:    DefaultOverlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.size <= 0 {
		s.size = DefaultChunkSize
	}
	if s.overlap < 0 {
		s.overlap = 0
	}
	if s.overlap >= s.size {
		s.overlap = s.size / 10
	}
	return s
}

// Split cuts text with a Splitter built from opts.
func Split(text string, opts ...Option) []string {
	return New(opts...).Split(text)
}

// ChunkSize returns the configured maximum chunk length.
func (s *Splitter) ChunkSize() int { return s.size }

// Overlap returns the configured overlap.
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the chunks of text in document order. Every chunk is
// trimmed, non-empty and a contiguous substring of text; empty or
// whitespace-only input yields nil.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, span{0, len(text)}, s.separators)
}

// span is a byte range [start, end) of the text being split.
type span struct {
	start, end int
}

func (s *Splitter) split(text string, whole span, separators []string) []string {
	seg := text[whole.start:whole.end]
	separator := separators[len(separators)-1]
	var finer []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(seg, sep) {
			separator = sep
			finer = separators[i+1:]
			break
		}
	}

	var (
		chunks []string
		good   []span
	)
	for _, piece := range cut(seg, separator, whole.start) {
		if runeLen(text[piece.start:piece.end]) < s.size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, s.merge(text, good)...)
			good = nil
		}
		if len(finer) == 0 {
			if t := strings.TrimSpace(text[piece.start:piece.end]); t != "" {
				chunks = append(chunks, t)
			}
			continue
		}
		chunks = append(chunks, s.split(text, piece, finer)...)
	}
	if len(good) > 0 {
		chunks = append(chunks, s.merge(text, good)...)
	}
	return chunks
}

// cut returns the non-empty pieces of seg between occurrences of sep, as
// spans offset by base. An empty sep cuts between runes.
func cut(seg, sep string, base int) []span {
	var pieces []span
	if sep == "" {
		for i := 0; i < len(seg); {
			_, w := utf8.DecodeRuneInString(seg[i:])
			pieces = append(pieces, span{base + i, base + i + w})
			i += w
		}
		return pieces
	}
	for {
		i := strings.Index(seg, sep)
		if i < 0 {
			break
		}
		if i > 0 {
			pieces = append(pieces, span{base, base + i})
		}
		base += i + len(sep)
		seg = seg[i+len(sep):]
	}
	if seg != "" {
		pieces = append(pieces, span{base, base + len(seg)})
	}
	return pieces
}

// merge greedily packs consecutive pieces into chunks no longer than the
// chunk size, carrying up to overlap characters of trailing pieces into the
// next chunk. A chunk is the original text from its first piece to its last,
// separators included.
func (s *Splitter) merge(text string, pieces []span) []string {
	length := func(from, to span) int {
		return runeLen(text[from.start:to.end])
	}

	var (
		chunks  []string
		current []span
	)
	emit := func() {
		if len(current) == 0 {
			return
		}
		if chunk := strings.TrimSpace(text[current[0].start:current[len(current)-1].end]); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, piece := range pieces {
		if len(current) > 0 && length(current[0], piece) > s.size {
			emit()
			for len(current) > 0 &&
				(length(current[0], current[len(current)-1]) > s.overlap || length(current[0], piece) > s.size) {
				current = current[1:]
			}
		}
		current = append(current, piece)
	}
	emit()
	return chunks
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
