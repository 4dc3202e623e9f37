package rerank

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// Lexical scores passages by Ochiai (cosine) overlap of their lowercase word
// sets with the query. It makes no network calls and never fails.
type Lexical struct{}

// NewLexical returns a Lexical scorer.
func NewLexical() *Lexical { return &Lexical{} }

// Rerank returns one score in [0, 1] per passage in input order.
func (Lexical) Rerank(_ context.Context, query string, passages []string) ([]float32, error) {
	q := tokenSet(query)
	scores := make([]float32, len(passages))
	if len(q) == 0 {
		return scores, nil
	}
	for i, p := range passages {
		t := tokenSet(p)
		if len(t) == 0 {
			continue
		}
		shared := 0
		for w := range q {
			if _, ok := t[w]; ok {
				shared++
			}
		}
		scores[i] = float32(float64(shared) / math.Sqrt(float64(len(q))*float64(len(t))))
	}
	return scores, nil
}

// tokenSet splits s into lowercase letter/digit runs.
func tokenSet(s string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
