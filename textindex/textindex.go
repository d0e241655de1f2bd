// Package textindex seams the text-indexing term extractor spec.md treats
// as an external collaborator: given the owner id and the string value an
// attribute marked Indexed just received, an Indexer turns it into
// (owner-id, [term,...]) pairs for whatever search backend eventually
// stores them. Only the narrow interface the commit engine and Fulltext
// query operator consume is described here; no real backend is wired in.
package textindex

import (
	"context"
	"strings"
	"unicode"
)

// Indexer accepts emitted (owner, terms) pairs as attributes are written
// and can resolve a search string back to matching owner ids.
type Indexer interface {
	Index(ctx context.Context, ownerID string, terms []string) error
	Search(ctx context.Context, query string) ([]string, error)
}

// Tokenize splits text into lowercase terms on non-letter/non-digit
// boundaries, the minimal extraction any backend-specific Indexer can share
// regardless of how it stores the result.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, len(fields))
	for i, f := range fields {
		terms[i] = strings.ToLower(f)
	}
	return terms
}

// Noop is the seam's default implementation: text indexing is present in
// the schema but effectively disabled in the persistence step, so Index
// discards every pair and Search never reports a match. A real indexer
// satisfying Indexer can replace this without touching any caller.
type Noop struct{}

func (Noop) Index(ctx context.Context, ownerID string, terms []string) error { return nil }
func (Noop) Search(ctx context.Context, query string) ([]string, error)      { return nil, nil }
