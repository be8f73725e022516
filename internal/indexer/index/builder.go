// Package index turns a book's token stream into index entries: one entry
// per distinct term with its occurrence count and ordered byte offsets.
package index

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/store"
)

// Build groups tokens by term. Entries are sorted by word; positions keep
// token order. When maxPositions > 0 each position list is cut to that
// length and the occurrence count follows it, so Occurrences always equals
// len(Positions).
func Build(bookID int64, tokens []tokenizer.Token, maxPositions int) []store.IndexEntry {
	byTerm := make(map[string]*store.IndexEntry, len(tokens)/4)
	for _, tok := range tokens {
		e, ok := byTerm[tok.Term]
		if !ok {
			e = &store.IndexEntry{
				Word:      tok.Term,
				BookID:    bookID,
				Positions: make([]int, 0, 4),
			}
			byTerm[tok.Term] = e
		}
		if maxPositions > 0 && len(e.Positions) >= maxPositions {
			continue
		}
		e.Positions = append(e.Positions, tok.Offset)
		e.Occurrences++
	}

	entries := make([]store.IndexEntry, 0, len(byTerm))
	for _, e := range byTerm {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Word < entries[j].Word
	})
	return entries
}
