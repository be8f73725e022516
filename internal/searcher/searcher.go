// Package searcher is the read path over the book index: exact-word lookup,
// a regular-expression scan over stored text, and highlight rendering from
// stored positions.
package searcher

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/errors"
)

const maxLimit = 1000

type Searcher struct {
	store        store.Store
	cache        *cache.QueryCache
	defaultLimit int
	logger       *slog.Logger
}

// New creates a Searcher. qc may be nil to disable caching.
func New(s store.Store, qc *cache.QueryCache, defaultLimit int) *Searcher {
	if defaultLimit <= 0 {
		defaultLimit = 20
	}
	return &Searcher{
		store:        s,
		cache:        qc,
		defaultLimit: defaultLimit,
		logger:       slog.Default().With("component", "searcher"),
	}
}

func (s *Searcher) clampLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	return min(limit, maxLimit)
}

// Lookup normalises word with the indexing rule and returns the books that
// contain it, most occurrences first. The language only affects casing.
func (s *Searcher) Lookup(ctx context.Context, word, lang string, limit int) ([]store.Hit, error) {
	term := tokenizer.Normalize(word, lang)
	if term == "" {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, 0, "%q contains no letters", word)
	}
	limit = s.clampLimit(limit)
	start := time.Now()

	compute := func() ([]store.Hit, error) {
		return s.store.LookupWord(ctx, term, limit)
	}
	var (
		hits   []store.Hit
		cached bool
		err    error
	)
	if s.cache != nil {
		hits, cached, err = s.cache.GetOrCompute(ctx, term, limit, compute)
	} else {
		hits, err = compute()
	}
	if err != nil {
		return nil, fmt.Errorf("looking up %q: %w", term, err)
	}
	s.logger.Debug("lookup", "term", term, "hits", len(hits), "cached", cached, "latency", time.Since(start))
	return hits, nil
}

// Scan returns books whose stored text matches pattern, ignoring case. It
// is the fallback when Lookup finds nothing.
func (s *Searcher) Scan(ctx context.Context, pattern string, limit int) ([]store.BookSummary, error) {
	if _, err := regexp.Compile("(?i)" + pattern); err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, 0, "bad pattern: %v", err)
	}
	found, err := s.store.ScanText(ctx, pattern, s.clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Highlight wraps the spans [p, p+length) of text in open and close. A
// length of zero or less wraps the whole term starting at each position.
// Positions at or past the end of text are skipped, a span that crosses the
// end is clipped, and overlapping or touching spans are merged. Spans that
// would split a UTF-8 sequence are widened to rune boundaries.
func Highlight(text string, positions []int, length int, open, close string) string {
	if len(positions) == 0 {
		return text
	}
	type span struct{ start, end int }
	spans := make([]span, 0, len(positions))
	for _, p := range positions {
		if p < 0 || p >= len(text) {
			continue
		}
		end := spanEnd(text, p, length)
		if end <= p {
			continue
		}
		spans = append(spans, span{runeStart(text, p), runeEnd(text, end)})
	}
	if len(spans) == 0 {
		return text
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	merged := spans[:1]
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			last.end = max(last.end, sp.end)
			continue
		}
		merged = append(merged, sp)
	}

	var sb strings.Builder
	sb.Grow(len(text) + len(merged)*(len(open)+len(close)))
	prev := 0
	for _, sp := range merged {
		sb.WriteString(text[prev:sp.start])
		sb.WriteString(open)
		sb.WriteString(text[sp.start:sp.end])
		sb.WriteString(close)
		prev = sp.end
	}
	sb.WriteString(text[prev:])
	return sb.String()
}

// Snippet returns the text around the first in-range position, with every
// position inside the window highlighted. length follows Highlight.
func Snippet(text string, positions []int, length, radius int, open, close string) string {
	first := -1
	for _, p := range positions {
		if p >= 0 && p < len(text) {
			first = p
			break
		}
	}
	if first < 0 {
		return ""
	}
	from := runeStart(text, max(0, first-radius))
	to := runeEnd(text, min(len(text), spanEnd(text, first, length)+radius))

	var local []int
	for _, p := range positions {
		if p >= from && p < to {
			local = append(local, p-from)
		}
	}
	out := Highlight(text[from:to], local, length, open, close)
	out = strings.Join(strings.Fields(out), " ")
	if from > 0 {
		out = "..." + out
	}
	if to < len(text) {
		out += "..."
	}
	return out
}

func spanEnd(text string, p, length int) int {
	if length <= 0 {
		return tokenizer.WordEnd(text, p)
	}
	return min(p+length, len(text))
}

func runeStart(s string, i int) int {
	for i > 0 && i < len(s) && !isRuneStart(s[i]) {
		i--
	}
	return i
}

func runeEnd(s string, i int) int {
	for i < len(s) && !isRuneStart(s[i]) {
		i++
	}
	return i
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
