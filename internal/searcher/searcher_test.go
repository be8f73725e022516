package searcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/store"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/store/sqlstore"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/sqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHighlight(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		positions []int
		length    int
		want      string
	}{
		{"single", "call me ishmael", []int{8}, 7, "call me [ishmael]"},
		{"several", "whale and whale", []int{0, 10}, 5, "[whale] and [whale]"},
		{"unsorted", "whale and whale", []int{10, 0}, 5, "[whale] and [whale]"},
		{"out of range skipped", "whale", []int{0, 99}, 5, "[whale]"},
		{"clipped at end", "the whale", []int{4}, 10, "the [whale]"},
		{"overlap merged", "abcdef", []int{0, 2}, 3, "[abcde]f"},
		{"touching merged", "abcdef", []int{0, 3}, 3, "[abcdef]"},
		{"negative skipped", "abc", []int{-1}, 2, "abc"},
		{"no positions", "abc", nil, 2, "abc"},
		{"rune boundary", "café noir", []int{0}, 4, "[café] noir"},
		{"whole word", "call me ishmael.", []int{8}, 0, "call me [ishmael]."},
		{"whole word with marks", "a cafe\u0301 noir", []int{2}, 0, "a [cafe\u0301] noir"},
		{"whole word none at position", "a, b", []int{1}, 0, "a, b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Highlight(tt.text, tt.positions, tt.length, "[", "]"))
		})
	}
}

func TestSnippet(t *testing.T) {
	text := "It is a truth universally acknowledged, that a single man in possession of a good fortune"
	got := Snippet(text, []int{8}, 5, 4, "**", "**")
	assert.Equal(t, "...s a **truth** uni...", got)

	assert.Equal(t, "", Snippet(text, []int{1000}, 5, 10, "**", "**"))
}

func TestSnippet_HighlightsOriginalSpanWhenCaseChangesLength(t *testing.T) {
	text := "from İstanbul to Ankara"
	term := tokenizer.Normalize("İstanbul", "en")
	require.NotEqual(t, len("İstanbul"), len(term))

	tokens := tokenizer.Tokenize(text, "en")
	require.NotEmpty(t, tokens)
	var positions []int
	for _, tok := range tokens {
		if tok.Term == term {
			positions = append(positions, tok.Offset)
		}
	}
	require.Equal(t, []int{5}, positions)

	assert.Equal(t, "from [İstanbul] to Ankara", Snippet(text, positions, 0, 100, "[", "]"))
}

func newSearcher(t *testing.T) *Searcher {
	t.Helper()
	ctx := context.Background()
	client, err := sqldb.OpenSQLite(filepath.Join(t.TempDir(), "books.db"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	st := sqlstore.New(client, sqlstore.Options{})
	require.NoError(t, st.Migrate(ctx))

	books := []store.Book{
		{ID: 1, Title: "Moby Dick", Languages: []string{"en"}, Text: "The whale, the whale! Call me Ishmael."},
		{ID: 2, Title: "Twenty Thousand Leagues", Languages: []string{"en"}, Text: "A whale of a tale under the sea."},
	}
	for _, b := range books {
		_, _, err := st.UpsertBook(ctx, b)
		require.NoError(t, err)
		entries := index.Build(b.ID, tokenizer.Tokenize(b.Text, "en"), 0)
		_, err = st.InsertIndexEntries(ctx, b.ID, entries)
		require.NoError(t, err)
	}
	return New(st, nil, 10)
}

func TestLookup(t *testing.T) {
	s := newSearcher(t)
	hits, err := s.Lookup(context.Background(), "WHALE", "en", 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.EqualValues(t, 1, hits[0].BookID)
	assert.Equal(t, 2, hits[0].Occurrences)
	assert.Equal(t, []int{4, 15}, hits[0].Positions)
	assert.EqualValues(t, 2, hits[1].BookID)

	hits, err = s.Lookup(context.Background(), "kraken", "en", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = s.Lookup(context.Background(), "1851", "en", 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestScan(t *testing.T) {
	s := newSearcher(t)
	found, err := s.Scan(context.Background(), `call\s+me`, 0)
	require.NoError(t, err)
	assert.Equal(t, []store.BookSummary{{ID: 1, Title: "Moby Dick"}}, found)

	_, err = s.Scan(context.Background(), `(`, 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestLookup_CaseInsensitive(t *testing.T) {
	s := newSearcher(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := s.Lookup(ctx, "whale", "en", 5)
	require.NoError(t, err)
	second, err := s.Lookup(ctx, "Whale", "en", 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
