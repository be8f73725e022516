package index

import (
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_QuickFox(t *testing.T) {
	text := "The Quick, Quick Fox!"
	entries := Build(7, tokenizer.Tokenize(text, "en"), 0)

	assert.Equal(t, []store.IndexEntry{
		{Word: "fox", BookID: 7, Occurrences: 1, Positions: []int{17}},
		{Word: "quick", BookID: 7, Occurrences: 2, Positions: []int{4, 11}},
	}, entries)
}

func TestBuild_CountMatchesPositions(t *testing.T) {
	text := strings.Repeat("whale ship whale sea ", 50)
	entries := Build(1, tokenizer.Tokenize(text, "en"), 0)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, len(e.Positions), e.Occurrences, e.Word)
	}
	assert.Equal(t, 100, entries[2].Occurrences)
}

func TestBuild_PositionCapKeepsInvariant(t *testing.T) {
	text := strings.Repeat("whale ", 20)
	entries := Build(1, tokenizer.Tokenize(text, "en"), 5)
	require.Len(t, entries, 1)
	assert.Equal(t, 5, entries[0].Occurrences)
	assert.Equal(t, []int{0, 6, 12, 18, 24}, entries[0].Positions)
}

func TestBuild_Empty(t *testing.T) {
	assert.Empty(t, Build(1, nil, 0))
	assert.Empty(t, Build(1, tokenizer.Tokenize("the and of", "en"), 0))
}

func BenchmarkBuild(b *testing.B) {
	tokens := tokenizer.Tokenize(strings.Repeat("Call me Ishmael. Some years ago, never mind how long precisely. ", 2000), "en")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Build(1, tokens, 0)
	}
}
