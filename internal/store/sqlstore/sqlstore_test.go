package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/sqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	client, err := sqldb.OpenSQLite(filepath.Join(t.TempDir(), "books.db"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	s := New(client, Options{BatchSize: 3})
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func intp(v int) *int { return &v }

func sampleBook() store.Book {
	return store.Book{
		ID:            42,
		Title:         "Moby Dick",
		Languages:     []string{"en"},
		Subjects:      []string{"Whaling", "Sea stories"},
		Bookshelves:   []string{"Best Books Ever Listings"},
		DownloadCount: 1234,
		Text:          "Call me Ishmael. Some years ago, never mind how long.",
		Authors: []store.Author{
			{Name: "Melville, Herman", BirthYear: intp(1819), DeathYear: intp(1891)},
		},
	}
}

func TestUpsertBook_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	stored, created, err := s.UpsertBook(ctx, sampleBook())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Moby Dick", stored.Title)
	assert.Equal(t, []string{"Whaling", "Sea stories"}, stored.Subjects)
	require.Len(t, stored.Authors, 1)
	assert.Equal(t, 1819, *stored.Authors[0].BirthYear)

	changed := sampleBook()
	changed.Title = "Something Else"
	stored, created, err = s.UpsertBook(ctx, changed)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Moby Dick", stored.Title, "existing books are never updated")

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Counts{Books: 1, BooksWithText: 1, Authors: 1, BookAuthors: 1}, counts)
}

func TestUpsertBook_MetadataOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	b := sampleBook()
	b.Text = ""
	_, _, err := s.UpsertBook(ctx, b)
	require.NoError(t, err)

	got, err := s.GetBook(ctx, 42)
	require.NoError(t, err)
	assert.False(t, got.HasText())

	ids, err := s.BookIDsWithText(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestUpsertBook_AuthorsSharedAcrossBooks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	b1 := sampleBook()
	b2 := sampleBook()
	b2.ID = 2701
	b2.Authors = append(b2.Authors, store.Author{Name: "Anonymous"}, store.Author{Name: "Melville, Herman"})

	_, _, err := s.UpsertBook(ctx, b1)
	require.NoError(t, err)
	stored, _, err := s.UpsertBook(ctx, b2)
	require.NoError(t, err)
	require.Len(t, stored.Authors, 2)
	assert.Equal(t, "Anonymous", stored.Authors[0].Name)
	assert.Nil(t, stored.Authors[0].BirthYear)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts.Authors)
	assert.EqualValues(t, 3, counts.BookAuthors)
}

func TestUpsertAuthor_ConcurrentCreatesOneRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const workers = 8
	var wg sync.WaitGroup
	ids := make([]int64, workers)
	created := make([]bool, workers)
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, c, err := s.UpsertAuthor(ctx, store.Author{Name: "Austen, Jane"})
			ids[i], created[i], errs[i] = a.ID, c, err
		}()
	}
	wg.Wait()

	creators := 0
	for i := range workers {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			creators++
		}
	}
	assert.Equal(t, 1, creators)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Authors)
}

func TestGetBook_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetBook(context.Background(), 99)
	assert.ErrorIs(t, err, apperrors.ErrBookNotFound)
}

func TestInsertIndexEntries_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, _, err := s.UpsertBook(ctx, sampleBook())
	require.NoError(t, err)

	entries := []store.IndexEntry{
		{Word: "call", BookID: 42, Occurrences: 1, Positions: []int{0}},
		{Word: "ishmael", BookID: 42, Occurrences: 1, Positions: []int{8}},
		{Word: "long", BookID: 42, Occurrences: 1, Positions: []int{49}},
		{Word: "mind", BookID: 42, Occurrences: 1, Positions: []int{39}},
		{Word: "years", BookID: 42, Occurrences: 1, Positions: []int{22}},
	}
	n, err := s.InsertIndexEntries(ctx, 42, entries)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	n, err = s.InsertIndexEntries(ctx, 42, entries)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	hits, err := s.LookupWord(ctx, "ishmael", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, store.Hit{BookID: 42, Title: "Moby Dick", Occurrences: 1, Positions: []int{8}}, hits[0])

	ids, err := s.BookIDsWithText(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestInsertIndexEntries_RejectsMismatchedCounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, _, err := s.UpsertBook(ctx, sampleBook())
	require.NoError(t, err)

	_, err = s.InsertIndexEntries(ctx, 42, []store.IndexEntry{
		{Word: "call", BookID: 42, Occurrences: 2, Positions: []int{0}},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestLookupWord_OrdersByOccurrences(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for id := int64(1); id <= 3; id++ {
		b := sampleBook()
		b.ID = id
		b.Title = fmt.Sprintf("Book %d", id)
		_, _, err := s.UpsertBook(ctx, b)
		require.NoError(t, err)

		positions := make([]int, id)
		for i := range positions {
			positions[i] = i * 10
		}
		_, err = s.InsertIndexEntries(ctx, id, []store.IndexEntry{
			{Word: "whale", BookID: id, Occurrences: int(id), Positions: positions},
		})
		require.NoError(t, err)
	}

	hits, err := s.LookupWord(ctx, "whale", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.EqualValues(t, 3, hits[0].BookID)
	assert.EqualValues(t, 2, hits[1].BookID)

	hits, err = s.LookupWord(ctx, "kraken", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestScanText_CaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, _, err := s.UpsertBook(ctx, sampleBook())
	require.NoError(t, err)

	found, err := s.ScanText(ctx, `ISHMAEL\.`, 10)
	require.NoError(t, err)
	assert.Equal(t, []store.BookSummary{{ID: 42, Title: "Moby Dick"}}, found)

	found, err = s.ScanText(ctx, `queequeg`, 10)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSaveRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	report, _ := json.Marshal(map[string]int{"created": 3})
	start := time.Now()
	err := s.SaveRun(ctx, store.Run{
		ID:         "run-1",
		Kind:       store.RunIngest,
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		Report:     report,
	})
	require.NoError(t, err)

	var kind, stored string
	err = s.db.DB.QueryRowContext(ctx, `SELECT kind, report FROM ingest_runs WHERE id = $1`, "run-1").Scan(&kind, &stored)
	require.NoError(t, err)
	assert.Equal(t, store.RunIngest, kind)
	assert.JSONEq(t, `{"created":3}`, stored)
}
