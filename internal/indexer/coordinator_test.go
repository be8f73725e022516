package indexer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/store"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/store/sqlstore"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/sqldb"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	client, err := sqldb.OpenSQLite(filepath.Join(t.TempDir(), "books.db"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	st := sqlstore.New(client, sqlstore.Options{BatchSize: 7})
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seed(t *testing.T, st store.Store, books ...store.Book) {
	t.Helper()
	for _, b := range books {
		_, _, err := st.UpsertBook(context.Background(), b)
		require.NoError(t, err)
	}
}

type countingCache struct {
	mu sync.Mutex
	n  int
}

func (c *countingCache) Invalidate(context.Context) error {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return nil
}

func TestEngine_IndexBook(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st, store.Book{ID: 1, Title: "Fox", Languages: []string{"en"}, Text: "The Quick, Quick Fox!"})

	e := NewEngine(st, 0, nil)
	res, err := e.IndexBook(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Tokens)
	assert.Equal(t, 2, res.Entries)
	assert.EqualValues(t, 2, res.Inserted)

	hits, err := st.LookupWord(ctx, "quick", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 2, hits[0].Occurrences)
	assert.Equal(t, []int{4, 11}, hits[0].Positions)

	res, err = e.IndexBook(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.Inserted, "re-indexing is a no-op")

	hits, err = st.LookupWord(ctx, "quick", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, hits[0].Occurrences, "counts are never doubled")
}

func TestEngine_Errors(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st, store.Book{ID: 2, Title: "Stub"})

	e := NewEngine(st, 0, nil)
	_, err := e.IndexBook(ctx, 2)
	assert.ErrorIs(t, err, apperrors.ErrNoText)
	_, err = e.IndexBook(ctx, 99)
	assert.ErrorIs(t, err, apperrors.ErrBookNotFound)
}

func TestCoordinator_Run(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st,
		store.Book{ID: 1, Title: "One", Languages: []string{"en"}, Text: "whale ship sea whale"},
		store.Book{ID: 2, Title: "Deux", Languages: []string{"fr"}, Text: "le chat et la souris"},
		store.Book{ID: 3, Title: "Stub"},
	)
	cache := &countingCache{}
	m := metrics.NewNop()
	var seen sync.Map

	c := NewCoordinator(NewEngine(st, 0, m), st, cache, m, Options{
		Workers: 2,
		RunID:   "idx-1",
		OnBook:  func(id int64, err error) { seen.Store(id, err) },
	})
	report, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, "idx-1", report.RunID)
	assert.EqualValues(t, 2, report.Candidates)
	assert.EqualValues(t, 2, report.Indexed)
	assert.EqualValues(t, 5, report.Inserted)
	assert.Equal(t, 1, cache.n)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BooksIndexedTotal.WithLabelValues("ok")))
	_, ok := seen.Load(int64(2))
	assert.True(t, ok)

	report, err = c.Run(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.Unchanged)
	assert.EqualValues(t, 0, report.Inserted)
	assert.Equal(t, 1, cache.n, "unchanged index keeps the cache")

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, counts.IndexEntries)
}

func TestCoordinator_OnlyUnindexed(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st, store.Book{ID: 1, Title: "One", Text: "whale"})

	_, err := NewCoordinator(NewEngine(st, 0, nil), st, nil, nil, Options{}).Run(ctx)
	require.NoError(t, err)

	seed(t, st, store.Book{ID: 2, Title: "Two", Text: "kraken"})
	report, err := NewCoordinator(NewEngine(st, 0, nil), st, nil, nil, Options{OnlyUnindexed: true}).Run(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Candidates)
	assert.EqualValues(t, 1, report.Indexed)
}

type slowStore struct {
	store.Store
}

func (s slowStore) GetBook(ctx context.Context, id int64) (store.Book, error) {
	if id == 1 {
		<-ctx.Done()
		return store.Book{}, ctx.Err()
	}
	return s.Store.GetBook(ctx, id)
}

func TestCoordinator_FailureDoesNotStopBatch(t *testing.T) {
	ctx := context.Background()
	base := newStore(t)
	seed(t, base,
		store.Book{ID: 1, Title: "Slow", Text: "whale"},
		store.Book{ID: 2, Title: "Fast", Text: "kraken"},
	)
	st := slowStore{Store: base}

	c := NewCoordinator(NewEngine(st, 0, nil), st, nil, nil, Options{Workers: 1, BookTimeout: 20 * time.Millisecond})
	report, err := c.Run(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Failed)
	assert.EqualValues(t, 1, report.Indexed)
}

func TestCoordinator_TimeoutIsClassified(t *testing.T) {
	ctx := context.Background()
	base := newStore(t)
	seed(t, base, store.Book{ID: 1, Title: "Slow", Text: "whale"})
	st := slowStore{Store: base}

	var got error
	c := NewCoordinator(NewEngine(st, 0, nil), st, nil, nil, Options{
		BookTimeout: 10 * time.Millisecond,
		OnBook:      func(_ int64, err error) { got = err },
	})
	_, err := c.Run(ctx)
	require.NoError(t, err)
	assert.True(t, errors.Is(got, apperrors.ErrTimeout))
}

type panickyStore struct {
	store.Store
}

func (s panickyStore) GetBook(ctx context.Context, id int64) (store.Book, error) {
	if id == 1 {
		panic("corrupt row")
	}
	return s.Store.GetBook(ctx, id)
}

func TestCoordinator_PanicCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	base := newStore(t)
	seed(t, base,
		store.Book{ID: 1, Title: "Broken", Text: "whale"},
		store.Book{ID: 2, Title: "Fine", Text: "whale song"},
	)
	st := panickyStore{Store: base}

	var mu sync.Mutex
	errs := map[int64]error{}
	c := NewCoordinator(NewEngine(st, 0, nil), st, nil, nil, Options{
		Workers: 2,
		OnBook: func(id int64, err error) {
			mu.Lock()
			errs[id] = err
			mu.Unlock()
		},
	})
	report, err := c.Run(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Failed)
	assert.EqualValues(t, 1, report.Indexed)
	require.Error(t, errs[1])
	assert.Contains(t, errs[1].Error(), "corrupt row")
	assert.NoError(t, errs[2])
}
