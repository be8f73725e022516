// Package indexer builds the word index of stored books. Engine indexes one
// book; Coordinator runs Engine over every book with text on a bounded
// worker pool.
package indexer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/tracing"
)

// Result describes one indexed book.
type Result struct {
	BookID   int64
	Tokens   int
	Entries  int
	Inserted int64
	Elapsed  time.Duration
}

type Engine struct {
	store        store.Store
	maxPositions int
	metrics      *metrics.Metrics
}

// NewEngine creates an engine. maxPositions caps stored positions per
// entry; 0 keeps them all.
func NewEngine(st store.Store, maxPositions int, m *metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Engine{store: st, maxPositions: maxPositions, metrics: m}
}

// IndexBook tokenizes the stored text of a book and inserts its entries.
// Entries that already exist are left untouched, so indexing a book twice
// inserts nothing the second time. A book without text yields ErrNoText.
func (e *Engine) IndexBook(ctx context.Context, bookID int64) (Result, error) {
	start := time.Now()
	ctx, root := tracing.StartSpan(ctx, "index_book", strconv.FormatInt(bookID, 10))
	log := logger.FromContext(ctx).With("component", "indexer", "book_id", bookID)
	defer func() {
		root.End()
		root.Log(ctx, log)
	}()

	_, span := tracing.StartChildSpan(ctx, "load")
	book, err := e.store.GetBook(ctx, bookID)
	span.End()
	if err != nil {
		return Result{}, fmt.Errorf("loading book %d: %w", bookID, err)
	}
	if !book.HasText() {
		return Result{}, apperrors.New(apperrors.ErrNoText, bookID, "book has no stored text")
	}

	_, span = tracing.StartChildSpan(ctx, "tokenize")
	tokens := tokenizer.Tokenize(book.Text, book.PrimaryLanguage())
	entries := index.Build(bookID, tokens, e.maxPositions)
	span.SetAttr("tokens", len(tokens))
	span.SetAttr("entries", len(entries))
	span.End()

	_, span = tracing.StartChildSpan(ctx, "persist")
	inserted, err := e.store.InsertIndexEntries(ctx, bookID, entries)
	span.SetAttr("inserted", inserted)
	span.End()
	if err != nil {
		return Result{}, err
	}

	res := Result{
		BookID:   bookID,
		Tokens:   len(tokens),
		Entries:  len(entries),
		Inserted: inserted,
		Elapsed:  time.Since(start),
	}
	e.metrics.IndexDuration.Observe(res.Elapsed.Seconds())
	e.metrics.IndexEntriesInserted.Add(float64(inserted))
	log.Info("book indexed",
		"title", book.Title,
		"tokens", res.Tokens,
		"entries", res.Entries,
		"inserted", res.Inserted,
		"elapsed", res.Elapsed,
	)
	return res, nil
}
