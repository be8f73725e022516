package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/fetcher"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Outcome labels what happened to one catalog record.
type Outcome string

const (
	OutcomeInvalid      Outcome = "invalid"
	OutcomeNoText       Outcome = "no_text"
	OutcomeTooShort     Outcome = "too_short"
	OutcomeCreated      Outcome = "created"
	OutcomeExisting     Outcome = "existing"
	OutcomeMetadataOnly Outcome = "metadata_only"
	OutcomeStub         Outcome = "stub"
	OutcomeFailed       Outcome = "failed"
	OutcomeCapped       Outcome = "capped"
)

// RecordSource yields catalog records. *catalog.Client implements it.
type RecordSource interface {
	Records(ctx context.Context, limit int) iter.Seq2[catalog.Record, error]
}

// TextFetcher downloads a record's body. *fetcher.Fetcher implements it.
type TextFetcher interface {
	Fetch(ctx context.Context, rec catalog.Record) (fetcher.Result, error)
}

// EventPublisher announces newly created books. Implementations must not
// block for long and must not fail the caller.
type EventPublisher interface {
	BookIngested(ctx context.Context, ev BookIngestedEvent)
}

type Options struct {
	// MaxBooks caps books stored with text in one run; 0 means no cap.
	MaxBooks int
	Workers  int
	// MaxRecords stops reading the catalog after this many records; 0
	// means read to the end.
	MaxRecords       int
	MinWordCount int
	// KeepMetadataOnly stores books that fail the text filter without
	// text. Later runs leave such stubs alone and report them as "stub".
	KeepMetadataOnly bool
	// RunID identifies the run; a random UUID is used when empty.
	RunID string
	// OnRecord is called once per finished record, from worker goroutines.
	OnRecord func(rec catalog.Record, outcome Outcome)
}

type Coordinator struct {
	source    RecordSource
	fetcher   TextFetcher
	store     store.Store
	publisher EventPublisher
	metrics   *metrics.Metrics
	opts      Options

	reserved atomic.Int64
	ingested atomic.Int64
}

// New wires a coordinator. pub may be nil.
func New(source RecordSource, f TextFetcher, st store.Store, pub EventPublisher, m *metrics.Metrics, opts Options) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Coordinator{
		source:    source,
		fetcher:   f,
		store:     st,
		publisher: pub,
		metrics:   m,
		opts:      opts,
	}
}

// Ingested returns the number of books stored with text so far in the
// current run.
func (c *Coordinator) Ingested() int64 {
	return c.ingested.Load()
}

type tally struct {
	scanned, invalid, noText, tooShort, created, existing atomic.Int64
	metadataOnly, stub, failed, capped                    atomic.Int64
}

func (t *tally) add(o Outcome) {
	switch o {
	case OutcomeInvalid:
		t.invalid.Add(1)
	case OutcomeNoText:
		t.noText.Add(1)
	case OutcomeTooShort:
		t.tooShort.Add(1)
	case OutcomeCreated:
		t.created.Add(1)
	case OutcomeExisting:
		t.existing.Add(1)
	case OutcomeMetadataOnly:
		t.metadataOnly.Add(1)
	case OutcomeStub:
		t.stub.Add(1)
	case OutcomeFailed:
		t.failed.Add(1)
	case OutcomeCapped:
		t.capped.Add(1)
	}
}

// Run ingests the catalog until it is exhausted, the cap is reached or ctx
// is cancelled. Records already handed to workers are finished. The report
// is returned, and saved, even when the run is cut short by a feed failure.
func (c *Coordinator) Run(ctx context.Context) (Report, error) {
	runID := c.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx).With("component", "ingestion")
	c.reserved.Store(0)
	c.ingested.Store(0)

	start := time.Now()
	log.Info("ingestion started",
		"max_books", c.opts.MaxBooks,
		"workers", c.opts.Workers,
		"min_word_count", c.opts.MinWordCount,
	)

	var t tally
	jobs := make(chan catalog.Record, c.opts.Workers)
	var g errgroup.Group

	g.Go(func() error {
		defer close(jobs)
		for rec, err := range c.source.Records(ctx, c.opts.MaxRecords) {
			if err != nil {
				return err
			}
			if c.capReached() {
				log.Info("book cap reached, no more records scheduled", "ingested", c.Ingested())
				return nil
			}
			t.scanned.Add(1)
			if err := validator.Validate(&rec); err != nil {
				log.Warn("invalid catalog record", "error", err)
				c.finish(&t, rec, OutcomeInvalid)
				continue
			}
			select {
			case jobs <- rec:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for range c.opts.Workers {
		g.Go(func() error {
			for rec := range jobs {
				c.metrics.IngestWorkersBusy.Inc()
				outcome := c.process(ctx, log, runID, rec)
				c.metrics.IngestWorkersBusy.Dec()
				c.finish(&t, rec, outcome)
			}
			return nil
		})
	}

	runErr := g.Wait()
	report := Report{
		RunID:        runID,
		Scanned:      t.scanned.Load(),
		Invalid:      t.invalid.Load(),
		NoText:       t.noText.Load(),
		TooShort:     t.tooShort.Load(),
		Created:      t.created.Load(),
		Existing:     t.existing.Load(),
		MetadataOnly: t.metadataOnly.Load(),
		Stub:         t.stub.Load(),
		Failed:       t.failed.Load(),
		Capped:       t.capped.Load(),
		Elapsed:      time.Since(start),
	}
	if runErr != nil {
		report.Aborted = runErr.Error()
		log.Error("ingestion aborted", "error", runErr)
	}
	if err := c.saveRun(context.WithoutCancel(ctx), start, report); err != nil {
		log.Error("failed to save run report", "error", err)
	}
	log.Info("ingestion finished",
		"scanned", report.Scanned,
		"created", report.Created,
		"existing", report.Existing,
		"no_text", report.NoText,
		"too_short", report.TooShort,
		"stub", report.Stub,
		"failed", report.Failed,
		"capped", report.Capped,
		"elapsed", report.Elapsed,
	)
	if runErr != nil {
		return report, fmt.Errorf("ingestion run %s: %w", runID, runErr)
	}
	return report, nil
}

func (c *Coordinator) finish(t *tally, rec catalog.Record, o Outcome) {
	t.add(o)
	c.metrics.BooksProcessedTotal.WithLabelValues(string(o)).Inc()
	if c.opts.OnRecord != nil {
		c.opts.OnRecord(rec, o)
	}
}

func (c *Coordinator) capReached() bool {
	return c.opts.MaxBooks > 0 && c.ingested.Load() >= int64(c.opts.MaxBooks)
}

// slotsTaken reports whether every MaxBooks slot is held, counting books
// still being written.
func (c *Coordinator) slotsTaken() bool {
	return c.opts.MaxBooks > 0 && c.reserved.Load() >= int64(c.opts.MaxBooks)
}

// reserve claims one of the MaxBooks slots.
func (c *Coordinator) reserve() bool {
	if c.opts.MaxBooks <= 0 {
		c.reserved.Add(1)
		return true
	}
	for {
		n := c.reserved.Load()
		if n >= int64(c.opts.MaxBooks) {
			return false
		}
		if c.reserved.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (c *Coordinator) release() {
	c.reserved.Add(-1)
}

// process handles one record end to end. Errors never leave this function;
// they become the record's outcome.
func (c *Coordinator) process(ctx context.Context, log *slog.Logger, runID string, rec catalog.Record) Outcome {
	log = log.With("book_id", rec.ID)

	// records queued before the cap filled are dropped without a download
	if c.slotsTaken() {
		return OutcomeCapped
	}

	existing, err := c.store.GetBook(ctx, rec.ID)
	switch {
	case err == nil && existing.HasText():
		if !c.reserve() {
			return OutcomeCapped
		}
		c.ingested.Add(1)
		log.Debug("book already stored")
		return OutcomeExisting
	case err == nil:
		// an earlier run kept only the metadata; its text is not retried
		log.Debug("book stored without text")
		return OutcomeStub
	case !errors.Is(err, apperrors.ErrBookNotFound):
		log.Error("checking stored book", "error", err)
		return OutcomeFailed
	}

	res, err := c.fetcher.Fetch(ctx, rec)
	switch {
	case errors.Is(err, apperrors.ErrNoText):
		return c.skip(ctx, log, rec, OutcomeNoText)
	case err != nil:
		log.Error("text fetch failed", "error", err)
		return OutcomeFailed
	case res.WordCount < c.opts.MinWordCount:
		log.Debug("skipping book", "error", apperrors.Newf(apperrors.ErrTooShort, rec.ID, "%d words, need %d", res.WordCount, c.opts.MinWordCount))
		return c.skip(ctx, log, rec, OutcomeTooShort)
	}

	if !c.reserve() {
		log.Debug("book cap reached, dropping fetched book")
		return OutcomeCapped
	}
	stored, created, err := c.store.UpsertBook(ctx, toBook(rec, res.Text))
	if err != nil {
		c.release()
		log.Error("persisting book failed", "error", err)
		return OutcomeFailed
	}
	c.ingested.Add(1)

	if !created {
		return OutcomeExisting
	}
	log.Info("book stored",
		"title", stored.Title,
		"word_count", res.WordCount,
		"truncated", res.Truncated,
		"authors", len(stored.Authors),
	)
	if c.publisher != nil {
		c.publisher.BookIngested(ctx, BookIngestedEvent{
			BookID:     stored.ID,
			Title:      stored.Title,
			Language:   strings.Join(stored.Languages, ", "),
			WordCount:  res.WordCount,
			RunID:      runID,
			IngestedAt: time.Now().UTC(),
		})
	}
	return OutcomeCreated
}

// skip records a book that failed the text filter, storing it without text
// when metadata-only stubs are enabled.
func (c *Coordinator) skip(ctx context.Context, log *slog.Logger, rec catalog.Record, why Outcome) Outcome {
	if !c.opts.KeepMetadataOnly {
		return why
	}
	if _, _, err := c.store.UpsertBook(ctx, toBook(rec, "")); err != nil {
		log.Error("persisting metadata-only book failed", "error", err)
		return OutcomeFailed
	}
	return OutcomeMetadataOnly
}

func toBook(rec catalog.Record, text string) store.Book {
	b := store.Book{
		ID:            rec.ID,
		Title:         rec.Title,
		Languages:     rec.Languages,
		Subjects:      rec.Subjects,
		Bookshelves:   rec.Bookshelves,
		CoverImage:    rec.Formats["image/jpeg"],
		DownloadCount: rec.DownloadCount,
		Copyright:     rec.Copyright != nil && *rec.Copyright,
		Text:          text,
	}
	if len(rec.Summaries) > 0 {
		b.Description = rec.Summaries[0]
	}
	for _, a := range rec.Authors {
		b.Authors = append(b.Authors, store.Author{Name: a.Name, BirthYear: a.BirthYear, DeathYear: a.DeathYear})
	}
	return b
}

func (c *Coordinator) saveRun(ctx context.Context, start time.Time, report Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return c.store.SaveRun(ctx, store.Run{
		ID:         report.RunID,
		Kind:       store.RunIngest,
		StartedAt:  start,
		FinishedAt: start.Add(report.Elapsed),
		Report:     data,
	})
}
