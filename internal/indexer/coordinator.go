package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/resilience"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// CacheInvalidator drops cached search results after the index changes.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

type Options struct {
	Workers int
	// BookTimeout bounds the work on one book; 0 means no limit.
	BookTimeout time.Duration
	// OnlyUnindexed skips books that already have index entries.
	OnlyUnindexed bool
	RunID         string
	// OnBook is called once per finished book, from worker goroutines.
	OnBook func(bookID int64, err error)
}

// Report summarises one indexing run.
type Report struct {
	RunID      string        `json:"run_id"`
	Candidates int64         `json:"candidates"`
	Indexed    int64         `json:"indexed"`
	Unchanged  int64         `json:"unchanged"`
	Failed     int64         `json:"failed"`
	Inserted   int64         `json:"entries_inserted"`
	Elapsed    time.Duration `json:"elapsed"`
}

type Coordinator struct {
	engine  *Engine
	store   store.Store
	cache   CacheInvalidator
	metrics *metrics.Metrics
	opts    Options
}

// NewCoordinator wires a coordinator. cache may be nil.
func NewCoordinator(engine *Engine, st store.Store, cache CacheInvalidator, m *metrics.Metrics, opts Options) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Coordinator{engine: engine, store: st, cache: cache, metrics: m, opts: opts}
}

// Run indexes every book with stored text. A failing book is logged and
// counted; it never stops the others. The returned error is non-nil only if
// the candidate list could not be read or ctx was cancelled.
func (c *Coordinator) Run(ctx context.Context) (Report, error) {
	runID := c.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx).With("component", "index-coordinator")
	start := time.Now()

	ids, err := c.store.BookIDsWithText(ctx, c.opts.OnlyUnindexed)
	if err != nil {
		return Report{RunID: runID}, fmt.Errorf("listing candidate books: %w", err)
	}
	log.Info("indexing started", "candidates", len(ids), "workers", c.opts.Workers, "only_unindexed", c.opts.OnlyUnindexed)

	var indexed, unchanged, failed, inserted atomic.Int64
	jobs := make(chan int64)
	var g errgroup.Group

	g.Go(func() error {
		defer close(jobs)
		for _, id := range ids {
			select {
			case jobs <- id:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for range c.opts.Workers {
		g.Go(func() error {
			for id := range jobs {
				c.metrics.IndexWorkersBusy.Inc()
				res, err := c.indexOne(ctx, id)
				c.metrics.IndexWorkersBusy.Dec()

				switch {
				case err != nil:
					failed.Add(1)
					c.metrics.BooksIndexedTotal.WithLabelValues(apperrors.Kind(err)).Inc()
					log.Error("indexing book failed", "book_id", id, "kind", apperrors.Kind(err), "error", err)
				case res.Inserted == 0:
					unchanged.Add(1)
					c.metrics.BooksIndexedTotal.WithLabelValues("unchanged").Inc()
				default:
					indexed.Add(1)
					inserted.Add(res.Inserted)
					c.metrics.BooksIndexedTotal.WithLabelValues("ok").Inc()
				}
				if c.opts.OnBook != nil {
					c.opts.OnBook(id, err)
				}
			}
			return nil
		})
	}
	runErr := g.Wait()

	report := Report{
		RunID:      runID,
		Candidates: int64(len(ids)),
		Indexed:    indexed.Load(),
		Unchanged:  unchanged.Load(),
		Failed:     failed.Load(),
		Inserted:   inserted.Load(),
		Elapsed:    time.Since(start),
	}

	bg := context.WithoutCancel(ctx)
	if report.Inserted > 0 && c.cache != nil {
		if err := c.cache.Invalidate(bg); err != nil {
			log.Warn("search cache invalidation failed", "error", err)
		}
	}
	if err := c.saveRun(bg, start, report); err != nil {
		log.Error("failed to save run report", "error", err)
	}
	log.Info("indexing finished",
		"indexed", report.Indexed,
		"unchanged", report.Unchanged,
		"failed", report.Failed,
		"entries_inserted", report.Inserted,
		"elapsed", report.Elapsed,
	)
	if runErr != nil {
		return report, fmt.Errorf("indexing run %s: %w", runID, runErr)
	}
	return report, nil
}

func (c *Coordinator) saveRun(ctx context.Context, start time.Time, report Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return c.store.SaveRun(ctx, store.Run{
		ID:         report.RunID,
		Kind:       store.RunIndex,
		StartedAt:  start,
		FinishedAt: start.Add(report.Elapsed),
		Report:     data,
	})
}

// indexOne indexes a single book under the per-book timeout. A panic while
// indexing is returned as an error so the rest of the batch carries on.
func (c *Coordinator) indexOne(ctx context.Context, id int64) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic indexing book %d: %v", id, r)
		}
	}()
	err = resilience.WithTimeout(ctx, c.opts.BookTimeout, fmt.Sprintf("index book %d", id), func(ctx context.Context) error {
		var err error
		res, err = c.engine.IndexBook(ctx, id)
		return err
	})
	return res, err
}
