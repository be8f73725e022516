// Package consumer indexes books as their book.ingested events arrive on
// Kafka, for an indexer running in follow mode.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/resilience"
)

// BookIndexer indexes one stored book. *indexer.Engine implements it.
type BookIndexer interface {
	IndexBook(ctx context.Context, bookID int64) (indexer.Result, error)
}

// HandleMessage returns a handler that indexes the book named by each
// event. Undecodable events and books that are gone or have no text are
// logged and acknowledged; other failures are returned so the consumer
// redelivers the event.
func HandleMessage(ix BookIndexer, cache indexer.CacheInvalidator, bookTimeout time.Duration, m *metrics.Metrics) kafka.MessageHandler {
	if m == nil {
		m = metrics.NewNop()
	}
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.BookIngestedEvent](value)
		if err != nil {
			logger.Error("failed to decode book event", "error", err, "key", string(key))
			return nil
		}
		logger.Debug("processing book event", "book_id", event.BookID, "run_id", event.RunID)

		var res indexer.Result
		err = resilience.WithTimeout(ctx, bookTimeout, fmt.Sprintf("index book %d", event.BookID), func(ctx context.Context) error {
			var err error
			res, err = ix.IndexBook(ctx, event.BookID)
			return err
		})
		if err != nil {
			m.BooksIndexedTotal.WithLabelValues(apperrors.Kind(err)).Inc()
			if errors.Is(err, apperrors.ErrBookNotFound) || errors.Is(err, apperrors.ErrNoText) {
				logger.Warn("skipping book event", "book_id", event.BookID, "error", err)
				return nil
			}
			return fmt.Errorf("indexing book %d: %w", event.BookID, err)
		}

		if res.Inserted == 0 {
			m.BooksIndexedTotal.WithLabelValues("unchanged").Inc()
			return nil
		}
		m.BooksIndexedTotal.WithLabelValues("ok").Inc()
		if cache != nil {
			if err := cache.Invalidate(ctx); err != nil {
				logger.Warn("search cache invalidation failed", "error", err)
			}
		}
		return nil
	}
}
