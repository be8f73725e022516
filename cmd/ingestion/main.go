// Command ingestion walks the remote catalog feed, downloads each book's
// plain text and stores books, authors and text in the relational store.
//
// When Kafka brokers are configured, a book.ingested event is published for
// every stored book so that an indexer in follow mode can pick it up.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml] [-max-books N] [-workers N]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/fetcher"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/store/sqlstore"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/sqldb"
	"github.com/cheggaaa/pb/v3"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	maxBooks := flag.Int("max-books", -1, "override ingest.maxBooks (0 = no cap)")
	workers := flag.Int("workers", 0, "override ingest.workers")
	maxRecords := flag.Int("max-records", -1, "override catalog.maxRecords (0 = whole feed)")
	keepMetadata := flag.Bool("keep-metadata", false, "store metadata-only records for books without usable text")
	noProgress := flag.Bool("no-progress", false, "disable the progress bar")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *maxBooks >= 0 {
		cfg.Ingest.MaxBooks = *maxBooks
	}
	if *workers > 0 {
		cfg.Ingest.Workers = *workers
	}
	if *maxRecords >= 0 {
		cfg.Catalog.MaxRecords = *maxRecords
	}
	if *keepMetadata {
		cfg.Ingest.KeepMetadataOnly = true
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	runID := uuid.NewString()
	slog.Info("starting ingestion",
		"run_id", runID,
		"feed", cfg.Catalog.FeedURL,
		"store", cfg.Store.Driver,
		"max_books", cfg.Ingest.MaxBooks,
		"workers", cfg.Ingest.Workers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqldb.Open(cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	st := sqlstore.New(db, sqlstore.Options{BatchSize: cfg.Index.BatchSize})
	if err := st.Migrate(ctx); err != nil {
		slog.Error("failed to migrate store", "error", err)
		os.Exit(1)
	}
	slog.Info("store ready", "driver", cfg.Store.Driver)

	m := metrics.New(prometheus.DefaultRegisterer)
	checker := health.NewChecker()
	checker.Register("store", health.PingCheck(st.Ping, true))
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, checker)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	source := catalog.New(cfg.Catalog.FeedURL, catalog.Options{
		RequestTimeout: cfg.Catalog.RequestTimeout,
		PageDelay:      cfg.Catalog.PageDelay,
		MaxPageRetries: cfg.Catalog.MaxPageRetries,
		Metrics:        m,
	})
	f := fetcher.New(fetcher.Options{
		Timeout:        cfg.Fetch.Timeout,
		MaxRetries:     cfg.Fetch.MaxRetries,
		BackoffBase:    cfg.Fetch.BackoffBase,
		MaxStoredChars: cfg.Fetch.MaxStoredChars,
		Metrics:        m,
	})

	var pub ingestion.EventPublisher
	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.BookIngested)
		defer producer.Close()
		pub = publisher.New(producer, m)
		slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.BookIngested)
	}

	var bar *pb.ProgressBar
	if !*noProgress {
		bar = pb.Full.New64(progressTotal(ctx, source, cfg)).SetWriter(os.Stderr).Start()
	}

	coord := ingestion.New(source, f, st, pub, m, ingestion.Options{
		MaxBooks:         cfg.Ingest.MaxBooks,
		Workers:          cfg.Ingest.Workers,
		MaxRecords:       cfg.Catalog.MaxRecords,
		MinWordCount:     cfg.Fetch.MinWordCount,
		KeepMetadataOnly: cfg.Ingest.KeepMetadataOnly,
		RunID:            runID,
		OnRecord: func(catalog.Record, ingestion.Outcome) {
			if bar != nil {
				bar.Increment()
			}
		},
	})
	report, runErr := coord.Run(ctx)
	if bar != nil {
		bar.Finish()
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	if runErr != nil {
		slog.Error("ingestion run failed", "error", runErr)
		os.Exit(1)
	}
	slog.Info("ingestion finished", "ingested", report.Ingested())
}

// progressTotal sizes the progress bar: the feed's record count, narrowed by
// any record limit. A failed count falls back to the limits alone.
func progressTotal(ctx context.Context, source *catalog.Client, cfg *config.Config) int64 {
	total, err := source.Count(ctx)
	if err != nil {
		slog.Warn("could not read catalog size", "error", err)
		total = max(cfg.Catalog.MaxRecords, cfg.Ingest.MaxBooks)
	}
	if cfg.Catalog.MaxRecords > 0 && cfg.Catalog.MaxRecords < total {
		total = cfg.Catalog.MaxRecords
	}
	return int64(total)
}
