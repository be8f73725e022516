// Command indexer builds the word index over books stored with text.
//
// By default it runs one batch over every candidate book and exits. With
// -follow it instead consumes book.ingested events from Kafka and indexes
// each book as it arrives, until interrupted.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml] [-only-unindexed] [-follow]
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

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/store/sqlstore"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/sqldb"
	"github.com/cheggaaa/pb/v3"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	workers := flag.Int("workers", 0, "override index.workers")
	onlyUnindexed := flag.Bool("only-unindexed", false, "skip books that already have index entries")
	follow := flag.Bool("follow", false, "index books as book.ingested events arrive on Kafka")
	noProgress := flag.Bool("no-progress", false, "disable the progress bar")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *workers > 0 {
		cfg.Index.Workers = *workers
	}
	if *onlyUnindexed {
		cfg.Index.OnlyUnindexed = true
	}
	if *follow && !cfg.Kafka.Enabled() {
		fmt.Fprintln(os.Stderr, "-follow needs kafka.brokers to be configured")
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer",
		"store", cfg.Store.Driver,
		"workers", cfg.Index.Workers,
		"follow", *follow,
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

	m := metrics.New(prometheus.DefaultRegisterer)
	checker := health.NewChecker()
	checker.Register("store", health.PingCheck(st.Ping, true))

	var invalidator indexer.CacheInvalidator
	if cfg.Redis.Addr != "" {
		rc, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("search cache unavailable, results will not be invalidated", "error", err)
		} else {
			defer rc.Close()
			checker.Register("redis", health.PingCheck(rc.Ping, false))
			invalidator = cache.New(rc, cfg.Redis.CacheTTL, m)
		}
	}

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

	engine := indexer.NewEngine(st, cfg.Index.MaxPositions, m)

	if *follow {
		handler := consumer.HandleMessage(engine, invalidator, cfg.Index.BookTimeout, m)
		c := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.BookIngested, handler)
		slog.Info("indexer following kafka",
			"topic", cfg.Kafka.Topics.BookIngested,
			"group", cfg.Kafka.ConsumerGroup,
		)
		if err := c.Start(ctx); err != nil {
			slog.Error("consumer error", "error", err)
			os.Exit(1)
		}
		slog.Info("indexer stopped")
		return
	}

	var bar *pb.ProgressBar
	if !*noProgress {
		ids, err := st.BookIDsWithText(ctx, cfg.Index.OnlyUnindexed)
		if err != nil {
			slog.Warn("could not size progress bar", "error", err)
		}
		bar = pb.Full.New(len(ids)).SetWriter(os.Stderr).Start()
	}

	coord := indexer.NewCoordinator(engine, st, invalidator, m, indexer.Options{
		Workers:       cfg.Index.Workers,
		BookTimeout:   cfg.Index.BookTimeout,
		OnlyUnindexed: cfg.Index.OnlyUnindexed,
		RunID:         uuid.NewString(),
		OnBook: func(int64, error) {
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
		slog.Error("indexing run failed", "error", runErr)
		os.Exit(1)
	}
}
