// Command search looks a word up in the book index and prints the matching
// books with highlighted snippets. With -scan the argument is treated as a
// regular expression and matched against stored text instead.
//
// Usage:
//
//	go run ./cmd/search [-config configs/development.yaml] [-limit N] [-lang fr] word
//	go run ./cmd/search -scan 'whal(e|ing)'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/store/sqlstore"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/logger"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/sqldb"
)

const snippetRadius = 60

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	limit := flag.Int("limit", 0, "maximum number of books (default search.defaultLimit)")
	lang := flag.String("lang", "en", "language code used to lowercase the word")
	scan := flag.Bool("scan", false, "treat the argument as a regular expression over stored text")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: search [flags] <word|pattern>")
		os.Exit(2)
	}
	query := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqldb.Open(cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	st := sqlstore.New(db, sqlstore.Options{BatchSize: cfg.Index.BatchSize})

	var qc *cache.QueryCache
	if cfg.Redis.Addr != "" {
		rc, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("search cache unavailable", "error", err)
		} else {
			defer rc.Close()
			qc = cache.New(rc, cfg.Redis.CacheTTL, nil)
		}
	}
	s := searcher.New(st, qc, cfg.Search.DefaultLimit)

	if *scan {
		found, err := s.Scan(ctx, query, *limit)
		if err != nil {
			fail(err)
		}
		for _, b := range found {
			fmt.Printf("%d\t%s\n", b.ID, b.Title)
		}
		if len(found) == 0 {
			fmt.Println("no matches")
		}
		return
	}

	hits, err := s.Lookup(ctx, query, *lang, *limit)
	if err != nil {
		fail(err)
	}
	if len(hits) == 0 {
		fmt.Printf("%q is not in the index; try -scan\n", query)
		return
	}
	for _, h := range hits {
		fmt.Printf("%d\t%s\t(%d occurrences)\n", h.BookID, h.Title, h.Occurrences)
		book, err := st.GetBook(ctx, h.BookID)
		if err != nil {
			slog.Warn("could not load book text", "book_id", h.BookID, "error", err)
			continue
		}
		snippet := searcher.Snippet(book.Text, h.Positions, 0, snippetRadius,
			cfg.Search.HighlightOpen, cfg.Search.HighlightClose)
		if snippet != "" {
			fmt.Printf("\t%s\n", snippet)
		}
	}
}

func fail(err error) {
	if errors.Is(err, apperrors.ErrInvalidInput) {
		fmt.Fprintf(os.Stderr, "invalid query: %v\n", err)
		os.Exit(2)
	}
	slog.Error("search failed", "error", err)
	os.Exit(1)
}
