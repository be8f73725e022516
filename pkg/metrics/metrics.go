// Package metrics defines the Prometheus collectors used by the ingestion
// and indexing pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	CatalogPagesTotal    *prometheus.CounterVec
	CatalogRecordsTotal  prometheus.Counter
	FetchAttemptsTotal   *prometheus.CounterVec
	FetchDuration        prometheus.Histogram
	BooksProcessedTotal  *prometheus.CounterVec
	IngestWorkersBusy    prometheus.Gauge
	BooksIndexedTotal    *prometheus.CounterVec
	IndexEntriesInserted prometheus.Counter
	IndexDuration        prometheus.Histogram
	IndexWorkersBusy     prometheus.Gauge
	EventsPublishedTotal *prometheus.CounterVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on Handler; tests pass a fresh
// prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CatalogPagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_pages_total",
				Help: "Catalog feed pages fetched by status (ok, error).",
			},
			[]string{"status"},
		),
		CatalogRecordsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_records_total",
				Help: "Catalog records yielded by the feed.",
			},
		),
		FetchAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "text_fetch_attempts_total",
				Help: "Full-text download attempts by result (ok, transient, fatal).",
			},
			[]string{"result"},
		),
		FetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "text_fetch_duration_seconds",
				Help:    "Full-text download latency per book, retries included.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		BooksProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "books_processed_total",
				Help: "Catalog records processed by ingestion outcome.",
			},
			[]string{"outcome"},
		),
		IngestWorkersBusy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_workers_busy",
				Help: "Ingestion workers currently processing a record.",
			},
		),
		BooksIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "books_indexed_total",
				Help: "Books processed by the indexer by status.",
			},
			[]string{"status"},
		),
		IndexEntriesInserted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_entries_inserted_total",
				Help: "Index entries actually inserted (conflicts excluded).",
			},
		),
		IndexDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_book_duration_seconds",
				Help:    "Time to tokenize and persist one book.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		IndexWorkersBusy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_workers_busy",
				Help: "Indexing workers currently processing a book.",
			},
		),
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_published_total",
				Help: "book.ingested events by status (ok, error, dropped).",
			},
			[]string{"status"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_cache_hits_total",
				Help: "Total number of search cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_cache_misses_total",
				Help: "Total number of search cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.CatalogPagesTotal,
		m.CatalogRecordsTotal,
		m.FetchAttemptsTotal,
		m.FetchDuration,
		m.BooksProcessedTotal,
		m.IngestWorkersBusy,
		m.BooksIndexedTotal,
		m.IndexEntriesInserted,
		m.IndexDuration,
		m.IndexWorkersBusy,
		m.EventsPublishedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// NewNop returns collectors registered nowhere, for callers that do not
// export metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
