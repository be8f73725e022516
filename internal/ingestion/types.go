// Package ingestion walks the catalog feed, downloads each book's text and
// persists the books that pass the length filter, over a bounded worker
// pool with a global cap on stored books.
package ingestion

import "time"

// Report summarises one ingestion run. Every scanned record lands in
// exactly one of the outcome counters, except those still queued when the
// run stopped.
type Report struct {
	RunID        string        `json:"run_id"`
	Scanned      int64         `json:"scanned"`
	Invalid      int64         `json:"invalid"`
	NoText       int64         `json:"no_text"`
	TooShort     int64         `json:"too_short"`
	Created      int64         `json:"created"`
	Existing     int64         `json:"existing"`
	MetadataOnly int64         `json:"metadata_only"`
	Stub         int64         `json:"stub"`
	Failed       int64         `json:"failed"`
	Capped       int64         `json:"capped"`
	Elapsed      time.Duration `json:"elapsed"`
	Aborted      string        `json:"aborted,omitempty"`
}

// Ingested is the number of books stored with text in the run, new or
// already present.
func (r Report) Ingested() int64 {
	return r.Created + r.Existing
}

// BookIngestedEvent is published when a run creates a book with text.
type BookIngestedEvent struct {
	BookID     int64     `json:"book_id"`
	Title      string    `json:"title"`
	Language   string    `json:"language"`
	WordCount  int       `json:"word_count"`
	RunID      string    `json:"run_id"`
	IngestedAt time.Time `json:"ingested_at"`
}
