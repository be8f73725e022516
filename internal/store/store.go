// Package store defines the persisted records of the pipeline (books,
// authors, index entries, run reports) and the Store contract the
// coordinators and the searcher depend on.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Book is a catalog book. ID is the source catalog ID. Text is empty when
// the book was stored as a metadata-only record.
type Book struct {
	ID            int64
	Title         string
	Languages     []string
	Description   string
	Subjects      []string
	Bookshelves   []string
	CoverImage    string
	DownloadCount int
	Copyright     bool
	Text          string
	Authors       []Author
}

// HasText reports whether the book carries a stored body.
func (b Book) HasText() bool {
	return b.Text != ""
}

// PrimaryLanguage returns the first language code, or "".
func (b Book) PrimaryLanguage() string {
	if len(b.Languages) == 0 {
		return ""
	}
	return b.Languages[0]
}

// Author is keyed by Name. Birth and death years are optional.
type Author struct {
	ID        int64
	Name      string
	BirthYear *int
	DeathYear *int
}

// IndexEntry records where a normalized word occurs in one book's stored
// text. Occurrences always equals len(Positions).
type IndexEntry struct {
	Word        string
	BookID      int64
	Occurrences int
	Positions   []int
}

// Hit is one book matching an exact-word lookup.
type Hit struct {
	BookID      int64  `json:"book_id"`
	Title       string `json:"title"`
	Occurrences int    `json:"occurrences"`
	Positions   []int  `json:"positions"`
}

// BookSummary is a lightweight book reference returned by text scans.
type BookSummary struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Run kinds stored in the runs table.
const (
	RunIngest = "ingest"
	RunIndex  = "index"
)

// Run is the persisted summary of one ingestion or indexing run.
type Run struct {
	ID         string
	Kind       string
	StartedAt  time.Time
	FinishedAt time.Time
	Report     json.RawMessage
}

// Counts is a row-count snapshot of the store.
type Counts struct {
	Books         int64
	BooksWithText int64
	Authors       int64
	BookAuthors   int64
	IndexEntries  int64
}

// Store is the system of record. Implementations must make the upserts
// atomic and safe under concurrent callers.
type Store interface {
	// UpsertBook creates the book with its author links in one transaction.
	// An existing book keeps its stored fields; missing author links are
	// still added. created reports whether the book row was inserted.
	UpsertBook(ctx context.Context, book Book) (stored Book, created bool, err error)
	// UpsertAuthor returns the author with the given name, creating it on
	// first reference. Existing authors are never updated.
	UpsertAuthor(ctx context.Context, author Author) (stored Author, created bool, err error)
	GetBook(ctx context.Context, id int64) (Book, error)
	// BookIDsWithText lists books that have a stored body, optionally only
	// those with no index entries yet.
	BookIDsWithText(ctx context.Context, onlyUnindexed bool) ([]int64, error)
	// InsertIndexEntries inserts entries for one book in a single
	// transaction, silently skipping (word, book) pairs that already exist.
	// It returns the number of rows actually inserted.
	InsertIndexEntries(ctx context.Context, bookID int64, entries []IndexEntry) (int64, error)
	LookupWord(ctx context.Context, word string, limit int) ([]Hit, error)
	ScanText(ctx context.Context, pattern string, limit int) ([]BookSummary, error)
	SaveRun(ctx context.Context, run Run) error
	Counts(ctx context.Context) (Counts, error)
	Ping(ctx context.Context) error
}
