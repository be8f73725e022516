// Package sqlstore implements store.Store on database/sql for PostgreSQL and
// SQLite. Both dialects share the same statements; they differ only in the
// schema DDL and the regex operator used by text scans.
//
// Get-or-create operations use INSERT ... ON CONFLICT DO NOTHING followed by
// a lookup, so concurrent callers racing on the same key both succeed.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookindex/internal/store"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/sqldb"
	"github.com/lib/pq"
)

//go:embed schema_postgres.sql
var postgresSchema string

//go:embed schema_sqlite.sql
var sqliteSchema string

const defaultBatchSize = 500

// Store is the SQL-backed store.Store.
type Store struct {
	db        *sqldb.Client
	batchSize int
	logger    *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Options tunes the store. Zero values take defaults.
type Options struct {
	// BatchSize is the number of index entries per multi-row INSERT.
	BatchSize int
}

// New wraps an open client.
func New(db *sqldb.Client, opts Options) *Store {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Store{
		db:        db,
		batchSize: opts.BatchSize,
		logger:    slog.Default().With("component", "sqlstore", "driver", db.Driver),
	}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if s.db.Driver == config.DriverSQLite {
		schema = sqliteSchema
	}
	if _, err := s.db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying %s schema: %w", s.db.Driver, err)
	}
	s.logger.Info("schema ready")
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// UpsertBook inserts the book if its ID is new, then get-or-creates every
// author and links it, all in one transaction. Authors are processed in name
// order so that concurrent transactions lock author rows in the same order.
func (s *Store) UpsertBook(ctx context.Context, book store.Book) (store.Book, bool, error) {
	if book.ID <= 0 {
		return store.Book{}, false, apperrors.Newf(apperrors.ErrInvalidInput, book.ID, "book id must be positive")
	}
	subjects, err := json.Marshal(nonNil(book.Subjects))
	if err != nil {
		return store.Book{}, false, fmt.Errorf("encoding subjects: %w", err)
	}
	shelves, err := json.Marshal(nonNil(book.Bookshelves))
	if err != nil {
		return store.Book{}, false, fmt.Errorf("encoding bookshelves: %w", err)
	}

	authors := dedupeAuthors(book.Authors)
	var stored store.Book
	var created bool
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO books (id, title, language, description, subjects, bookshelves,
			                   cover_image, download_count, copyright, text_content)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING`,
			book.ID, book.Title, strings.Join(book.Languages, ", "),
			nullableString(book.Description), string(subjects), string(shelves),
			nullableString(book.CoverImage), book.DownloadCount, book.Copyright,
			nullableString(book.Text),
		)
		if err != nil {
			return fmt.Errorf("inserting book: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reading inserted rows: %w", err)
		}
		created = n == 1

		for _, a := range authors {
			author, _, err := upsertAuthorTx(ctx, tx, a)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO book_authors (book_id, author_id) VALUES ($1, $2)
				ON CONFLICT (book_id, author_id) DO NOTHING`,
				book.ID, author.ID,
			); err != nil {
				return fmt.Errorf("linking author %q: %w", a.Name, err)
			}
		}

		stored, err = getBookTx(ctx, tx, book.ID)
		return err
	})
	if err != nil {
		return store.Book{}, false, fmt.Errorf("upserting book %d: %w", book.ID, err)
	}
	return stored, created, nil
}

// UpsertAuthor get-or-creates one author in its own transaction.
func (s *Store) UpsertAuthor(ctx context.Context, author store.Author) (store.Author, bool, error) {
	if strings.TrimSpace(author.Name) == "" {
		return store.Author{}, false, apperrors.New(apperrors.ErrInvalidInput, 0, "author name is required")
	}
	var stored store.Author
	var created bool
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		stored, created, err = upsertAuthorTx(ctx, tx, author)
		return err
	})
	if err != nil {
		return store.Author{}, false, err
	}
	return stored, created, nil
}

func upsertAuthorTx(ctx context.Context, tx *sql.Tx, a store.Author) (store.Author, bool, error) {
	created := false
	res, err := tx.ExecContext(ctx, `
		INSERT INTO authors (name, birth_year, death_year) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING`,
		a.Name, nullableInt(a.BirthYear), nullableInt(a.DeathYear),
	)
	switch {
	case err == nil:
		n, err := res.RowsAffected()
		if err != nil {
			return store.Author{}, false, fmt.Errorf("reading inserted author rows: %w", err)
		}
		created = n == 1
	case isUniqueViolation(err):
		// lost a race to a concurrent creator; the lookup below finds its row
	default:
		return store.Author{}, false, fmt.Errorf("inserting author %q: %w", a.Name, err)
	}

	var out store.Author
	var birth, death sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT id, name, birth_year, death_year FROM authors WHERE name = $1`, a.Name,
	).Scan(&out.ID, &out.Name, &birth, &death)
	if err != nil {
		return store.Author{}, false, fmt.Errorf("looking up author %q: %w", a.Name, err)
	}
	out.BirthYear = intPtr(birth)
	out.DeathYear = intPtr(death)
	return out, created, nil
}

func (s *Store) GetBook(ctx context.Context, id int64) (store.Book, error) {
	var book store.Book
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		book, err = getBookTx(ctx, tx, id)
		return err
	})
	return book, err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getBookTx(ctx context.Context, q queryer, id int64) (store.Book, error) {
	var (
		b                     store.Book
		language              string
		description, cover    sql.NullString
		text                  sql.NullString
		subjects, bookshelves string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, title, language, description, subjects, bookshelves,
		       cover_image, download_count, copyright, text_content
		FROM books WHERE id = $1`, id,
	).Scan(&b.ID, &b.Title, &language, &description, &subjects, &bookshelves,
		&cover, &b.DownloadCount, &b.Copyright, &text)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Book{}, apperrors.New(apperrors.ErrBookNotFound, id, "no such book")
	}
	if err != nil {
		return store.Book{}, fmt.Errorf("querying book %d: %w", id, err)
	}
	b.Languages = splitLanguages(language)
	b.Description = description.String
	b.CoverImage = cover.String
	b.Text = text.String
	if err := json.Unmarshal([]byte(subjects), &b.Subjects); err != nil {
		return store.Book{}, fmt.Errorf("decoding subjects of book %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(bookshelves), &b.Bookshelves); err != nil {
		return store.Book{}, fmt.Errorf("decoding bookshelves of book %d: %w", id, err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT a.id, a.name, a.birth_year, a.death_year
		FROM authors a JOIN book_authors ba ON ba.author_id = a.id
		WHERE ba.book_id = $1
		ORDER BY a.name`, id)
	if err != nil {
		return store.Book{}, fmt.Errorf("querying authors of book %d: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var a store.Author
		var birth, death sql.NullInt64
		if err := rows.Scan(&a.ID, &a.Name, &birth, &death); err != nil {
			return store.Book{}, fmt.Errorf("scanning author row: %w", err)
		}
		a.BirthYear = intPtr(birth)
		a.DeathYear = intPtr(death)
		b.Authors = append(b.Authors, a)
	}
	return b, rows.Err()
}

func (s *Store) BookIDsWithText(ctx context.Context, onlyUnindexed bool) ([]int64, error) {
	query := `SELECT id FROM books WHERE text_content IS NOT NULL`
	if onlyUnindexed {
		query += ` AND NOT EXISTS (SELECT 1 FROM index_entries e WHERE e.book_id = books.id)`
	}
	query += ` ORDER BY id`
	rows, err := s.db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing books with text: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning book id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertIndexEntries writes entries in multi-row batches inside one
// transaction. Conflicting (word, book_id) pairs are dropped by the
// database, never merged, so repeated calls cannot double any count.
func (s *Store) InsertIndexEntries(ctx context.Context, bookID int64, entries []store.IndexEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	for _, e := range entries {
		if e.BookID != bookID {
			return 0, apperrors.Newf(apperrors.ErrInvalidInput, bookID, "entry %q belongs to book %d", e.Word, e.BookID)
		}
		if e.Occurrences <= 0 || e.Occurrences != len(e.Positions) {
			return 0, apperrors.Newf(apperrors.ErrInvalidInput, bookID,
				"entry %q has %d occurrences but %d positions", e.Word, e.Occurrences, len(e.Positions))
		}
	}

	var inserted int64
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(entries); start += s.batchSize {
			end := min(start+s.batchSize, len(entries))
			n, err := insertEntryBatch(ctx, tx, entries[start:end])
			if err != nil {
				return err
			}
			inserted += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("inserting index entries for book %d: %w", bookID, err)
	}
	return inserted, nil
}

func insertEntryBatch(ctx context.Context, tx *sql.Tx, batch []store.IndexEntry) (int64, error) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO index_entries (word, book_id, occurrences_count, positions) VALUES `)
	args := make([]any, 0, len(batch)*4)
	for i, e := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 4
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		positions, err := json.Marshal(e.Positions)
		if err != nil {
			return 0, fmt.Errorf("encoding positions of %q: %w", e.Word, err)
		}
		args = append(args, e.Word, e.BookID, e.Occurrences, string(positions))
	}
	sb.WriteString(` ON CONFLICT (word, book_id) DO NOTHING`)
	res, err := tx.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("executing batch insert: %w", err)
	}
	return res.RowsAffected()
}

// LookupWord returns books containing word, most occurrences first.
func (s *Store) LookupWord(ctx context.Context, word string, limit int) ([]store.Hit, error) {
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT e.book_id, b.title, e.occurrences_count, e.positions
		FROM index_entries e JOIN books b ON b.id = e.book_id
		WHERE e.word = $1
		ORDER BY e.occurrences_count DESC, e.book_id
		LIMIT $2`, word, limit)
	if err != nil {
		return nil, fmt.Errorf("looking up %q: %w", word, err)
	}
	defer rows.Close()
	var hits []store.Hit
	for rows.Next() {
		var h store.Hit
		var positions string
		if err := rows.Scan(&h.BookID, &h.Title, &h.Occurrences, &positions); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		if err := json.Unmarshal([]byte(positions), &h.Positions); err != nil {
			return nil, fmt.Errorf("decoding positions for book %d: %w", h.BookID, err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ScanText runs a case-insensitive regular expression over stored text.
func (s *Store) ScanText(ctx context.Context, pattern string, limit int) ([]store.BookSummary, error) {
	query := `SELECT id, title FROM books WHERE text_content ~* $1 ORDER BY id LIMIT $2`
	if s.db.Driver == config.DriverSQLite {
		query = `SELECT id, title FROM books WHERE text_content REGEXP $1 ORDER BY id LIMIT $2`
		pattern = "(?i)" + pattern
	}
	rows, err := s.db.DB.QueryContext(ctx, query, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("scanning text for %q: %w", pattern, err)
	}
	defer rows.Close()
	var out []store.BookSummary
	for rows.Next() {
		var b store.BookSummary
		if err := rows.Scan(&b.ID, &b.Title); err != nil {
			return nil, fmt.Errorf("scanning book summary: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) SaveRun(ctx context.Context, run store.Run) error {
	_, err := s.db.DB.ExecContext(ctx, `
		INSERT INTO ingest_runs (id, kind, started_at, finished_at, report)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Kind, formatTime(run.StartedAt), formatTime(run.FinishedAt), string(run.Report),
	)
	if err != nil {
		return fmt.Errorf("saving %s run %s: %w", run.Kind, run.ID, err)
	}
	return nil
}

func (s *Store) Counts(ctx context.Context) (store.Counts, error) {
	var c store.Counts
	err := s.db.DB.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM books),
			(SELECT COUNT(*) FROM books WHERE text_content IS NOT NULL),
			(SELECT COUNT(*) FROM authors),
			(SELECT COUNT(*) FROM book_authors),
			(SELECT COUNT(*) FROM index_entries)`,
	).Scan(&c.Books, &c.BooksWithText, &c.Authors, &c.BookAuthors, &c.IndexEntries)
	if err != nil {
		return store.Counts{}, fmt.Errorf("counting rows: %w", err)
	}
	return c, nil
}

// isUniqueViolation reports whether err is a unique-constraint failure from
// either backend.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func dedupeAuthors(in []store.Author) []store.Author {
	seen := make(map[string]struct{}, len(in))
	out := make([]store.Author, 0, len(in))
	for _, a := range in {
		a.Name = strings.TrimSpace(a.Name)
		if a.Name == "" {
			continue
		}
		if _, ok := seen[a.Name]; ok {
			continue
		}
		seen[a.Name] = struct{}{}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func splitLanguages(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// nullableString converts a Go string to a sql.NullString, treating the
// empty string as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
