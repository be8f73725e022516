// Package sqldb opens the relational store (PostgreSQL through lib/pq or a
// SQLite file through modernc.org/sqlite) and provides a transaction helper.
package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookindex/pkg/config"
	_ "github.com/lib/pq"
	"modernc.org/sqlite"
)

type Client struct {
	DB     *sql.DB
	Driver string
}

// Open connects to the backend selected by cfg.Store.Driver and verifies the
// connection.
func Open(cfg *config.Config) (*Client, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return openPostgres(cfg.Postgres)
	case config.DriverSQLite:
		return OpenSQLite(cfg.Store.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func openPostgres(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db, Driver: config.DriverPostgres}, nil
}

// OpenSQLite opens (creating if needed) a SQLite database file. Every pooled
// connection gets WAL mode, foreign keys and a busy timeout, and transactions
// take the write lock up front so concurrent writers queue instead of
// failing with SQLITE_BUSY.
func OpenSQLite(path string) (*Client, error) {
	registerSQLiteFuncs()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite directory: %w", err)
		}
	}
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(10000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	db, err := sql.Open("sqlite", path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}
	return &Client{DB: db, Driver: config.DriverSQLite}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// Ping checks that the store is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// InTx runs fn inside a transaction. The connection goes back to the pool as
// soon as the transaction commits or rolls back.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

var (
	registerOnce sync.Once
	regexCache   sync.Map
)

// registerSQLiteFuncs installs a REGEXP implementation, which SQLite
// declares but does not ship. "X REGEXP Y" calls regexp(Y, X).
func registerSQLiteFuncs() {
	registerOnce.Do(func() {
		sqlite.MustRegisterDeterministicScalarFunction("regexp", 2,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				pattern, ok := args[0].(string)
				if !ok {
					return nil, fmt.Errorf("regexp: pattern must be text, got %T", args[0])
				}
				var subject string
				switch v := args[1].(type) {
				case nil:
					return int64(0), nil
				case string:
					subject = v
				case []byte:
					subject = string(v)
				default:
					return int64(0), nil
				}
				re, err := compileCached(pattern)
				if err != nil {
					return nil, err
				}
				if re.MatchString(subject) {
					return int64(1), nil
				}
				return int64(0), nil
			})
	})
}

func compileCached(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("regexp: %w", err)
	}
	regexCache.Store(pattern, re)
	return re, nil
}
