// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Store, Postgres, Kafka, Redis, Catalog, Fetch, Ingest, Index, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Index    IndexConfig    `yaml:"index"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// Supported store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// StoreConfig selects the relational backend.
type StoreConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlitePath"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings. Kafka is optional: an
// empty broker list disables event publishing and follow mode.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// Enabled reports whether at least one broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	BookIngested string `yaml:"bookIngested"`
}

// RedisConfig holds Redis connection and caching parameters. An empty Addr
// disables the search cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// CatalogConfig controls how the remote catalog feed is paged.
type CatalogConfig struct {
	FeedURL        string        `yaml:"feedUrl"`
	PageDelay      time.Duration `yaml:"pageDelay"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	MaxRecords     int           `yaml:"maxRecords"`
	MaxPageRetries int           `yaml:"maxPageRetries"`
}

// FetchConfig controls full-text downloads and the length filter.
type FetchConfig struct {
	MaxRetries     int           `yaml:"maxRetries"`
	BackoffBase    time.Duration `yaml:"backoffBase"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxStoredChars int           `yaml:"maxStoredChars"`
	MinWordCount   int           `yaml:"minWordCount"`
}

// IngestConfig controls the ingestion worker pool.
type IngestConfig struct {
	MaxBooks         int  `yaml:"maxBooks"`
	Workers          int  `yaml:"workers"`
	KeepMetadataOnly bool `yaml:"keepMetadataOnly"`
}

// IndexConfig controls the indexing worker pool and index entry limits.
type IndexConfig struct {
	Workers       int           `yaml:"workers"`
	BookTimeout   time.Duration `yaml:"bookTimeout"`
	OnlyUnindexed bool          `yaml:"onlyUnindexed"`
	MaxPositions  int           `yaml:"maxPositions"`
	BatchSize     int           `yaml:"batchSize"`
}

// SearchConfig controls lookup limits and highlight markers.
type SearchConfig struct {
	DefaultLimit   int    `yaml:"defaultLimit"`
	HighlightOpen  string `yaml:"highlightOpen"`
	HighlightClose string `yaml:"highlightClose"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local development
// against a SQLite file.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:     DriverSQLite,
			SQLitePath: "data/books.db",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "gutenberg",
			User:            "gutenberg",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "bookindex-indexer",
			Topics: KafkaTopics{
				BookIngested: "book.ingested",
			},
		},
		Redis: RedisConfig{
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Catalog: CatalogConfig{
			FeedURL:        "https://gutendex.com/books/",
			PageDelay:      500 * time.Millisecond,
			RequestTimeout: 30 * time.Second,
			MaxPageRetries: 3,
		},
		Fetch: FetchConfig{
			MaxRetries:     5,
			BackoffBase:    2 * time.Second,
			Timeout:        30 * time.Second,
			MaxStoredChars: 100000,
			MinWordCount:   10000,
		},
		Ingest: IngestConfig{
			MaxBooks: 1700,
			Workers:  5,
		},
		Index: IndexConfig{
			Workers:   2,
			BatchSize: 500,
		},
		Search: SearchConfig{
			DefaultLimit:   20,
			HighlightOpen:  "**",
			HighlightClose: "**",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverPostgres:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlitePath is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of %s, %s", c.Store.Driver, DriverPostgres, DriverSQLite))
	}
	if c.Catalog.FeedURL == "" {
		errs = append(errs, errors.New("catalog.feedUrl is required"))
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, errors.New("ingest.workers must be positive"))
	}
	if c.Index.Workers <= 0 {
		errs = append(errs, errors.New("index.workers must be positive"))
	}
	if c.Ingest.MaxBooks < 0 {
		errs = append(errs, errors.New("ingest.maxBooks must not be negative"))
	}
	if c.Fetch.MaxRetries <= 0 {
		errs = append(errs, errors.New("fetch.maxRetries must be positive"))
	}
	if c.Fetch.MaxStoredChars <= 0 {
		errs = append(errs, errors.New("fetch.maxStoredChars must be positive"))
	}
	if c.Fetch.MinWordCount < 0 {
		errs = append(errs, errors.New("fetch.minWordCount must not be negative"))
	}
	if c.Index.BatchSize <= 0 {
		errs = append(errs, errors.New("index.batchSize must be positive"))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides reads GB_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GB_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("GB_STORE_SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("GB_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("GB_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("GB_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("GB_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("GB_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("GB_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("GB_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("GB_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("GB_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("GB_CATALOG_FEED_URL"); v != "" {
		cfg.Catalog.FeedURL = v
	}
	if v := os.Getenv("GB_INGEST_MAX_BOOKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.MaxBooks = n
		}
	}
	if v := os.Getenv("GB_INGEST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.Workers = n
		}
	}
	if v := os.Getenv("GB_INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.Workers = n
		}
	}
	if v := os.Getenv("GB_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GB_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("GB_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
