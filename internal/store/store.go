// Package store provides the persistent backends of the document store.
//
// SQLiteStore keeps documents, passages and conversation history in a single
// local database file and searches passages exactly by brute force. It is
// the default backend and needs no external services. PostgresStore keeps
// the same model in PostgreSQL with the pgvector extension for larger
// corpora. Both implement rag.Store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/docqa-go/internal/rag"
)

// Option configures a store at open time.
type Option func(*options)

type options struct {
	dimensions int
	metric     rag.Metric
}

// WithDimensions fixes the vector length of the store. Zero lets the first
// inserted passage decide.
func WithDimensions(n int) Option {
	return func(o *options) { o.dimensions = n }
}

// WithMetric selects the distance metric (default: euclidean).
func WithMetric(m rag.Metric) Option {
	return func(o *options) { o.metric = m }
}

func resolveOptions(opts []Option) options {
	o := options{metric: rag.MetricEuclidean}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metric == "" {
		o.metric = rag.MetricEuclidean
	}
	return o
}

// SQLiteStore is a rag.Store and ConversationStore backed by a local SQLite
// database. It is safe for concurrent use.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB

	// metric ranks passages in Search.
	metric rag.Metric

	// mu guards dims.
	mu sync.RWMutex
	// dims is the vector length of the store, 0 until known.
	dims int
}

// DefaultDBPath returns the default path for the docqa database.
// It resolves to ~/.docqa/docqa.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "docqa.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func Open(path string, opts ...Option) (*SQLiteStore, error) {
	o := resolveOptions(opts)

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, metric: o.metric}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.loadMeta(o); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS meta (
    key    TEXT PRIMARY KEY,
    value  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS documents (
    id           TEXT    PRIMARY KEY,
    filename     TEXT    NOT NULL,
    file         BLOB    NOT NULL,
    size         INTEGER NOT NULL,
    chunk_count  INTEGER NOT NULL DEFAULT 0,
    ready        INTEGER NOT NULL DEFAULT 0,
    created_at   INTEGER NOT NULL  -- Unix timestamp (nanoseconds)
);
CREATE TABLE IF NOT EXISTS passages (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    document_id  TEXT    NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    chunk_index  INTEGER NOT NULL,
    chunk_text   TEXT    NOT NULL,
    embedding    BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_passages_document
    ON passages (document_id);
CREATE TABLE IF NOT EXISTS conversations (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    thread       TEXT    NOT NULL,
    role         TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content      TEXT    NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_conversations_thread_created
    ON conversations (thread, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// readMeta returns every key/value pair in the meta table.
func (s *SQLiteStore) readMeta() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("store: read meta: %w", err)
	}
	defer rows.Close()

	stored := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("store: read meta: %w", err)
		}
		stored[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: read meta: %w", err)
	}
	return stored, nil
}

// loadMeta reconciles the configured dimensions and metric with the values
// recorded when the database was created.
func (s *SQLiteStore) loadMeta(o options) error {
	stored, err := s.readMeta()
	if err != nil {
		return err
	}

	if m, ok := stored["metric"]; ok && rag.Metric(m) != o.metric {
		return fmt.Errorf("store: database uses metric %q, configured %q: %w", m, o.metric, rag.ErrInvalidInput)
	}
	if err := s.setMeta(context.Background(), s.db, "metric", string(o.metric)); err != nil {
		return err
	}

	if v, ok := stored["dimensions"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("store: corrupt dimensions %q in meta: %w", v, err)
		}
		if o.dimensions > 0 && o.dimensions != n {
			return fmt.Errorf("store: database holds %d-dimensional vectors, configured %d: %w",
				n, o.dimensions, rag.ErrDimensionMismatch)
		}
		s.dims = n
		return nil
	}
	if o.dimensions > 0 {
		if err := s.setMeta(context.Background(), s.db, "dimensions", strconv.Itoa(o.dimensions)); err != nil {
			return err
		}
		s.dims = o.dimensions
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) setMeta(ctx context.Context, db execer, key, value string) error {
	const q = `INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("store: write meta %s: %w", key, err)
	}
	return nil
}

// Dimensions returns the store's vector length, or 0 when no vectors have
// been written and none was configured.
func (s *SQLiteStore) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// storeErr wraps a database failure as rag.ErrStore unless it already
// carries a classification.
func storeErr(action string, err error) error {
	if errors.Is(err, rag.ErrNotFound) || errors.Is(err, rag.ErrAlreadyExists) ||
		errors.Is(err, rag.ErrDimensionMismatch) || errors.Is(err, rag.ErrStore) {
		return fmt.Errorf("store: %s: %w", action, err)
	}
	return fmt.Errorf("store: %s: %w: %w", action, rag.ErrStore, err)
}
