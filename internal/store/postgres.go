package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/54b3r/docqa-go/internal/rag"
)

// pgUniqueViolation is the SQLSTATE for a unique constraint violation.
const pgUniqueViolation = "23505"

// PostgresConfig holds connection parameters for a PostgresStore.
type PostgresConfig struct {
	// DSN is the libpq-style connection string or URL.
	DSN string

	// Dimensions is the vector length of the embedding column. Required
	// when the schema does not exist yet.
	Dimensions int

	// Metric selects the pgvector operator used for search.
	Metric rag.Metric

	// MaxConns caps the pool size (0 = pgxpool default).
	MaxConns int32
}

// PostgresStore is a rag.Store backed by PostgreSQL with the pgvector
// extension. Search is delegated to the database with ORDER BY distance.
type PostgresStore struct {
	// pool is the pgx connection pool.
	pool *pgxpool.Pool

	// metric selects the distance operator.
	metric rag.Metric

	// dims is the vector length of the embedding column.
	dims int
}

// NewPostgresStore connects to PostgreSQL, creates the vector extension and
// the schema if needed, and verifies the embedding column matches the
// configured dimensions.
func NewPostgresStore(ctx context.Context, cfg *PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: dsn must be set: %w", rag.ErrInvalidInput)
	}
	if cfg.Metric == "" {
		cfg.Metric = rag.MetricEuclidean
	}

	// The extension must exist before pgvector types can be registered on
	// pooled connections.
	conn, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	_, err = conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	_ = conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: create vector extension: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.AfterConnect = func(ctx context.Context, c *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, c)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	s := &PostgresStore{pool: pool, metric: cfg.Metric}
	if err := s.migrate(ctx, cfg.Dimensions); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema and reconciles the embedding column size.
func (s *PostgresStore) migrate(ctx context.Context, dims int) error {
	existing, err := s.columnDimensions(ctx)
	if err != nil {
		return err
	}
	if existing > 0 {
		if dims > 0 && dims != existing {
			return fmt.Errorf("postgres: embedding column holds %d dimensions, configured %d: %w",
				existing, dims, rag.ErrDimensionMismatch)
		}
		s.dims = existing
		return nil
	}
	if dims <= 0 {
		return fmt.Errorf("postgres: dimensions must be set to create the schema: %w", rag.ErrInvalidInput)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS documents (
    id           TEXT        PRIMARY KEY,
    filename     TEXT        NOT NULL,
    file         BYTEA       NOT NULL,
    size         BIGINT      NOT NULL,
    chunk_count  INTEGER     NOT NULL DEFAULT 0,
    ready        BOOLEAN     NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS document_chunks (
    id           BIGSERIAL   PRIMARY KEY,
    document_id  TEXT        NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    chunk_index  INTEGER     NOT NULL,
    chunk_text   TEXT        NOT NULL,
    embedding    vector(` + strconv.Itoa(dims) + `) NOT NULL
);
CREATE INDEX IF NOT EXISTS document_chunks_document_id_idx ON document_chunks (document_id);
`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	s.dims = dims
	return nil
}

// columnDimensions returns the declared size of document_chunks.embedding,
// or 0 when the table does not exist.
func (s *PostgresStore) columnDimensions(ctx context.Context) (int, error) {
	const q = `
SELECT a.atttypmod
FROM   pg_attribute a
WHERE  a.attrelid = to_regclass('document_chunks')
  AND  a.attname = 'embedding'`
	var mod int32
	err := s.pool.QueryRow(ctx, q).Scan(&mod)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: inspect schema: %w", err)
	}
	return int(mod), nil
}

// operator returns the pgvector distance operator for the metric.
func (s *PostgresStore) operator() string {
	switch s.metric {
	case rag.MetricCosine:
		return "<=>"
	case rag.MetricDot:
		return "<#>"
	default:
		return "<->"
	}
}

// InsertDocument implements rag.Catalog.
func (s *PostgresStore) InsertDocument(ctx context.Context, doc *rag.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("postgres: insert document: empty id: %w", rag.ErrInvalidInput)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	data := doc.Data
	if data == nil {
		data = []byte{}
	}

	const q = `INSERT INTO documents (id, filename, file, size, chunk_count, ready, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, q, doc.ID, doc.Filename, data, int64(len(data)), doc.ChunkCount, doc.Ready, doc.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("postgres: insert document %s: %w", doc.ID, rag.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert document: %w: %w", rag.ErrStore, err)
	}
	doc.Size = int64(len(data))
	return nil
}

// GetDocument implements rag.Catalog.
func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*rag.Document, error) {
	const q = `SELECT id, filename, file, size, chunk_count, ready, created_at FROM documents WHERE id = $1`
	var d rag.Document
	err := s.pool.QueryRow(ctx, q, id).Scan(&d.ID, &d.Filename, &d.Data, &d.Size, &d.ChunkCount, &d.Ready, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: document %s: %w", id, rag.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get document: %w: %w", rag.ErrStore, err)
	}
	return &d, nil
}

// ListDocuments implements rag.Catalog.
func (s *PostgresStore) ListDocuments(ctx context.Context) ([]rag.Document, error) {
	const q = `SELECT id, filename, size, chunk_count, ready, created_at FROM documents ORDER BY created_at DESC, id`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list documents: %w: %w", rag.ErrStore, err)
	}
	defer rows.Close()

	var docs []rag.Document
	for rows.Next() {
		var d rag.Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.Size, &d.ChunkCount, &d.Ready, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: list documents scan: %w: %w", rag.ErrStore, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list documents rows: %w: %w", rag.ErrStore, err)
	}
	return docs, nil
}

// MarkReady implements rag.Catalog.
func (s *PostgresStore) MarkReady(ctx context.Context, id string, chunkCount int) error {
	tag, err := s.pool.Exec(ctx, `UPDATE documents SET ready = TRUE, chunk_count = $1 WHERE id = $2`, chunkCount, id)
	if err != nil {
		return fmt.Errorf("postgres: mark ready: %w: %w", rag.ErrStore, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark ready %s: %w", id, rag.ErrNotFound)
	}
	return nil
}

// DeleteDocument implements rag.Catalog. Chunks go with the document
// through ON DELETE CASCADE.
func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete document: %w: %w", rag.ErrStore, err)
	}
	return nil
}

// InsertPassages copies every passage of one document inside a transaction.
func (s *PostgresStore) InsertPassages(ctx context.Context, documentID string, passages []rag.Passage) error {
	if len(passages) == 0 {
		return nil
	}
	rows := make([][]any, len(passages))
	for i, p := range passages {
		if len(p.Vector) != s.dims {
			return fmt.Errorf("postgres: passage %d has %d dimensions, store has %d: %w",
				p.Index, len(p.Vector), s.dims, rag.ErrDimensionMismatch)
		}
		rows[i] = []any{documentID, p.Index, p.Text, pgvector.NewVector(p.Vector)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w: %w", rag.ErrStore, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, documentID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: insert passages: %w: %w", rag.ErrStore, err)
	}
	if !exists {
		return fmt.Errorf("postgres: insert passages for %s: %w", documentID, rag.ErrNotFound)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"document_chunks"},
		[]string{"document_id", "chunk_index", "chunk_text", "embedding"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("postgres: copy passages: %w: %w", rag.ErrStore, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w: %w", rag.ErrStore, err)
	}
	return nil
}

// Search implements rag.Searcher.
func (s *PostgresStore) Search(ctx context.Context, vector []float32, topK int, filter rag.Filter) ([]rag.Candidate, error) {
	if len(vector) != s.dims {
		return nil, fmt.Errorf("postgres: query has %d dimensions, store has %d: %w",
			len(vector), s.dims, rag.ErrDimensionMismatch)
	}
	if topK <= 0 {
		return nil, nil
	}

	q := `SELECT c.id, c.document_id, c.chunk_index, c.chunk_text, c.embedding ` + s.operator() + ` $1 AS distance
FROM document_chunks c JOIN documents d ON d.id = c.document_id
WHERE d.ready`
	args := []any{pgvector.NewVector(vector), topK}
	if filter.DocumentID != "" {
		q += ` AND c.document_id = $3`
		args = append(args, filter.DocumentID)
	}
	q += ` ORDER BY distance, c.id LIMIT $2`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w: %w", rag.ErrStore, err)
	}
	defer rows.Close()

	var out []rag.Candidate
	for rows.Next() {
		var (
			id       int64
			distance float64
			c        rag.Candidate
		)
		if err := rows.Scan(&id, &c.Passage.DocumentID, &c.Passage.Index, &c.Passage.Text, &distance); err != nil {
			return nil, fmt.Errorf("postgres: search scan: %w: %w", rag.ErrStore, err)
		}
		c.Passage.ID = strconv.FormatInt(id, 10)
		c.Distance = float32(distance)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: search rows: %w: %w", rag.ErrStore, err)
	}
	return out, nil
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
