package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/docqa-go/internal/rag"
)

// InsertDocument durably writes doc. CreatedAt is set when zero.
func (s *SQLiteStore) InsertDocument(ctx context.Context, doc *rag.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("store: insert document: empty id: %w", rag.ErrInvalidInput)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	data := doc.Data
	if data == nil {
		data = []byte{}
	}

	const q = `INSERT INTO documents (id, filename, file, size, chunk_count, ready, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, doc.ID, doc.Filename, data, int64(len(data)),
		doc.ChunkCount, doc.Ready, doc.CreatedAt.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("store: insert document %s: %w", doc.ID, rag.ErrAlreadyExists)
		}
		return storeErr("insert document", err)
	}
	doc.Size = int64(len(data))
	return nil
}

// GetDocument returns the document with its raw bytes, or rag.ErrNotFound.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*rag.Document, error) {
	const q = `SELECT id, filename, file, size, chunk_count, ready, created_at FROM documents WHERE id = ?`
	var (
		d  rag.Document
		ts int64
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(&d.ID, &d.Filename, &d.Data, &d.Size, &d.ChunkCount, &d.Ready, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: document %s: %w", id, rag.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get document", err)
	}
	d.CreatedAt = time.Unix(0, ts).UTC()
	return &d, nil
}

// ListDocuments returns every document without raw bytes, newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]rag.Document, error) {
	const q = `SELECT id, filename, size, chunk_count, ready, created_at
FROM documents ORDER BY created_at DESC, rowid DESC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, storeErr("list documents", err)
	}
	defer rows.Close()

	var docs []rag.Document
	for rows.Next() {
		var (
			d  rag.Document
			ts int64
		)
		if err := rows.Scan(&d.ID, &d.Filename, &d.Size, &d.ChunkCount, &d.Ready, &ts); err != nil {
			return nil, storeErr("list documents scan", err)
		}
		d.CreatedAt = time.Unix(0, ts).UTC()
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list documents rows", err)
	}
	return docs, nil
}

// MarkReady records the passage count and publishes the document's passages.
func (s *SQLiteStore) MarkReady(ctx context.Context, id string, chunkCount int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET ready = 1, chunk_count = ? WHERE id = ?`, chunkCount, id)
	if err != nil {
		return storeErr("mark ready", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: mark ready %s: %w", id, rag.ErrNotFound)
	}
	return nil
}

// DeleteDocument removes the document and its passages in one transaction.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("delete document", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM passages WHERE document_id = ?`, id); err != nil {
		return storeErr("delete passages", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return storeErr("delete document", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("delete document commit", err)
	}
	return nil
}

// InsertPassages writes every passage of one document in a single
// transaction. The first vectors written fix the store's dimensionality.
func (s *SQLiteStore) InsertPassages(ctx context.Context, documentID string, passages []rag.Passage) error {
	if len(passages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dims := s.dims
	if dims == 0 {
		dims = len(passages[0].Vector)
	}
	for _, p := range passages {
		if len(p.Vector) == 0 || len(p.Vector) != dims {
			return fmt.Errorf("store: passage %d has %d dimensions, store has %d: %w",
				p.Index, len(p.Vector), dims, rag.ErrDimensionMismatch)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("insert passages", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, documentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: insert passages for %s: %w", documentID, rag.ErrNotFound)
	}
	if err != nil {
		return storeErr("insert passages", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO passages (document_id, chunk_index, chunk_text, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return storeErr("insert passages prepare", err)
	}
	defer stmt.Close()

	for _, p := range passages {
		if _, err := stmt.ExecContext(ctx, documentID, p.Index, p.Text, encodeVector(p.Vector)); err != nil {
			return storeErr("insert passage", err)
		}
	}
	if s.dims == 0 {
		if err := s.setMeta(ctx, tx, "dimensions", strconv.Itoa(dims)); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("insert passages commit", err)
	}
	s.dims = dims
	return nil
}

// Search scans every passage of every ready document and returns the topK
// nearest to vector. Equal distances keep insertion order.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, topK int, filter rag.Filter) ([]rag.Candidate, error) {
	dims := s.Dimensions()
	if dims == 0 || topK <= 0 {
		return nil, nil
	}
	if len(vector) != dims {
		return nil, fmt.Errorf("store: query has %d dimensions, store has %d: %w",
			len(vector), dims, rag.ErrDimensionMismatch)
	}

	q := `SELECT p.id, p.document_id, p.chunk_index, p.chunk_text, p.embedding
FROM passages p JOIN documents d ON d.id = p.document_id
WHERE d.ready = 1`
	var args []any
	if filter.DocumentID != "" {
		q += ` AND p.document_id = ?`
		args = append(args, filter.DocumentID)
	}
	q += ` ORDER BY p.id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("search", err)
	}
	defer rows.Close()

	var out []rag.Candidate
	for rows.Next() {
		var (
			id   int64
			c    rag.Candidate
			blob []byte
		)
		if err := rows.Scan(&id, &c.Passage.DocumentID, &c.Passage.Index, &c.Passage.Text, &blob); err != nil {
			return nil, storeErr("search scan", err)
		}
		v, err := decodeVector(blob)
		if err != nil {
			return nil, storeErr("search decode", err)
		}
		if len(v) != dims {
			return nil, fmt.Errorf("store: passage %d has %d dimensions, store has %d: %w",
				id, len(v), dims, rag.ErrDimensionMismatch)
		}
		c.Passage.ID = strconv.FormatInt(id, 10)
		c.Distance = s.metric.Distance(vector, v)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("search rows", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}
