package rag

import (
	"context"
	"errors"
	"fmt"
)

// PassageIndex is a vector index holding passages outside the catalog.
// QdrantIndex is the production implementation.
type PassageIndex interface {
	Searcher

	// InsertPassages writes unpublished passages for one document.
	InsertPassages(ctx context.Context, documentID string, passages []Passage) error

	// Publish makes a document's passages visible to Search.
	Publish(ctx context.Context, documentID string) error

	// DeletePassages removes every passage of a document.
	DeletePassages(ctx context.Context, documentID string) error

	// Close releases the index connection.
	Close() error
}

// CatalogCloser is a Catalog that owns a closable resource.
type CatalogCloser interface {
	Catalog
	Close() error
}

// SplitStore is a Store whose documents live in a Catalog and whose
// passages live in a separate PassageIndex. MarkReady publishes the index
// before flipping the catalog, and Search only consults the index, so
// unpublished passages are never returned.
type SplitStore struct {
	// catalog holds document records.
	catalog CatalogCloser

	// index holds passage vectors.
	index PassageIndex
}

// NewSplitStore pairs a catalog with a passage index.
func NewSplitStore(catalog CatalogCloser, index PassageIndex) *SplitStore {
	return &SplitStore{catalog: catalog, index: index}
}

// InsertDocument implements Catalog.
func (s *SplitStore) InsertDocument(ctx context.Context, doc *Document) error {
	return s.catalog.InsertDocument(ctx, doc)
}

// GetDocument implements Catalog.
func (s *SplitStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	return s.catalog.GetDocument(ctx, id)
}

// ListDocuments implements Catalog.
func (s *SplitStore) ListDocuments(ctx context.Context) ([]Document, error) {
	return s.catalog.ListDocuments(ctx)
}

// InsertPassages implements Store. The document must already be in the catalog.
func (s *SplitStore) InsertPassages(ctx context.Context, documentID string, passages []Passage) error {
	if _, err := s.catalog.GetDocument(ctx, documentID); err != nil {
		return fmt.Errorf("split store: insert passages: %w", err)
	}
	return s.index.InsertPassages(ctx, documentID, passages)
}

// MarkReady implements Catalog.
func (s *SplitStore) MarkReady(ctx context.Context, id string, chunkCount int) error {
	if err := s.index.Publish(ctx, id); err != nil {
		return err
	}
	return s.catalog.MarkReady(ctx, id, chunkCount)
}

// DeleteDocument implements Catalog. Index points go first so a partial
// failure never leaves searchable passages without a document.
func (s *SplitStore) DeleteDocument(ctx context.Context, id string) error {
	if err := s.index.DeletePassages(ctx, id); err != nil {
		return err
	}
	return s.catalog.DeleteDocument(ctx, id)
}

// Search implements Searcher.
func (s *SplitStore) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Candidate, error) {
	return s.index.Search(ctx, vector, topK, filter)
}

// Close closes the index and the catalog.
func (s *SplitStore) Close() error {
	return errors.Join(s.index.Close(), s.catalog.Close())
}
