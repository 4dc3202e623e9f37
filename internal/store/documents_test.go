package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/54b3r/docqa-go/internal/rag"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seed inserts a document with one passage per vector and optionally marks
// it ready.
func seed(t *testing.T, s *SQLiteStore, id string, ready bool, vectors ...[]float32) {
	t.Helper()
	ctx := context.Background()
	if err := s.InsertDocument(ctx, &rag.Document{ID: id, Filename: id + ".txt", Data: []byte(id)}); err != nil {
		t.Fatalf("insert document %s: %v", id, err)
	}
	passages := make([]rag.Passage, len(vectors))
	for i, v := range vectors {
		passages[i] = rag.Passage{DocumentID: id, Index: i, Text: fmt.Sprintf("%s-%d", id, i), Vector: v}
	}
	if err := s.InsertPassages(ctx, id, passages); err != nil {
		t.Fatalf("insert passages %s: %v", id, err)
	}
	if ready {
		if err := s.MarkReady(ctx, id, len(vectors)); err != nil {
			t.Fatalf("mark ready %s: %v", id, err)
		}
	}
}

// insertDoc is seed without *testing.T, for use from goroutines.
func insertDoc(s *SQLiteStore, id string, ready bool, vector []float32) error {
	ctx := context.Background()
	if err := s.InsertDocument(ctx, &rag.Document{ID: id, Data: []byte(id)}); err != nil {
		return err
	}
	if err := s.InsertPassages(ctx, id, []rag.Passage{{DocumentID: id, Text: id, Vector: vector}}); err != nil {
		return err
	}
	if !ready {
		return nil
	}
	return s.MarkReady(ctx, id, 1)
}

func Test_Store_DocumentRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	doc := &rag.Document{ID: "abc", Filename: "report.pdf", Data: []byte("%PDF-1.7")}
	if err := s.InsertDocument(ctx, doc); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.GetDocument(ctx, "abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Filename != "report.pdf" || string(got.Data) != "%PDF-1.7" || got.Size != 8 || got.Ready {
		t.Errorf("unexpected document: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	if err := s.InsertDocument(ctx, &rag.Document{ID: "abc", Filename: "dup"}); !errors.Is(err, rag.ErrAlreadyExists) {
		t.Errorf("duplicate insert err = %v, want ErrAlreadyExists", err)
	}
	if _, err := s.GetDocument(ctx, "missing"); !errors.Is(err, rag.ErrNotFound) {
		t.Errorf("missing get err = %v, want ErrNotFound", err)
	}
	if err := s.MarkReady(ctx, "missing", 1); !errors.Is(err, rag.ErrNotFound) {
		t.Errorf("missing mark ready err = %v, want ErrNotFound", err)
	}
}

func Test_Store_ListDocumentsOmitsBytes(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seed(t, s, "first", true, []float32{1, 0})
	seed(t, s, "second", false, []float32{0, 1})

	docs, err := s.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("want 2 documents, got %d", len(docs))
	}
	if docs[0].ID != "second" {
		t.Errorf("want newest first, got %s", docs[0].ID)
	}
	for _, d := range docs {
		if d.Data != nil {
			t.Errorf("document %s carries bytes in listing", d.ID)
		}
	}
	if !docs[1].Ready || docs[1].ChunkCount != 1 {
		t.Errorf("first document: %+v", docs[1])
	}
}

func Test_Store_SearchOrdersByDistance(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seed(t, s, "doc", true, []float32{3, 0}, []float32{1, 0}, []float32{2, 0})

	got, err := s.Search(context.Background(), []float32{0, 0}, 2, rag.Filter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 candidates, got %d", len(got))
	}
	if got[0].Passage.Text != "doc-1" || got[1].Passage.Text != "doc-2" {
		t.Errorf("order: %s, %s", got[0].Passage.Text, got[1].Passage.Text)
	}
	if got[0].Distance != 1 || got[1].Distance != 2 {
		t.Errorf("distances: %v, %v", got[0].Distance, got[1].Distance)
	}
}

func Test_Store_SearchTiesKeepInsertionOrder(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seed(t, s, "doc", true, []float32{0, 1}, []float32{1, 0}, []float32{0, -1})

	got, err := s.Search(context.Background(), []float32{0, 0}, 3, rag.Filter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for i, want := range []string{"doc-0", "doc-1", "doc-2"} {
		if got[i].Passage.Text != want {
			t.Errorf("candidate %d = %s, want %s", i, got[i].Passage.Text, want)
		}
	}
}

func Test_Store_SearchOnlySeesReadyDocuments(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seed(t, s, "ready", true, []float32{1, 1})
	seed(t, s, "pending", false, []float32{1, 1})

	got, err := s.Search(context.Background(), []float32{1, 1}, 10, rag.Filter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Passage.DocumentID != "ready" {
		t.Fatalf("want only the ready document, got %+v", got)
	}

	got, _ = s.Search(context.Background(), []float32{1, 1}, 10, rag.Filter{DocumentID: "pending"})
	if len(got) != 0 {
		t.Errorf("pending document visible through filter: %+v", got)
	}
}

func Test_Store_SearchFilterByDocument(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seed(t, s, "a", true, []float32{1, 0})
	seed(t, s, "b", true, []float32{1, 0})

	got, err := s.Search(context.Background(), []float32{1, 0}, 10, rag.Filter{DocumentID: "b"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Passage.DocumentID != "b" {
		t.Errorf("filter leaked: %+v", got)
	}
}

func Test_Store_EmptyStoreSearch(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	got, err := s.Search(context.Background(), []float32{1, 2, 3}, 25, rag.Filter{})
	if err != nil || len(got) != 0 {
		t.Fatalf("empty store search = %v, %v", got, err)
	}
}

func Test_Store_DimensionMismatch(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seed(t, s, "doc", true, []float32{1, 2})
	ctx := context.Background()

	if _, err := s.Search(ctx, []float32{1, 2, 3}, 5, rag.Filter{}); !errors.Is(err, rag.ErrDimensionMismatch) {
		t.Errorf("search err = %v, want ErrDimensionMismatch", err)
	}

	if err := s.InsertDocument(ctx, &rag.Document{ID: "other"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := s.InsertPassages(ctx, "other", []rag.Passage{{Vector: []float32{1, 2, 3}}})
	if !errors.Is(err, rag.ErrDimensionMismatch) {
		t.Errorf("insert err = %v, want ErrDimensionMismatch", err)
	}
}

func Test_Store_InsertPassagesRequiresDocument(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	err := s.InsertPassages(context.Background(), "missing", []rag.Passage{{Vector: []float32{1}}})
	if !errors.Is(err, rag.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func Test_Store_DeleteDocumentRemovesPassages(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seed(t, s, "doc", true, []float32{1, 0}, []float32{0, 1})
	ctx := context.Background()

	if err := s.DeleteDocument(ctx, "doc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetDocument(ctx, "doc"); !errors.Is(err, rag.ErrNotFound) {
		t.Errorf("get after delete err = %v", err)
	}
	if got, _ := s.Search(ctx, []float32{1, 0}, 10, rag.Filter{}); len(got) != 0 {
		t.Errorf("passages survive delete: %+v", got)
	}
	if err := s.DeleteDocument(ctx, "doc"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func Test_Store_ConcurrentSearchDuringInsert(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seed(t, s, "base", true, []float32{0, 0})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if err := insertDoc(s, fmt.Sprintf("doc-%d", i), i%2 == 0, []float32{float32(i), 0}); err != nil {
				t.Errorf("insert doc-%d: %v", i, err)
			}
		}(i)
		go func() {
			defer wg.Done()
			got, err := s.Search(context.Background(), []float32{0, 0}, 25, rag.Filter{})
			if err != nil {
				t.Errorf("search: %v", err)
				return
			}
			for _, c := range got {
				doc, err := s.GetDocument(context.Background(), c.Passage.DocumentID)
				if err == nil && !doc.Ready {
					t.Errorf("unready document %s returned", doc.ID)
				}
			}
		}()
	}
	wg.Wait()
}

func Test_Store_ReopenKeepsDimensionsAndMetric(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "docqa.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	seed(t, s, "doc", true, []float32{1, 2, 3})
	_ = s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if s.Dimensions() != 3 {
		t.Errorf("dimensions after reopen = %d, want 3", s.Dimensions())
	}
	_ = s.Close()

	if _, err := Open(path, WithDimensions(4)); !errors.Is(err, rag.ErrDimensionMismatch) {
		t.Errorf("reopen with other dimensions err = %v, want ErrDimensionMismatch", err)
	}
	if _, err := Open(path, WithMetric(rag.MetricCosine)); !errors.Is(err, rag.ErrInvalidInput) {
		t.Errorf("reopen with other metric err = %v, want ErrInvalidInput", err)
	}
}

func Test_VectorCodec(t *testing.T) {
	t.Parallel()
	in := []float32{0, -1.5, 3.25, 1e-7}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("element %d: %v != %v", i, out[i], in[i])
		}
	}
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
