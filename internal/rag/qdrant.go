package rag

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys stored on every Qdrant point.
const (
	payloadDocumentID = "document_id"
	payloadChunkIndex = "chunk_index"
	payloadContent    = "content"
	payloadReady      = "ready"
)

// QdrantConfig holds connection parameters for a Qdrant passage index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use (default: docqa).
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// Metric is the distance the collection is created with.
	Metric Metric

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex stores passages as Qdrant points. It holds no document
// records; pair it with a Catalog through SplitStore.
//
// Points are written with ready=false and flipped to ready=true by Publish,
// so a half-ingested document never shows up in Search.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// NewQdrantIndex connects to Qdrant and ensures the target collection and
// its payload indexes exist.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "docqa"
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricEuclidean
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size must be set: %w", ErrInvalidInput)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

// Client exposes the underlying client for health probes.
func (q *QdrantIndex) Client() *qdrant.Client {
	return q.client
}

// qdrantDistance maps a Metric to the collection distance.
func qdrantDistance(m Metric) qdrant.Distance {
	switch m {
	case MetricCosine:
		return qdrant.Distance_Cosine
	case MetricDot:
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Euclid
	}
}

// scoreToDistance converts a Qdrant score into an ascending distance.
// Qdrant reports cosine and dot as similarities and euclid as a distance.
func scoreToDistance(m Metric, score float32) float32 {
	switch m {
	case MetricCosine:
		return 1 - score
	case MetricDot:
		return -score
	default:
		return score
	}
}

// ensureCollection creates the collection and the payload indexes used by
// the search filter if they do not already exist.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrantDistance(q.cfg.Metric),
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", q.cfg.Collection, err)
	}

	indexes := []struct {
		field string
		kind  qdrant.FieldType
	}{
		{payloadDocumentID, qdrant.FieldType_FieldTypeKeyword},
		{payloadReady, qdrant.FieldType_FieldTypeBool},
	}
	for _, ix := range indexes {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.cfg.Collection,
			Wait:           qdrant.PtrOf(true),
			FieldName:      ix.field,
			FieldType:      qdrant.PtrOf(ix.kind),
		})
		if err != nil {
			return fmt.Errorf("qdrant: failed to index payload field %q: %w", ix.field, err)
		}
	}
	return nil
}

// pointID derives a deterministic point UUID from the passage position, so
// retrying an ingestion overwrites rather than duplicates.
func pointID(documentID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(documentID+"#"+strconv.Itoa(index))).String()
}

// documentFilter matches every point belonging to documentID.
func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatchKeyword(payloadDocumentID, documentID)},
	}
}

// InsertPassages upserts every passage of one document as unpublished points.
func (q *QdrantIndex) InsertPassages(ctx context.Context, documentID string, passages []Passage) error {
	if len(passages) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(passages))
	for _, p := range passages {
		if uint64(len(p.Vector)) != q.cfg.VectorSize {
			return fmt.Errorf("qdrant: passage %d has %d dimensions, collection has %d: %w",
				p.Index, len(p.Vector), q.cfg.VectorSize, ErrDimensionMismatch)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(documentID, p.Index)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadDocumentID: documentID,
				payloadChunkIndex: int64(p.Index),
				payloadContent:    p.Text,
				payloadReady:      false,
			}),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w: %w", ErrStore, err)
	}
	return nil
}

// Publish marks every point of documentID as ready for search.
func (q *QdrantIndex) Publish(ctx context.Context, documentID string) error {
	_, err := q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Payload:        qdrant.NewValueMap(map[string]any{payloadReady: true}),
		PointsSelector: qdrant.NewPointsSelectorFilter(documentFilter(documentID)),
	})
	if err != nil {
		return fmt.Errorf("qdrant: publish %s failed: %w: %w", documentID, ErrStore, err)
	}
	return nil
}

// DeletePassages removes every point of documentID.
func (q *QdrantIndex) DeletePassages(ctx context.Context, documentID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(documentFilter(documentID)),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete %s failed: %w: %w", documentID, ErrStore, err)
	}
	return nil
}

// CountPassages returns the number of points stored for documentID.
func (q *QdrantIndex) CountPassages(ctx context.Context, documentID string) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.cfg.Collection,
		Filter:         documentFilter(documentID),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count %s failed: %w: %w", documentID, ErrStore, err)
	}
	return int(n), nil
}

// Search returns up to topK published passages nearest to vector.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Candidate, error) {
	if uint64(len(vector)) != q.cfg.VectorSize {
		return nil, fmt.Errorf("qdrant: query has %d dimensions, collection has %d: %w",
			len(vector), q.cfg.VectorSize, ErrDimensionMismatch)
	}
	if topK <= 0 {
		return nil, nil
	}

	must := []*qdrant.Condition{qdrant.NewMatchBool(payloadReady, true)}
	if filter.DocumentID != "" {
		must = append(must, qdrant.NewMatchKeyword(payloadDocumentID, filter.DocumentID))
	}

	limit := uint64(topK)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         &qdrant.Filter{Must: must},
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w: %w", ErrStore, err)
	}

	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		c := Candidate{
			Passage:  Passage{ID: r.GetId().GetUuid()},
			Distance: scoreToDistance(q.cfg.Metric, r.GetScore()),
		}
		if p := r.GetPayload(); p != nil {
			c.Passage.DocumentID = p[payloadDocumentID].GetStringValue()
			c.Passage.Index = int(p[payloadChunkIndex].GetIntegerValue())
			c.Passage.Text = p[payloadContent].GetStringValue()
		}
		out = append(out, c)
	}

	// Qdrant does not order equal scores; fall back to chunk position.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Passage.Index < out[j].Passage.Index
	})
	return out, nil
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
