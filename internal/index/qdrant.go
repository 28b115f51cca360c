package index

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for one Qdrant-backed index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name backing this index.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements Index backed by one Qdrant collection plus an
// Embedder that vectorises text at add and query time.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// embedder converts item and query text to dense vectors.
	embedder Embedder

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// NewQdrantIndex creates a QdrantIndex, ensuring the target collection exists
// (creating it with cosine distance if necessary).
func NewQdrantIndex(ctx context.Context, embedder Embedder, cfg *QdrantConfig) (*QdrantIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("index: embedder must not be nil")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("index: collection name must not be empty")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("index: failed to create qdrant client: %w", err)
	}

	idx := &QdrantIndex{client: client, embedder: embedder, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return idx, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("index: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("index: failed to create collection %q: %w", q.cfg.Collection, err)
	}

	return nil
}

// Add embeds and upserts a batch of items into the collection.
func (q *QdrantIndex) Add(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Text
	}

	embeddings, err := q.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("index: embedding %d items failed: %w", len(items), err)
	}
	if len(embeddings) != len(items) {
		return fmt.Errorf("index: expected %d embeddings, got %d", len(items), len(embeddings))
	}

	points := make([]*qdrant.PointStruct, 0, len(items))
	for i, item := range items {
		id := item.ID
		if id == "" {
			id = uuid.NewString()
		}

		payload := map[string]any{"text": item.Text}
		for k, v := range item.Metadata {
			payload[k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("index: upsert into %q failed: %w", q.cfg.Collection, err)
	}

	return nil
}

// Query embeds the text and returns the k nearest stored items, ordered by
// increasing distance.
func (q *QdrantIndex) Query(ctx context.Context, text string, k int) ([]Scored, error) {
	if k <= 0 {
		k = 1
	}

	embeddings, err := q.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("index: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("index: embedder returned empty result for query")
	}

	limit := uint64(k) //nolint:gosec // k is a small positive retrieval count
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(embeddings[0]...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("index: query against %q failed: %w", q.cfg.Collection, err)
	}

	scored := make([]Scored, 0, len(results))
	for _, r := range results {
		s := Scored{
			Distance: cosineScoreToDistance(float64(r.Score)),
			Metadata: make(map[string]string),
		}
		if p := r.Payload; p != nil {
			if v, ok := p["text"]; ok {
				s.Text = v.GetStringValue()
			}
			for key, v := range p {
				if key != "text" {
					s.Metadata[key] = v.GetStringValue()
				}
			}
		}
		scored = append(scored, s)
	}

	return scored, nil
}

// Ping calls the Qdrant HealthCheck RPC.
func (q *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("index: qdrant health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// cosineScoreToDistance converts the cosine similarity score Qdrant returns
// into the Euclidean distance between the corresponding normalized vectors:
// d = sqrt(2·(1 − cos)). Downstream threshold logic inverts this with
// similarity = 1 − d²/2, so the round trip is exact.
func cosineScoreToDistance(score float64) float64 {
	d := 2 * (1 - score)
	if d < 0 {
		d = 0
	}
	return math.Sqrt(d)
}
