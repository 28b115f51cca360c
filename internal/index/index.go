// Package index defines the similarity-index capability the pipeline consumes:
// text goes in, nearest stored items with a distance come out. Two logical
// instances exist at runtime — a document index over technical-manual chunks
// and a history index over previously answered questions. Both are plain
// qdrant collections behind the same implementation; callers never know which
// backend they are talking to.
package index

import (
	"context"
)

// Item is a unit of text to be stored in an index together with arbitrary
// string metadata (source name, stored answer, message id, ...).
type Item struct {
	// ID is the point identifier. Empty means "assign a random one".
	// Must be a UUID string when set — deterministic IDs let re-ingestion
	// overwrite instead of duplicate.
	ID string

	// Text is the content that gets embedded and searched.
	Text string

	// Metadata holds key-value pairs returned verbatim on query.
	Metadata map[string]string
}

// Scored is a query result: a stored item plus its distance to the query.
type Scored struct {
	// Text is the stored item's content.
	Text string

	// Metadata holds the item's stored key-value pairs.
	Metadata map[string]string

	// Distance is the Euclidean distance between the (normalized) query and
	// item embeddings. Smaller is more similar; 0 means identical.
	Distance float64
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the similarity-search capability. Implementations must be safe
// to call from multiple goroutines.
type Index interface {
	// Add embeds and stores a batch of items.
	Add(ctx context.Context, items []Item) error

	// Query returns the k nearest stored items for the given text,
	// ordered by increasing distance (most similar first).
	Query(ctx context.Context, text string, k int) ([]Scored, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the index.
	Close() error
}
