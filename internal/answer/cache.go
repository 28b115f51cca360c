package answer

import (
	"context"
	"fmt"

	"github.com/maildesk/maildesk-go/internal/index"
)

// DefaultSimilarityThreshold is deliberately strict: near-duplicate but
// materially different questions must never reuse a stale answer. False
// negatives just cost one extra generation call.
const DefaultSimilarityThreshold = 0.98

// Metadata keys under which cache entries carry their payload.
const (
	metaAnswer    = "llm_answer"
	metaMessageID = "message_id"
	metaType      = "type"
	metaSource    = "source"
)

// Hit is a successful cache lookup.
type Hit struct {
	// Question is the previously answered question text.
	Question string

	// Answer is the stored answer, reused verbatim.
	Answer string

	// MessageID identifies the message whose processing produced the entry.
	MessageID string

	// Similarity is the computed similarity to the query, in [0, 1].
	Similarity float64
}

// Cache is the answer cache over the history index. Entries are append-only:
// the pipeline never updates or deletes them.
type Cache struct {
	history   index.Index
	threshold float64
}

// NewCache builds a Cache over the given history index. A non-positive
// threshold selects the default.
func NewCache(history index.Index, threshold float64) *Cache {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Cache{history: history, threshold: threshold}
}

// Lookup finds the single nearest previously answered question. It reports a
// hit only when similarity clears the threshold AND the stored answer is
// non-empty. Similarity is derived from the index's Euclidean distance as
// 1 − d²/2, which for normalized embeddings equals cosine similarity.
func (c *Cache) Lookup(ctx context.Context, question string) (Hit, bool, error) {
	results, err := c.history.Query(ctx, question, 1)
	if err != nil {
		return Hit{}, false, fmt.Errorf("answer: cache lookup failed: %w", err)
	}
	if len(results) == 0 {
		return Hit{}, false, nil
	}

	nearest := results[0]
	similarity := 1 - nearest.Distance*nearest.Distance/2
	storedAnswer := nearest.Metadata[metaAnswer]
	if similarity < c.threshold || storedAnswer == "" {
		return Hit{}, false, nil
	}

	return Hit{
		Question:   nearest.Text,
		Answer:     storedAnswer,
		MessageID:  nearest.Metadata[metaMessageID],
		Similarity: similarity,
	}, true, nil
}

// Store appends a new (question, answer) entry keyed by the originating
// message id. Called only after a freshly generated answer on a miss — never
// for a hit — so the cache grows monotonically.
func (c *Cache) Store(ctx context.Context, question, answerText, messageID string) error {
	item := index.Item{
		Text: question,
		Metadata: map[string]string{
			metaAnswer:    answerText,
			metaMessageID: messageID,
			metaType:      "pipeline",
			metaSource:    "pipeline",
		},
	}
	if err := c.history.Add(ctx, []index.Item{item}); err != nil {
		return fmt.Errorf("answer: cache store failed: %w", err)
	}
	return nil
}
