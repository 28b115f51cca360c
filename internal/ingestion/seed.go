package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/maildesk/maildesk-go/internal/index"
)

// SeedEntry is one curated question/answer pair loaded into the history
// index, giving the answer cache useful content before any real mail has
// been processed.
type SeedEntry struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	MessageID string `json:"message_id"`
}

// LoadSeedFile parses a JSON array of seed entries from path.
func LoadSeedFile(path string) ([]SeedEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: read seed file: %w", err)
	}
	var entries []SeedEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("ingestion: parse seed file %s: %w", path, err)
	}
	return entries, nil
}

// Seed stores the entries in the history index under the same metadata shape
// the pipeline writes, so seeded answers are indistinguishable from cached
// ones at lookup time. Point IDs derive from message_id: re-seeding updates
// in place.
func Seed(ctx context.Context, history index.Index, entries []SeedEntry) error {
	items := make([]index.Item, 0, len(entries))
	for i, e := range entries {
		if e.Question == "" || e.Answer == "" {
			return fmt.Errorf("ingestion: seed entry %d: question and answer must not be empty", i)
		}
		messageID := e.MessageID
		if messageID == "" {
			messageID = fmt.Sprintf("manual_seed_%03d", i+1)
		}
		items = append(items, index.Item{
			ID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte(messageID)).String(),
			Text: e.Question,
			Metadata: map[string]string{
				"llm_answer": e.Answer,
				"message_id": messageID,
				"type":       "manual_seed",
				"source":     "manual_initialization",
			},
		})
	}
	if len(items) == 0 {
		return nil
	}
	if err := history.Add(ctx, items); err != nil {
		return fmt.Errorf("ingestion: seed history: %w", err)
	}
	return nil
}
