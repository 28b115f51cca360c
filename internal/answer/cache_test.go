package answer

import (
	"context"
	"math"
	"testing"

	"github.com/maildesk/maildesk-go/internal/index"
)

// cannedIndex returns fixed query results and records calls.
type cannedIndex struct {
	results  []index.Scored
	queryErr error
	addErr   error

	added   []index.Item
	queries []string
}

func (f *cannedIndex) Add(_ context.Context, items []index.Item) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, items...)
	return nil
}

func (f *cannedIndex) Query(_ context.Context, text string, _ int) ([]index.Scored, error) {
	f.queries = append(f.queries, text)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.results, nil
}

func (f *cannedIndex) Ping(context.Context) error { return nil }
func (f *cannedIndex) Close() error               { return nil }

// memoryIndex answers queries by exact text match against added items, with
// distance 0 — the self-consistency behavior of a real embedding index for
// identical text.
type memoryIndex struct {
	items []index.Item
}

func (m *memoryIndex) Add(_ context.Context, items []index.Item) error {
	m.items = append(m.items, items...)
	return nil
}

func (m *memoryIndex) Query(_ context.Context, text string, _ int) ([]index.Scored, error) {
	for _, item := range m.items {
		if item.Text == text {
			return []index.Scored{{Text: item.Text, Metadata: item.Metadata, Distance: 0}}, nil
		}
	}
	return nil, nil
}

func (m *memoryIndex) Ping(context.Context) error { return nil }
func (m *memoryIndex) Close() error               { return nil }

// distanceForSimilarity inverts similarity = 1 − d²/2.
func distanceForSimilarity(s float64) float64 {
	return math.Sqrt(2 * (1 - s))
}

func TestCacheLookupThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		distance  float64
		threshold float64
		answer    string
		wantHit   bool
	}{
		{"above threshold", distanceForSimilarity(0.995), 0.98, "cached answer", true},
		// distance 0.25 gives similarity exactly 0.96875 in binary floats,
		// so "≥ threshold" is exercised without rounding noise.
		{"exactly at threshold", 0.25, 0.96875, "cached answer", true},
		{"below threshold", distanceForSimilarity(0.97), 0.98, "cached answer", false},
		{"identical question", 0, 0.98, "cached answer", true},
		{"empty stored answer never hits", 0, 0.98, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			idx := &cannedIndex{results: []index.Scored{{
				Text:     "как сбросить настройки",
				Metadata: map[string]string{"llm_answer": tt.answer, "message_id": "m-1"},
				Distance: tt.distance,
			}}}
			cache := NewCache(idx, tt.threshold)

			hit, ok, err := cache.Lookup(context.Background(), "как сбросить настройки")
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if ok != tt.wantHit {
				t.Fatalf("hit = %v, want %v", ok, tt.wantHit)
			}
			if ok && hit.Answer != tt.answer {
				t.Errorf("Answer = %q, want %q", hit.Answer, tt.answer)
			}
		})
	}
}

func TestCacheLookupEmptyIndex(t *testing.T) {
	t.Parallel()

	cache := NewCache(&cannedIndex{}, 0)
	_, ok, err := cache.Lookup(context.Background(), "вопрос")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatal("expected miss on empty index")
	}
}

func TestCacheStoreThenLookup(t *testing.T) {
	t.Parallel()

	cache := NewCache(&memoryIndex{}, 0)
	question := "Ошибка Е05 на дисплее термостата"
	answerText := "Ошибка Е05 означает неисправность датчика температуры."

	if err := cache.Store(context.Background(), question, answerText, "msg-42"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	hit, ok, err := cache.Lookup(context.Background(), question)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatal("expected hit for identical question")
	}
	if hit.Answer != answerText {
		t.Errorf("Answer = %q, want %q", hit.Answer, answerText)
	}
	if hit.MessageID != "msg-42" {
		t.Errorf("MessageID = %q, want %q", hit.MessageID, "msg-42")
	}
	if hit.Similarity != 1.0 {
		t.Errorf("Similarity = %v, want 1.0", hit.Similarity)
	}
}

func TestCacheDefaultThreshold(t *testing.T) {
	t.Parallel()

	idx := &cannedIndex{results: []index.Scored{{
		Text:     "вопрос",
		Metadata: map[string]string{"llm_answer": "ответ"},
		Distance: distanceForSimilarity(0.979),
	}}}
	cache := NewCache(idx, 0)

	_, ok, err := cache.Lookup(context.Background(), "вопрос")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatal("0.979 similarity must miss at the default 0.98 threshold")
	}
}
