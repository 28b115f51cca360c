package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/maildesk/maildesk-go/internal/answer"
	"github.com/maildesk/maildesk-go/internal/extract"
	"github.com/maildesk/maildesk-go/internal/index"
	"github.com/maildesk/maildesk-go/internal/mail"
	"github.com/maildesk/maildesk-go/internal/store"
)

// fakeGenerator returns a canned reply (or error) and counts calls.
type fakeGenerator struct {
	reply string
	err   error
	calls int
}

func (f *fakeGenerator) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

// cannedIndex returns fixed query results.
type cannedIndex struct {
	results []index.Scored
}

func (f *cannedIndex) Add(context.Context, []index.Item) error { return nil }
func (f *cannedIndex) Query(context.Context, string, int) ([]index.Scored, error) {
	return f.results, nil
}
func (f *cannedIndex) Ping(context.Context) error { return nil }
func (f *cannedIndex) Close() error               { return nil }

// memoryIndex answers queries by exact text match against added items with
// distance 0, approximating a real embedding index for identical text.
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

const draftJSON = `{
	"date": "01.02.2024",
	"full_name": "Петров Пётр",
	"object": "Цех 2",
	"phone": "",
	"email": "petrov@example.com",
	"factory_number": "",
	"device_type": "ДГС-200",
	"emotional_tone": "negative",
	"issue_summary": "Прибор перегревается"
}`

// testHarness wires a Coordinator over fakes and an in-memory ticket store.
type testHarness struct {
	coordinator *Coordinator
	extractGen  *fakeGenerator
	synthGen    *fakeGenerator
	history     *memoryIndex
	tickets     *store.SQLiteStore
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	examples := []map[string]string{{
		"full_letter_text": "Пример письма",
		"emotional_tone":   "neutral",
		"issue_summary":    "пример",
	}}
	data, err := json.Marshal(examples)
	if err != nil {
		t.Fatalf("marshal examples: %v", err)
	}
	examplesPath := filepath.Join(t.TempDir(), "examples.json")
	if err := os.WriteFile(examplesPath, data, 0o644); err != nil {
		t.Fatalf("write examples: %v", err)
	}

	extractGen := &fakeGenerator{reply: draftJSON}
	extractor, err := extract.NewExtractor(extractGen, examplesPath, 0)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	history := &memoryIndex{}
	docs := &cannedIndex{results: []index.Scored{
		{Text: "глава об охлаждении", Metadata: map[string]string{"source": "dgs200_manual.pdf"}, Distance: 0.3},
	}}
	synthGen := &fakeGenerator{reply: "Причина перегрева — засор фильтра."}
	rewriter := answer.NewRewriter(&fakeGenerator{reply: "перегрев ДГС-200"}, 0)
	answerer, err := answer.NewGenerator(synthGen, docs, answer.NewCache(history, 0), rewriter, answer.GeneratorConfig{})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	tickets, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = tickets.Close() })

	coordinator, err := NewCoordinator(extractor, answerer, tickets, NewMetrics(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	return &testHarness{
		coordinator: coordinator,
		extractGen:  extractGen,
		synthGen:    synthGen,
		history:     history,
		tickets:     tickets,
	}
}

func message(id, body string) mail.RawMessage {
	return mail.RawMessage{
		Sender:    "petrov@example.com",
		Subject:   "Проблема с прибором",
		Date:      time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC),
		Body:      body,
		MessageID: id,
	}
}

func TestProcessMessageFreshQuestion(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	ticket, err := h.coordinator.ProcessMessage(ctx, message("<a@mail>", "Устройство ДГС-200 перегревается"))
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if ticket == nil {
		t.Fatal("want a ticket")
	}

	if ticket.TaskStatus != store.StatusOpen {
		t.Errorf("status = %q, want OPEN", ticket.TaskStatus)
	}
	if ticket.DeviceType != "ДГС-200" {
		t.Errorf("device type = %q", ticket.DeviceType)
	}
	if ticket.Emotion != extract.EmotionNegative {
		t.Errorf("emotion = %q, want %q", ticket.Emotion, extract.EmotionNegative)
	}
	if ticket.QuestionSummary == "" {
		t.Error("issue summary must be non-empty")
	}
	if !strings.Contains(ticket.LLMAnswer, "засор фильтра") {
		t.Errorf("answer = %q, want generated text", ticket.LLMAnswer)
	}
	if ticket.AnswerSources != "dgs200_manual.pdf" {
		t.Errorf("sources = %q", ticket.AnswerSources)
	}
	if h.synthGen.calls != 1 {
		t.Errorf("synthesis calls = %d, want 1", h.synthGen.calls)
	}
	if len(h.history.items) != 1 {
		t.Errorf("cache entries = %d, want 1", len(h.history.items))
	}
}

func TestProcessMessageRepeatedQuestionHitsCache(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	body := "Устройство ДГС-200 перегревается"
	if _, err := h.coordinator.ProcessMessage(ctx, message("<a@mail>", body)); err != nil {
		t.Fatalf("first message: %v", err)
	}

	ticket, err := h.coordinator.ProcessMessage(ctx, message("<b@mail>", body))
	if err != nil {
		t.Fatalf("second message: %v", err)
	}
	if ticket == nil {
		t.Fatal("want a ticket for the second message")
	}

	if h.synthGen.calls != 1 {
		t.Errorf("synthesis calls = %d, want 1 (second answer must come from cache)", h.synthGen.calls)
	}
	if !strings.HasPrefix(ticket.LLMAnswer, historyMarker) {
		t.Errorf("cached answer must carry the history marker, got %q", ticket.LLMAnswer)
	}
	if len(h.history.items) != 1 {
		t.Errorf("cache entries = %d, want 1 (hits never write)", len(h.history.items))
	}
}

func TestProcessMessageExtractionFailureSkips(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.extractGen.err = errors.New("upstream timeout")
	_, err := h.coordinator.ProcessMessage(ctx, message("<bad@mail>", "нечитаемое письмо"))
	if !errors.Is(err, ErrSkipped) {
		t.Fatalf("err = %v, want ErrSkipped", err)
	}

	tickets, err := h.tickets.List(ctx, store.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tickets) != 0 {
		t.Errorf("tickets = %d, want 0", len(tickets))
	}
	if len(h.history.items) != 0 {
		t.Errorf("cache entries = %d, want 0", len(h.history.items))
	}

	// The batch continues: the next message still produces a ticket.
	h.extractGen.err = nil
	ticket, err := h.coordinator.ProcessMessage(ctx, message("<good@mail>", "Устройство ДГС-200 перегревается"))
	if err != nil {
		t.Fatalf("next message: %v", err)
	}
	if ticket == nil {
		t.Fatal("want a ticket for the next message")
	}
}

func TestProcessMessageRedeliveryIsNoOp(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	msg := message("<dup@mail>", "Устройство ДГС-200 перегревается")
	if _, err := h.coordinator.ProcessMessage(ctx, msg); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	ticket, err := h.coordinator.ProcessMessage(ctx, msg)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if ticket != nil {
		t.Error("redelivery must not produce a second ticket")
	}

	tickets, err := h.tickets.List(ctx, store.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tickets) != 1 {
		t.Errorf("tickets = %d, want 1", len(tickets))
	}
}

func TestProcessMessageEmptyMessageIDSkips(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.coordinator.ProcessMessage(context.Background(), message("", "текст"))
	if !errors.Is(err, ErrSkipped) {
		t.Fatalf("err = %v, want ErrSkipped", err)
	}
}

func TestLetterTextFixedOrder(t *testing.T) {
	t.Parallel()

	msg := message("<x@mail>", "тело письма")
	text := LetterText(msg)

	want := "От: petrov@example.com\nТема: Проблема с прибором\nДата: Thu, 01 Feb 2024 09:00:00 +0000\n\nтело письма"
	if text != want {
		t.Errorf("LetterText = %q, want %q", text, want)
	}
}
