package extract

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
)

// fakeGenerator returns a canned reply (or error) and records the prompt it
// received.
type fakeGenerator struct {
	reply string
	err   error

	lastMessages []*schema.Message
	calls        int
}

func (f *fakeGenerator) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.calls++
	f.lastMessages = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

// writeExamples creates a minimal examples file in a temp dir.
func writeExamples(t *testing.T) string {
	t.Helper()
	examples := []map[string]string{
		{
			"full_letter_text": "От: ivanov@example.com\nТема: Не работает датчик\nПрибор ДГС-210 показывает ошибку E-04.",
			"date":             "12.03.2024",
			"full_name":        "Иванов Иван",
			"object":           "Котельная №3",
			"phone":            "",
			"email":            "ivanov@example.com",
			"factory_number":   "123456789",
			"device_type":      "ДГС-210",
			"emotional_tone":   "neutral",
			"issue_summary":    "Ошибка E-04 на датчике",
		},
	}
	data, err := json.Marshal(examples)
	if err != nil {
		t.Fatalf("marshal examples: %v", err)
	}
	path := filepath.Join(t.TempDir(), "examples.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write examples: %v", err)
	}
	return path
}

func TestExtractParsesReply(t *testing.T) {
	gen := &fakeGenerator{reply: `{
		"date": "01.02.2024",
		"full_name": "Петров Пётр",
		"object": "Цех 2",
		"phone": "+7 900 000-00-00",
		"email": "petrov@example.com",
		"factory_number": "987654321",
		"device_type": "ДГС-200",
		"emotional_tone": "негативное",
		"issue_summary": "Прибор перегревается"
	}`}

	ex, err := NewExtractor(gen, writeExamples(t), 0)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	draft, err := ex.Extract(context.Background(), "Прибор ДГС-200 перегревается")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if draft.FullName != "Петров Пётр" {
		t.Errorf("FullName = %q", draft.FullName)
	}
	if draft.DeviceType != "ДГС-200" {
		t.Errorf("DeviceType = %q", draft.DeviceType)
	}
	if draft.Emotion != EmotionNegative {
		t.Errorf("Emotion = %q, want %q", draft.Emotion, EmotionNegative)
	}
	if gen.calls != 1 {
		t.Errorf("generator called %d times, want 1", gen.calls)
	}
}

func TestExtractPromptCarriesExamplesAndLetter(t *testing.T) {
	gen := &fakeGenerator{reply: `{}`}
	ex, err := NewExtractor(gen, writeExamples(t), 0)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	letter := "Прибор ДГС-200 перегревается"
	if _, err := ex.Extract(context.Background(), letter); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if len(gen.lastMessages) != 2 {
		t.Fatalf("got %d messages, want 2", len(gen.lastMessages))
	}
	if gen.lastMessages[0].Role != schema.System {
		t.Errorf("first message role = %v, want system", gen.lastMessages[0].Role)
	}
	user := gen.lastMessages[1].Content
	if !strings.Contains(user, "НАЧАЛО БЛОКА ПРИМЕРОВ") {
		t.Error("user prompt is missing the example block")
	}
	if !strings.Contains(user, "Пример 1:") {
		t.Error("user prompt is missing the first example")
	}
	if !strings.Contains(user, letter) {
		t.Error("user prompt is missing the letter text")
	}
}

func TestExtractEmptyFieldsStayEmptyExceptEmotion(t *testing.T) {
	gen := &fakeGenerator{reply: `{"issue_summary": "вопрос по настройке"}`}
	ex, err := NewExtractor(gen, writeExamples(t), 0)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	draft, err := ex.Extract(context.Background(), "как настроить прибор?")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if draft.FullName != "" || draft.Phone != "" || draft.FactoryNumber != "" {
		t.Errorf("optional fields should default to empty: %+v", draft)
	}
	if draft.Emotion != EmotionNeutral {
		t.Errorf("Emotion = %q, want %q", draft.Emotion, EmotionNeutral)
	}
}

func TestExtractMalformedReply(t *testing.T) {
	gen := &fakeGenerator{reply: "Вот данные: ```json\n{}\n```"}
	ex, err := NewExtractor(gen, writeExamples(t), 0)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	_, err = ex.Extract(context.Background(), "текст письма")
	if !errors.Is(err, ErrMalformedReply) {
		t.Fatalf("err = %v, want ErrMalformedReply", err)
	}
}

func TestExtractGenerationError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("connection refused")}
	ex, err := NewExtractor(gen, writeExamples(t), 0)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	if _, err := ex.Extract(context.Background(), "текст письма"); err == nil {
		t.Fatal("expected error from failing generator")
	}
}

func TestNormaliseEmotion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"positive", EmotionPositive},
		{"положительное", EmotionPositive},
		{"NEGATIVE", EmotionNegative},
		{"негативное", EmotionNegative},
		{"отрицательное", EmotionNegative},
		{"neutral", EmotionNeutral},
		{"нейтральное", EmotionNeutral},
		{"", EmotionNeutral},
		{"confused", EmotionNeutral},
	}
	for _, tt := range tests {
		if got := normaliseEmotion(tt.in); got != tt.want {
			t.Errorf("normaliseEmotion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	fixed := func() time.Time {
		return time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)
	}
	today := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"12.03.2024", time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)},
		{"2024-03-12", time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)},
		{"12/03/2024", time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)},
		{"Mon, 11 Mar 2024 09:00:00 +0300", time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)},
		{"", today},
		{"не дата", today},
	}
	for _, tt := range tests {
		if got := ParseDate(tt.in, fixed); !got.Equal(tt.want) {
			t.Errorf("ParseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
