package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/maildesk/maildesk-go/internal/index"
)

// fakeGenerator returns a canned reply (or error) and counts calls.
type fakeGenerator struct {
	reply string
	err   error

	calls        int
	lastMessages []*schema.Message
}

func (f *fakeGenerator) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.calls++
	f.lastMessages = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func newTestGenerator(t *testing.T, gen *fakeGenerator, docs index.Index, history index.Index) *Generator {
	t.Helper()
	cache := NewCache(history, 0)
	// The rewriter shares the synthesis model in production; tests give it
	// its own fake so generation-call counts stay unambiguous.
	rewriter := NewRewriter(&fakeGenerator{reply: "перегрев ДГС-200"}, 0)
	g, err := NewGenerator(gen, docs, cache, rewriter, GeneratorConfig{})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

func TestAnswerNoChunksReturnsFixedSentence(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: "должно не вызываться"}
	docs := &cannedIndex{}
	history := &cannedIndex{}
	g := newTestGenerator(t, gen, docs, history)

	res := g.Answer(context.Background(), "Устройство ДГС-200 перегревается", "msg-1")

	if res.Text != NoInformationFound {
		t.Errorf("Text = %q, want exactly %q", res.Text, NoInformationFound)
	}
	if gen.calls != 0 {
		t.Errorf("synthesis model called %d times, want 0", gen.calls)
	}
	// Both the rewritten and the original query must have been tried.
	if len(docs.queries) != 2 {
		t.Errorf("document index queried %d times, want 2", len(docs.queries))
	}
	if len(history.added) != 0 {
		t.Error("no-information fallback must not be cached")
	}
}

func TestAnswerGeneratesWithSourcesFooter(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: "Причина перегрева — засор фильтра."}
	docs := &cannedIndex{results: []index.Scored{
		{Text: "глава об охлаждении", Metadata: map[string]string{"source": "dgs200_manual.pdf"}, Distance: 0.3},
		{Text: "общие сведения", Metadata: map[string]string{"source": "common.pdf"}, Distance: 0.5},
		{Text: "ещё об охлаждении", Metadata: map[string]string{"source": "dgs200_manual.pdf"}, Distance: 0.6},
	}}
	history := &cannedIndex{}
	g := newTestGenerator(t, gen, docs, history)

	res := g.Answer(context.Background(), "Устройство ДГС-200 перегревается", "msg-1")

	if res.FromCache {
		t.Error("FromCache = true on an empty cache")
	}
	if !strings.HasPrefix(res.Text, "Причина перегрева") {
		t.Errorf("Text = %q, want generated answer first", res.Text)
	}
	wantFooter := "Использованные файлы: common.pdf, dgs200_manual.pdf"
	if !strings.Contains(res.Text, wantFooter) {
		t.Errorf("Text = %q, want footer %q", res.Text, wantFooter)
	}
	if len(res.Sources) != 2 || res.Sources[0] != "common.pdf" || res.Sources[1] != "dgs200_manual.pdf" {
		t.Errorf("Sources = %v, want sorted distinct names", res.Sources)
	}
	if gen.calls != 1 {
		t.Errorf("synthesis model called %d times, want 1", gen.calls)
	}

	// The freshly generated answer is written back under the original question.
	if len(history.added) != 1 {
		t.Fatalf("cache entries stored = %d, want 1", len(history.added))
	}
	entry := history.added[0]
	if entry.Text != "Устройство ДГС-200 перегревается" {
		t.Errorf("cached question = %q", entry.Text)
	}
	if entry.Metadata["llm_answer"] != res.Text {
		t.Error("cached answer differs from returned answer")
	}
	if entry.Metadata["message_id"] != "msg-1" {
		t.Errorf("cached message_id = %q", entry.Metadata["message_id"])
	}
}

func TestAnswerContextBlockCarriesChunks(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: "ответ"}
	docs := &cannedIndex{results: []index.Scored{
		{Text: "содержимое главы", Metadata: map[string]string{"source": "manual.pdf"}, Distance: 0.3},
	}}
	g := newTestGenerator(t, gen, docs, &cannedIndex{})

	g.Answer(context.Background(), "вопрос", "msg-1")

	if len(gen.lastMessages) != 2 {
		t.Fatalf("got %d messages, want 2", len(gen.lastMessages))
	}
	user := gen.lastMessages[1].Content
	if !strings.Contains(user, "[Источник: manual.pdf]") {
		t.Error("user prompt is missing the chunk source label")
	}
	if !strings.Contains(user, "содержимое главы") {
		t.Error("user prompt is missing the chunk content")
	}
	if !strings.Contains(user, "вопрос") {
		t.Error("user prompt is missing the question")
	}
}

func TestAnswerCacheHitSkipsRetrievalAndGeneration(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: "не должно вызываться"}
	docs := &cannedIndex{}
	history := &cannedIndex{results: []index.Scored{{
		Text:     "Устройство ДГС-200 перегревается",
		Metadata: map[string]string{"llm_answer": "Проверьте фильтр.", "message_id": "msg-0"},
		Distance: 0,
	}}}
	g := newTestGenerator(t, gen, docs, history)

	res := g.Answer(context.Background(), "Устройство ДГС-200 перегревается", "msg-1")

	if !res.FromCache {
		t.Fatal("FromCache = false on an exact history match")
	}
	if res.Text != "Проверьте фильтр." {
		t.Errorf("Text = %q, want cached answer verbatim", res.Text)
	}
	if gen.calls != 0 {
		t.Errorf("synthesis model called %d times, want 0", gen.calls)
	}
	if len(docs.queries) != 0 {
		t.Errorf("document index queried %d times, want 0", len(docs.queries))
	}
	if len(history.added) != 0 {
		t.Error("cache hit must not trigger a cache write")
	}
}

func TestAnswerGenerationFailureEmbedsError(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{err: errors.New("upstream timeout")}
	docs := &cannedIndex{results: []index.Scored{
		{Text: "глава", Metadata: map[string]string{"source": "manual.pdf"}, Distance: 0.3},
	}}
	history := &cannedIndex{}
	g := newTestGenerator(t, gen, docs, history)

	res := g.Answer(context.Background(), "вопрос", "msg-1")

	if !strings.Contains(res.Text, "Ошибка при обращении к нейросети") {
		t.Errorf("Text = %q, want embedded error text", res.Text)
	}
	if !strings.Contains(res.Text, "upstream timeout") {
		t.Errorf("Text = %q, want underlying cause", res.Text)
	}
	if len(history.added) != 0 {
		t.Error("degraded answers must not be cached")
	}
}

func TestAnswerCacheLookupErrorTreatedAsMiss(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{reply: "свежий ответ"}
	docs := &cannedIndex{results: []index.Scored{
		{Text: "глава", Metadata: map[string]string{"source": "manual.pdf"}, Distance: 0.3},
	}}
	history := &cannedIndex{queryErr: errors.New("qdrant unavailable")}
	g := newTestGenerator(t, gen, docs, history)

	res := g.Answer(context.Background(), "вопрос", "msg-1")

	if res.FromCache {
		t.Error("FromCache = true despite lookup failure")
	}
	if gen.calls != 1 {
		t.Errorf("synthesis model called %d times, want 1", gen.calls)
	}
}

func TestRewriterFallsBackToOriginal(t *testing.T) {
	t.Parallel()

	r := NewRewriter(&fakeGenerator{err: errors.New("boom")}, 0)
	if got := r.Rewrite(context.Background(), "оригинал"); got != "оригинал" {
		t.Errorf("Rewrite = %q, want original", got)
	}

	r = NewRewriter(&fakeGenerator{reply: "   "}, 0)
	if got := r.Rewrite(context.Background(), "оригинал"); got != "оригинал" {
		t.Errorf("Rewrite of blank reply = %q, want original", got)
	}

	r = NewRewriter(&fakeGenerator{reply: "перегрев ДГС-200 причины"}, 0)
	if got := r.Rewrite(context.Background(), "Помогите, у меня греется прибор!"); got != "перегрев ДГС-200 причины" {
		t.Errorf("Rewrite = %q", got)
	}
}
