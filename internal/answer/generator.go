package answer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/maildesk/maildesk-go/internal/index"
	"github.com/maildesk/maildesk-go/internal/logging"
	"github.com/maildesk/maildesk-go/internal/provider"
)

// NoInformationFound is returned verbatim when retrieval finds nothing for
// either the rewritten or the original question. It is a defined answer, not
// an error, and it is never cached.
const NoInformationFound = "Информация по вашему запросу не найдена в инструкциях."

// sourcesFooterPrefix opens the deterministic footer listing the manual
// files the answer drew on.
const sourcesFooterPrefix = "Использованные файлы: "

// unknownSource labels chunks that carry no source metadata.
const unknownSource = "Unknown"

// DefaultTopK is the retrieval depth on a cache miss.
const DefaultTopK = 3

// defaultGenerateTimeout bounds one answer-synthesis call.
const defaultGenerateTimeout = 120 * time.Second

// generateTemperature allows slight variation while staying grounded.
const generateTemperature float32 = 0.3

// generateSystemPrompt forbids fabrication and answering outside the
// retrieved context.
const generateSystemPrompt = "Ты - технический помощник. Твоя задача отвечать на вопросы ТОЛЬКО на основе предоставленного контекста из инструкций.\n" +
	"Не выдумывай факты. Ссылайся на название прибора, если оно известно из контекста. Не рассуждай, не пиши ничего лишнего. У тебя есть предоставленный контекст, бери информацию из него."

// Result is the outcome of answering one question. There is no error path:
// every failure mode degrades to a usable answer text.
type Result struct {
	// Text is the final answer, including the sources footer when chunks
	// were used, or a readable error/fallback sentence otherwise.
	Text string

	// Sources lists the distinct manual files the answer drew on, sorted.
	Sources []string

	// FromCache reports whether the answer was reused from the history
	// index rather than freshly generated.
	FromCache bool
}

// Generator answers support questions: cache lookup first, then
// rewrite → retrieve → synthesise on a miss. Freshly generated answers are
// written back to the cache so later duplicates resolve without another
// generation call.
type Generator struct {
	gen      provider.Generator
	docs     index.Index
	cache    *Cache
	rewriter *Rewriter
	topK     int
	timeout  time.Duration
}

// GeneratorConfig holds the knobs for constructing a Generator.
type GeneratorConfig struct {
	// TopK is the retrieval depth (default 3).
	TopK int

	// Timeout bounds the synthesis call (default 120s).
	Timeout time.Duration
}

// NewGenerator builds a Generator over the document index and answer cache.
func NewGenerator(gen provider.Generator, docs index.Index, cache *Cache, rewriter *Rewriter, cfg GeneratorConfig) (*Generator, error) {
	if gen == nil {
		return nil, fmt.Errorf("answer: generator must not be nil")
	}
	if docs == nil {
		return nil, fmt.Errorf("answer: document index must not be nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("answer: cache must not be nil")
	}
	if rewriter == nil {
		return nil, fmt.Errorf("answer: rewriter must not be nil")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGenerateTimeout
	}
	return &Generator{
		gen:      gen,
		docs:     docs,
		cache:    cache,
		rewriter: rewriter,
		topK:     cfg.TopK,
		timeout:  cfg.Timeout,
	}, nil
}

// Answer produces the reply for one question. A cache lookup failure is
// treated as a miss; a retrieval miss on the rewritten query triggers one
// retry with the original question; an empty corpus yields the fixed
// no-information sentence without a generation call; a generation failure is
// embedded as readable text so the caller still gets a ticket with a
// degraded answer.
func (g *Generator) Answer(ctx context.Context, question, messageID string) Result {
	log := logging.FromContext(ctx)

	hit, ok, err := g.cache.Lookup(ctx, question)
	if err != nil {
		log.Warn("answer: cache lookup failed, treating as miss", "error", err)
	}
	if ok {
		log.Info("answer: cache hit",
			"similarity", hit.Similarity,
			"cached_message_id", hit.MessageID)
		return Result{Text: hit.Answer, FromCache: true}
	}

	rewritten := g.rewriter.Rewrite(ctx, question)
	log.Debug("answer: retrieval query rewritten", "query", rewritten)

	chunks, err := g.docs.Query(ctx, rewritten, g.topK)
	if err != nil {
		log.Warn("answer: retrieval with rewritten query failed", "error", err)
	}
	if len(chunks) == 0 {
		// Safety net: the rewrite may have over-compressed the question.
		chunks, err = g.docs.Query(ctx, question, g.topK)
		if err != nil {
			log.Warn("answer: retrieval with original question failed", "error", err)
		}
	}
	if len(chunks) == 0 {
		return Result{Text: NoInformationFound}
	}

	var contextBlock strings.Builder
	seen := make(map[string]bool)
	sources := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		source := chunk.Metadata[metaSource]
		if source == "" {
			source = unknownSource
		}
		fmt.Fprintf(&contextBlock, "[Источник: %s]\n%s\n\n", source, chunk.Text)
		if !seen[source] {
			seen[source] = true
			sources = append(sources, source)
		}
	}
	sort.Strings(sources)

	text, genErr := g.generate(ctx, question, contextBlock.String())
	if genErr != nil {
		log.Error("answer: generation failed", "error", genErr)
		return Result{
			Text:    fmt.Sprintf("Ошибка при обращении к нейросети: %v", genErr),
			Sources: sources,
		}
	}

	text += "\n\n" + sourcesFooterPrefix + strings.Join(sources, ", ")

	if err := g.cache.Store(ctx, question, text, messageID); err != nil {
		// Losing one cache entry only costs a future generation call.
		log.Warn("answer: cache write failed", "error", err)
	}

	return Result{Text: text, Sources: sources}
}

// generate runs the grounded synthesis call.
func (g *Generator) generate(ctx context.Context, question, contextBlock string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf("Контекст из инструкций:\n%s\nВопрос пользователя: %s\n\nОтвет:", contextBlock, question)
	messages := []*schema.Message{
		schema.SystemMessage(generateSystemPrompt),
		schema.UserMessage(userPrompt),
	}

	reply, err := g.gen.Generate(ctx, messages, model.WithTemperature(generateTemperature))
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}
