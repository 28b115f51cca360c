// Package answer produces the reply text for a support question: first by
// consulting a similarity cache of previously answered questions, then — on a
// miss — by retrieving manual chunks and synthesising a grounded answer.
package answer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/maildesk/maildesk-go/internal/logging"
	"github.com/maildesk/maildesk-go/internal/provider"
)

// defaultRewriteTimeout bounds a rewrite call. Rewriting is a quality
// optimisation, so it gets a much tighter budget than generation.
const defaultRewriteTimeout = 30 * time.Second

// rewriteTemperature keeps rewrites deterministic.
const rewriteTemperature float32 = 0.1

// rewriteSystemPrompt turns a conversational question into a terse query in
// the vocabulary of the technical manuals being searched.
const rewriteSystemPrompt = "Ты - ассистент для оптимизации поисковых запросов в техническую базу знаний. " +
	"Твоя задача: перефразировать входной текст пользователя так, как будто это сухой технический вопрос из документации. " +
	"Правила:\n" +
	"1. Убери все эмоции, вежливость ('пожалуйста', 'помогите'), личные местоимения ('я', 'мы').\n" +
	"2. Оставь только суть: название устройства, компонент и конкретную проблему/функцию.\n" +
	"3. Используй терминологию, характерную для инструкций (например, вместо 'не работает' пиши 'принцип работы', 'настройка', 'ошибка').\n" +
	"4. Верни ТОЛЬКО перефразированный запрос, без кавычек и пояснений."

// Rewriter rephrases a user question into documentation vocabulary to
// improve retrieval recall. It never fails: any error falls back to the
// original question.
type Rewriter struct {
	gen     provider.Generator
	timeout time.Duration
}

// NewRewriter builds a Rewriter. A non-positive timeout selects the default.
func NewRewriter(gen provider.Generator, timeout time.Duration) *Rewriter {
	if timeout <= 0 {
		timeout = defaultRewriteTimeout
	}
	return &Rewriter{gen: gen, timeout: timeout}
}

// Rewrite returns the rephrased query, or the original question unchanged
// when the call fails or produces an empty reply.
func (r *Rewriter) Rewrite(ctx context.Context, question string) string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	messages := []*schema.Message{
		schema.SystemMessage(rewriteSystemPrompt),
		schema.UserMessage(fmt.Sprintf("Исходный запрос: %s\nПерефразированный технический запрос:", question)),
	}

	reply, err := r.gen.Generate(ctx, messages, model.WithTemperature(rewriteTemperature))
	if err != nil {
		logging.FromContext(ctx).Warn("answer: query rewrite failed, using original question",
			"error", err)
		return question
	}

	rewritten := strings.TrimSpace(reply.Content)
	if rewritten == "" {
		return question
	}
	return rewritten
}
