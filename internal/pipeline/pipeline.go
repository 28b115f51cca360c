// Package pipeline sequences one inbound message through extraction,
// cache-or-RAG answering, and ticket persistence. Failures are isolated per
// message: one bad letter never stalls the stream.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maildesk/maildesk-go/internal/answer"
	"github.com/maildesk/maildesk-go/internal/extract"
	"github.com/maildesk/maildesk-go/internal/logging"
	"github.com/maildesk/maildesk-go/internal/mail"
	"github.com/maildesk/maildesk-go/internal/store"
)

// ErrSkipped marks a message that produced no ticket: extraction failed or
// the message carried no usable identity. The message stays unprocessed from
// the pipeline's point of view and may return on a later poll.
var ErrSkipped = errors.New("pipeline: message skipped")

// historyMarker prefixes answers reused from the history cache so operators
// can tell a cached reply from a freshly generated one.
const historyMarker = "(Ответ найден в истории обращений)\n\n"

// Coordinator drives the per-message flow. All collaborators are injected at
// construction and owned by the caller.
type Coordinator struct {
	extractor *extract.Extractor
	answerer  *answer.Generator
	tickets   store.TicketStore
	metrics   *Metrics
	now       func() time.Time
}

// NewCoordinator builds a Coordinator. metrics may not be nil — pass
// NewMetrics(prometheus.NewRegistry()) in tests.
func NewCoordinator(extractor *extract.Extractor, answerer *answer.Generator, tickets store.TicketStore, metrics *Metrics) (*Coordinator, error) {
	if extractor == nil || answerer == nil || tickets == nil || metrics == nil {
		return nil, fmt.Errorf("pipeline: all coordinator dependencies must be non-nil")
	}
	return &Coordinator{
		extractor: extractor,
		answerer:  answerer,
		tickets:   tickets,
		metrics:   metrics,
		now:       time.Now,
	}, nil
}

// LetterText renders the fixed-order normalized text the model sees: sender,
// subject, date, then the body.
func LetterText(msg mail.RawMessage) string {
	sender := msg.Sender
	if sender == "" {
		sender = "Unknown"
	}
	date := ""
	if !msg.Date.IsZero() {
		date = msg.Date.Format(time.RFC1123Z)
	}
	return fmt.Sprintf("От: %s\nТема: %s\nДата: %s\n\n%s", sender, msg.Subject, date, msg.Body)
}

// ProcessMessage runs one message end to end and returns the persisted
// ticket. A redelivered message whose ticket already exists returns
// (nil, nil). Extraction failure returns an error wrapping ErrSkipped.
func (c *Coordinator) ProcessMessage(ctx context.Context, msg mail.RawMessage) (*store.Ticket, error) {
	log := logging.FromContext(ctx).With("message_id", msg.MessageID)
	started := c.now()
	defer func() {
		c.metrics.processDurationSeconds.Observe(time.Since(started).Seconds())
	}()

	if msg.MessageID == "" {
		c.metrics.messagesTotal.WithLabelValues("skipped").Inc()
		return nil, fmt.Errorf("%w: empty message_id", ErrSkipped)
	}

	letterText := LetterText(msg)

	draft, err := c.extractor.Extract(ctx, letterText)
	if err != nil {
		c.metrics.messagesTotal.WithLabelValues("skipped").Inc()
		log.Warn("pipeline: extraction failed, skipping message", "error", err)
		return nil, fmt.Errorf("%w: extraction: %v", ErrSkipped, err)
	}

	result := c.answerer.Answer(ctx, letterText, msg.MessageID)
	answerText := result.Text
	if result.FromCache {
		c.metrics.cacheLookupsTotal.WithLabelValues("hit").Inc()
		answerText = historyMarker + answerText
	} else {
		c.metrics.cacheLookupsTotal.WithLabelValues("miss").Inc()
	}

	ticket := &store.Ticket{
		ReqDate:         extract.ParseDate(draft.Date, c.now),
		FullName:        draft.FullName,
		ObjectName:      draft.Object,
		Phone:           draft.Phone,
		Email:           draft.Email,
		FactoryNumber:   draft.FactoryNumber,
		DeviceType:      draft.DeviceType,
		Emotion:         draft.Emotion,
		QuestionSummary: draft.Issue,
		LLMAnswer:       answerText,
		AnswerSources:   strings.Join(result.Sources, ", "),
		TaskStatus:      store.StatusOpen,
		MessageID:       msg.MessageID,
	}

	id, err := c.tickets.CreateTicket(ctx, ticket)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.metrics.messagesTotal.WithLabelValues("duplicate").Inc()
			log.Debug("pipeline: ticket already exists, redelivery ignored")
			return nil, nil
		}
		c.metrics.messagesTotal.WithLabelValues("failed").Inc()
		log.Error("pipeline: ticket persistence failed", "error", err)
		return nil, fmt.Errorf("pipeline: persist ticket: %w", err)
	}
	ticket.ID = id

	c.metrics.messagesTotal.WithLabelValues("ticketed").Inc()
	log.Info("pipeline: ticket created",
		"ticket_id", id,
		"from_cache", result.FromCache,
		"emotion", draft.Emotion)
	return ticket, nil
}
