// Package extract turns the free-form text of a support email into a
// structured ticket draft by prompting a chat model with a few-shot example
// block and parsing its JSON-only reply.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/maildesk/maildesk-go/internal/provider"
)

// Emotional tone values. Extraction always assigns one of these — the field
// is never left empty on success.
const (
	EmotionPositive = "positive"
	EmotionNeutral  = "neutral"
	EmotionNegative = "negative"
)

// ErrMalformedReply is returned when the model reply cannot be parsed as a
// JSON object. Callers treat it the same as a timeout: skip the message and
// retry on a later poll.
var ErrMalformedReply = errors.New("extract: model reply is not a JSON object")

// defaultTimeout bounds a single extraction call. Extraction prompts carry
// the full few-shot block, so replies can take a while on local models.
const defaultTimeout = 120 * time.Second

// systemPrompt instructs the model to reply with bare JSON only.
const systemPrompt = "Ты - мастер в извлечении данных из писем. " +
	"Ты отвечаешь ТОЛЬКО JSON словарем, без MARKDOWN, комментариев и других вещей. "

// TicketDraft holds the fields extracted from one support email. Every field
// except Emotion defaults to the empty string when the source text does not
// mention it.
type TicketDraft struct {
	// Date is the request date as stated in the letter, raw model output.
	// Use ParseDate to normalise it.
	Date string `json:"date"`

	// FullName is the sender's full name.
	FullName string `json:"full_name"`

	// Object is the site or facility the request concerns.
	Object string `json:"object"`

	// Phone is the contact phone number.
	Phone string `json:"phone"`

	// Email is the contact email address.
	Email string `json:"email"`

	// FactoryNumber is the device's factory/serial number.
	FactoryNumber string `json:"factory_number"`

	// DeviceType is the device model or type designation.
	DeviceType string `json:"device_type"`

	// Emotion is the emotional tone of the letter: one of EmotionPositive,
	// EmotionNeutral, EmotionNegative.
	Emotion string `json:"emotional_tone"`

	// Issue is a short summary of the reported problem.
	Issue string `json:"issue_summary"`
}

// Extractor prompts a chat model to pull structured fields out of letter
// text. The few-shot example block is loaded once at construction and reused
// for every call. Safe for concurrent use.
type Extractor struct {
	gen     provider.Generator
	fewShot string
	timeout time.Duration
}

// NewExtractor builds an Extractor with the few-shot examples at
// examplesPath. A non-positive timeout selects the default.
func NewExtractor(gen provider.Generator, examplesPath string, timeout time.Duration) (*Extractor, error) {
	if gen == nil {
		return nil, fmt.Errorf("extract: generator must not be nil")
	}
	fewShot, err := loadExamples(examplesPath)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Extractor{gen: gen, fewShot: fewShot, timeout: timeout}, nil
}

// Extract runs one extraction call and returns the parsed draft. It fails
// when the call times out, errors, or the reply is not valid JSON; any of
// these means the message is skipped, not ticketed.
func (e *Extractor) Extract(ctx context.Context, letterText string) (*TicketDraft, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf("%s\nИзвлеки данные из письма:\n%s", e.fewShot, letterText)
	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt),
	}

	reply, err := e.gen.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("extract: generation failed: %w", err)
	}

	content := strings.TrimSpace(reply.Content)
	var draft TicketDraft
	if err := json.Unmarshal([]byte(content), &draft); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	draft.Emotion = normaliseEmotion(draft.Emotion)
	return &draft, nil
}

// normaliseEmotion maps the model's tone token (English or Russian, any
// case) onto the canonical enumeration. Anything unrecognised becomes
// neutral so the field is never empty.
func normaliseEmotion(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case EmotionPositive, "положительное", "позитивное":
		return EmotionPositive
	case EmotionNegative, "негативное", "отрицательное":
		return EmotionNegative
	default:
		return EmotionNeutral
	}
}
