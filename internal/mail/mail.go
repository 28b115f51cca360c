// Package mail provides the mailbox collaborators: an IMAP fetcher that
// turns unseen messages into RawMessage values (plain text preferred, HTML
// stripped as a fallback, attachments saved to disk) and an SMTP sender for
// outbound replies.
package mail

import (
	"context"
	"time"
)

// RawMessage is one inbound message as fetched from the mailbox. Immutable
// once fetched.
type RawMessage struct {
	// Sender is the From address.
	Sender string

	// Subject is the decoded subject line.
	Subject string

	// Date is the message date; zero when the header was absent or bogus.
	Date time.Time

	// Body is the extracted text content.
	Body string

	// MessageID is the transport-assigned identifier. It is the
	// idempotency key for the whole pipeline.
	MessageID string

	// Attachments lists the paths of saved attachment files.
	Attachments []string
}

// Fetcher retrieves a batch of candidate messages from the mailbox.
type Fetcher interface {
	// Fetch returns up to limit unseen messages, saving attachments under
	// the fetcher's configured directory.
	Fetch(ctx context.Context, limit int) ([]RawMessage, error)
}

// SendRequest describes one outbound email.
type SendRequest struct {
	// To lists the recipient addresses.
	To []string

	// Subject is the subject line.
	Subject string

	// Body is the plain-text body.
	Body string

	// HTMLBody is an optional HTML alternative.
	HTMLBody string

	// From overrides the sender address; empty uses the configured account.
	From string

	// InReplyTo threads the reply onto the original message when set.
	InReplyTo string
}

// Sender submits outbound email.
type Sender interface {
	Send(ctx context.Context, req SendRequest) error
}
