package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomessage "github.com/emersion/go-message/mail"

	"github.com/maildesk/maildesk-go/internal/logging"
)

// IMAPConfig holds the connection settings for one mailbox.
type IMAPConfig struct {
	// Host is the IMAP server hostname.
	Host string

	// Port is the IMAPS port (default 993).
	Port int

	// Email is the account login.
	Email string

	// Password is the account password.
	Password string

	// AttachmentsDir is where attachment files are saved.
	AttachmentsDir string

	// Mailbox is the folder to read (default INBOX).
	Mailbox string
}

// IMAPFetcher fetches unseen messages over IMAPS. Each Fetch call dials a
// fresh connection — polling is infrequent enough that keeping a session
// alive buys nothing and long-lived IMAP connections get dropped by
// providers anyway.
type IMAPFetcher struct {
	cfg IMAPConfig
}

// NewIMAPFetcher validates the config and returns a fetcher.
func NewIMAPFetcher(cfg IMAPConfig) (*IMAPFetcher, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("mail: IMAP host must not be empty")
	}
	if cfg.Email == "" || cfg.Password == "" {
		return nil, fmt.Errorf("mail: IMAP credentials must not be empty")
	}
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	return &IMAPFetcher{cfg: cfg}, nil
}

// Fetch returns up to limit unseen messages. Fetching a message body without
// PEEK marks it \Seen on the server, which is what keeps already-processed
// messages out of the next poll.
func (f *IMAPFetcher) Fetch(ctx context.Context, limit int) ([]RawMessage, error) {
	log := logging.FromContext(ctx)

	addr := fmt.Sprintf("%s:%d", f.cfg.Host, f.cfg.Port)
	client, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("mail: dial %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Login(f.cfg.Email, f.cfg.Password).Wait(); err != nil {
		return nil, fmt.Errorf("mail: login as %s: %w", f.cfg.Email, err)
	}
	defer func() {
		if err := client.Logout().Wait(); err != nil {
			log.Debug("mail: imap logout failed", "error", err)
		}
	}()

	if _, err := client.Select(f.cfg.Mailbox, nil).Wait(); err != nil {
		return nil, fmt.Errorf("mail: select %s: %w", f.cfg.Mailbox, err)
	}

	criteria := &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("mail: search unseen: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		// Keep the most recent messages, like tailing the mailbox.
		uids = uids[len(uids)-limit:]
	}

	fetchOptions := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{}},
	}
	messages, err := client.Fetch(imap.UIDSetNum(uids...), fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("mail: fetch %d messages: %w", len(uids), err)
	}

	if f.cfg.AttachmentsDir != "" {
		if err := os.MkdirAll(f.cfg.AttachmentsDir, 0o750); err != nil {
			return nil, fmt.Errorf("mail: create attachments dir: %w", err)
		}
	}

	var out []RawMessage
	for _, msg := range messages {
		raw, err := f.decode(msg)
		if err != nil {
			// A single undecodable message must not block the batch.
			log.Warn("mail: skipping undecodable message", "uid", msg.UID, "error", err)
			continue
		}
		if raw.MessageID == "" {
			log.Warn("mail: skipping message without Message-ID", "uid", msg.UID)
			continue
		}
		out = append(out, raw)
	}
	return out, nil
}

// decode turns one fetched message into a RawMessage.
func (f *IMAPFetcher) decode(msg *imapclient.FetchMessageBuffer) (RawMessage, error) {
	raw := RawMessage{}
	if env := msg.Envelope; env != nil {
		raw.Subject = env.Subject
		raw.Date = env.Date
		raw.MessageID = env.MessageID
		if len(env.From) > 0 {
			raw.Sender = env.From[0].Addr()
		}
	}

	body := msg.FindBodySection(&imap.FetchItemBodySection{})
	if body == nil {
		return raw, fmt.Errorf("no body section in fetch response")
	}

	reader, err := gomessage.CreateReader(bytes.NewReader(body))
	if err != nil {
		return raw, fmt.Errorf("parse MIME: %w", err)
	}

	var plainParts, htmlParts []string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return raw, fmt.Errorf("read part: %w", err)
		}

		switch header := part.Header.(type) {
		case *gomessage.InlineHeader:
			contentType, _, _ := header.ContentType()
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return raw, fmt.Errorf("read part body: %w", err)
			}
			switch contentType {
			case "text/plain":
				plainParts = append(plainParts, string(content))
			case "text/html":
				htmlParts = append(htmlParts, string(content))
			}

		case *gomessage.AttachmentHeader:
			filename, err := header.Filename()
			if err != nil || filename == "" || f.cfg.AttachmentsDir == "" {
				continue
			}
			path, err := f.saveAttachment(filename, part.Body)
			if err != nil {
				return raw, err
			}
			raw.Attachments = append(raw.Attachments, path)
		}
	}

	if len(plainParts) > 0 {
		raw.Body = strings.TrimSpace(strings.Join(plainParts, "\n"))
	} else if len(htmlParts) > 0 {
		raw.Body = StripHTML(strings.Join(htmlParts, "\n"))
	}
	return raw, nil
}

// saveAttachment writes one attachment under the configured directory.
// filepath.Base guards against path traversal in hostile filenames.
func (f *IMAPFetcher) saveAttachment(filename string, body io.Reader) (string, error) {
	path := filepath.Join(f.cfg.AttachmentsDir, filepath.Base(filename))
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create attachment %s: %w", path, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, body); err != nil {
		return "", fmt.Errorf("write attachment %s: %w", path, err)
	}
	return path, nil
}
