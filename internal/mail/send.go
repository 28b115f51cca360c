package mail

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"
)

// SMTPConfig holds the outbound mail settings.
type SMTPConfig struct {
	// Host is the SMTP server hostname.
	Host string

	// Port is the submission port (default 465, implicit TLS).
	Port int

	// User is the account login.
	User string

	// Password is the account password.
	Password string

	// From is the default sender address; defaults to User.
	From string
}

// SMTPSender sends email over authenticated SMTPS.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender validates the config and returns a sender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("mail: SMTP host must not be empty")
	}
	if cfg.User == "" || cfg.Password == "" {
		return nil, fmt.Errorf("mail: SMTP credentials must not be empty")
	}
	if cfg.Port == 0 {
		cfg.Port = 465
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &SMTPSender{cfg: cfg}, nil
}

// Send submits one message. When req.InReplyTo is set, the reply is threaded
// onto the original conversation via In-Reply-To and References.
func (s *SMTPSender) Send(ctx context.Context, req SendRequest) error {
	if len(req.To) == 0 {
		return fmt.Errorf("mail: no recipients")
	}

	msg := gomail.NewMsg()
	from := req.From
	if from == "" {
		from = s.cfg.From
	}
	if err := msg.From(from); err != nil {
		return fmt.Errorf("mail: invalid sender %q: %w", from, err)
	}
	if err := msg.To(req.To...); err != nil {
		return fmt.Errorf("mail: invalid recipients %v: %w", req.To, err)
	}
	msg.Subject(req.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, req.Body)
	if req.HTMLBody != "" {
		msg.AddAlternativeString(gomail.TypeTextHTML, req.HTMLBody)
	}
	if req.InReplyTo != "" {
		msg.SetGenHeader(gomail.HeaderInReplyTo, req.InReplyTo)
		msg.SetGenHeader(gomail.HeaderReferences, req.InReplyTo)
	}

	client, err := gomail.NewClient(s.cfg.Host,
		gomail.WithPort(s.cfg.Port),
		gomail.WithSSL(),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.cfg.User),
		gomail.WithPassword(s.cfg.Password),
	)
	if err != nil {
		return fmt.Errorf("mail: smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mail: send to %v: %w", req.To, err)
	}
	return nil
}
