package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/maildesk/maildesk-go/internal/mail"
	"github.com/maildesk/maildesk-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. Must be
	// long enough for a full CSV export.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives the server's Prometheus metrics and backs GET
	// /metrics. If nil, a private registry is created.
	Registry *prometheus.Registry
}

// Server is the HTTP surface over the ticket store and the outbound mailer.
type Server struct {
	// tickets is the ticket persistence collaborator.
	tickets store.TicketStore
	// sender submits outbound email for POST /api/sendMail. May be nil, in
	// which case the endpoint returns 503.
	sender mail.Sender
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments for this instance.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// ticketResponse is the JSON representation of one ticket.
type ticketResponse struct {
	ID            int64  `json:"id"`
	Date          string `json:"date"`
	FullName      string `json:"fullName"`
	Object        string `json:"object"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	FactoryNumber string `json:"factoryNumber"`
	DeviceType    string `json:"deviceType"`
	Emotion       string `json:"emotion"`
	Issue         string `json:"issue"`
	LLMAnswer     string `json:"llm_answer"`
	AnswerSources string `json:"answer_sources"`
	TaskStatus    string `json:"task_status"`
	MessageID     string `json:"message_id"`
}

// createTicketRequest is the JSON body for POST /api/tickets.
type createTicketRequest struct {
	Date          string `json:"date"`
	FullName      string `json:"fullName"`
	Object        string `json:"object"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	FactoryNumber string `json:"factoryNumber"`
	DeviceType    string `json:"deviceType"`
	Emotion       string `json:"emotion"`
	Issue         string `json:"issue"`
	LLMAnswer     string `json:"llm_answer"`
	TaskStatus    string `json:"task_status"`
	MessageID     string `json:"message_id"`
}

// statusUpdateRequest is the JSON body for PATCH /api/tickets/{id}/status.
type statusUpdateRequest struct {
	TaskStatus string `json:"task_status"`
}

// sendMailRequest is the JSON body for POST /api/sendMail.
type sendMailRequest struct {
	ToEmails      []string `json:"to_emails"`
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`
	HTMLBody      string   `json:"html_body,omitempty"`
	FromEmail     string   `json:"from_email,omitempty"`
	MessageID     string   `json:"message_id,omitempty"`
	ReplyToThread bool     `json:"reply_to_thread,omitempty"`
}
