package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/maildesk/maildesk-go/internal/logging"
	"github.com/maildesk/maildesk-go/internal/mail"
	"github.com/maildesk/maildesk-go/internal/store"
)

type fakeSender struct {
	sent []mail.SendRequest
	err  error
}

func (f *fakeSender) Send(_ context.Context, req mail.SendRequest) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, req)
	return nil
}

// newTestServer builds a server over an in-memory store with auth disabled
// and a generous rate limit so unrelated tests never trip 429.
func newTestServer(t *testing.T, mutate func(cfg *Config)) (*Server, *store.SQLiteStore, *fakeSender) {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sender := &fakeSender{}
	cfg := &Config{
		Logger:    logging.Discard(),
		Registry:  prometheus.NewRegistry(),
		RateLimit: 1000,
		RateBurst: 1000,
	}
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(st, sender, cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(srv.stopRL)
	return srv, st, sender
}

func createTicketBody(messageID string) string {
	return fmt.Sprintf(`{
		"date": "15.03.2024",
		"fullName": "Петров Иван",
		"object": "Котельная №3",
		"phone": "+7 900 123-45-67",
		"email": "petrov@example.com",
		"deviceType": "ДГС-200",
		"emotion": "negative",
		"issue": "Прибор показывает ошибку E-04",
		"message_id": %q
	}`, messageID)
}

func doJSON(t *testing.T, h http.Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndListTickets(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, nil)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/tickets", createTicketBody("<m1@mail>"), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got status %d, body %s", rec.Code, rec.Body)
	}
	var created map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created["id"] == 0 {
		t.Fatal("create: expected non-zero id")
	}

	rec = doJSON(t, h, http.MethodGet, "/api/tickets", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: got status %d", rec.Code)
	}
	var tickets []ticketResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tickets); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("list: got %d tickets, want 1", len(tickets))
	}
	got := tickets[0]
	if got.Date != "15.03.2024" {
		t.Errorf("date = %q, want 15.03.2024", got.Date)
	}
	if got.TaskStatus != store.StatusOpen {
		t.Errorf("task_status = %q, want %q", got.TaskStatus, store.StatusOpen)
	}
	if got.DeviceType != "ДГС-200" {
		t.Errorf("deviceType = %q", got.DeviceType)
	}
}

func TestCreateTicketDuplicateMessageID(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, nil)
	h := srv.Handler()

	if rec := doJSON(t, h, http.MethodPost, "/api/tickets", createTicketBody("<dup@mail>"), nil); rec.Code != http.StatusCreated {
		t.Fatalf("first create: got %d", rec.Code)
	}
	rec := doJSON(t, h, http.MethodPost, "/api/tickets", createTicketBody("<dup@mail>"), nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second create: got %d, want 409", rec.Code)
	}
}

func TestCreateTicketRequiresMessageID(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/tickets", `{"fullName":"x"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestListTicketsFilterAndPaging(t *testing.T) {
	t.Parallel()
	srv, st, _ := newTestServer(t, nil)
	h := srv.Handler()

	for i := 1; i <= 3; i++ {
		_, err := st.CreateTicket(context.Background(), &store.Ticket{
			FullName:  fmt.Sprintf("Сидоров %d", i),
			Emotion:   "neutral",
			MessageID: fmt.Sprintf("<p%d@mail>", i),
		})
		if err != nil {
			t.Fatalf("seed ticket %d: %v", i, err)
		}
	}

	rec := doJSON(t, h, http.MethodGet, "/api/tickets?limit=2&page=2", "", nil)
	var page []ticketResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("page 2 with limit 2: got %d tickets, want 1", len(page))
	}

	// Name filtering folds case for Cyrillic too.
	rec = doJSON(t, h, http.MethodGet, "/api/tickets?full_name="+url.QueryEscape("сидоров 2"), "", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page) != 1 || page[0].FullName != "Сидоров 2" {
		t.Fatalf("name filter: got %+v", page)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/tickets?limit=abc", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: got %d, want 400", rec.Code)
	}
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()
	srv, st, _ := newTestServer(t, nil)
	h := srv.Handler()

	id, err := st.CreateTicket(context.Background(), &store.Ticket{MessageID: "<s1@mail>"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doJSON(t, h, http.MethodPatch, fmt.Sprintf("/api/tickets/%d/status", id),
		`{"task_status":"closed"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, body %s", rec.Code, rec.Body)
	}

	tickets, err := st.List(context.Background(), store.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if tickets[0].TaskStatus != "CLOSED" {
		t.Errorf("status = %q, want CLOSED", tickets[0].TaskStatus)
	}

	rec = doJSON(t, h, http.MethodPatch, "/api/tickets/9999/status", `{"task_status":"closed"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing ticket: got %d, want 404", rec.Code)
	}
}

func TestTicketsCSVExport(t *testing.T) {
	t.Parallel()
	srv, st, _ := newTestServer(t, nil)

	for i := 1; i <= 2; i++ {
		_, err := st.CreateTicket(context.Background(), &store.Ticket{
			FullName:  fmt.Sprintf("Иванов %d", i),
			MessageID: fmt.Sprintf("<csv%d@mail>", i),
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/tickets.csv", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "tickets_") {
		t.Errorf("content disposition = %q", cd)
	}

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,date,full_name") {
		t.Errorf("header = %q", lines[0])
	}
}

func TestSendMail(t *testing.T) {
	t.Parallel()
	srv, _, sender := newTestServer(t, nil)
	h := srv.Handler()

	body := `{
		"to_emails": ["petrov@example.com"],
		"subject": "Ответ на обращение",
		"body": "Проверьте фильтр.",
		"message_id": "<orig@mail>",
		"reply_to_thread": true
	}`
	rec := doJSON(t, h, http.MethodPost, "/api/sendMail", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, body %s", rec.Code, rec.Body)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	sent := sender.sent[0]
	if sent.To[0] != "petrov@example.com" {
		t.Errorf("to = %v", sent.To)
	}
	if sent.InReplyTo != "<orig@mail>" {
		t.Errorf("in-reply-to = %q, want original message id", sent.InReplyTo)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/sendMail", `{"subject":"x"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty recipients: got %d, want 400", rec.Code)
	}
}

func TestSendMailWithoutSender(t *testing.T) {
	t.Parallel()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv, err := New(st, nil, &Config{Logger: logging.Discard(), Registry: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(srv.stopRL)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/sendMail",
		`{"to_emails":["a@b.c"],"subject":"x"}`, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", rec.Code)
	}
}

func TestAuthRequiredWhenKeySet(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, func(cfg *Config) { cfg.APIKey = "secret-token" })
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/tickets", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no header: got %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("WWW-Authenticate"), "Bearer") {
		t.Errorf("missing WWW-Authenticate challenge")
	}

	rec = doJSON(t, h, http.MethodGet, "/api/tickets", "", map[string]string{
		"Authorization": "Bearer wrong-token",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: got %d, want 401", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/tickets", "", map[string]string{
		"Authorization": "Bearer secret-token",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("correct token: got %d, want 200", rec.Code)
	}

	// Probes stay open even with auth enabled.
	rec = doJSON(t, h, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health with auth enabled: got %d, want 200", rec.Code)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, func(cfg *Config) {
		cfg.RateLimit = 1
		cfg.RateBurst = 2
	})
	h := srv.Handler()

	var limited bool
	for range 5 {
		rec := doJSON(t, h, http.MethodGet, "/api/tickets", "", nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			if rec.Header().Get("Retry-After") == "" {
				t.Error("429 response missing Retry-After")
			}
			break
		}
	}
	if !limited {
		t.Fatal("burst of 5 requests against burst limit 2 never hit 429")
	}
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	ok := NamedPinger("db", func(context.Context) error { return nil })
	bad := NamedPinger("qdrant", func(context.Context) error { return errors.New("connection refused") })

	srv, _, _ := newTestServer(t, func(cfg *Config) { cfg.Pingers = []Pinger{ok, bad} })
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Checks["db"] != "ok" {
		t.Errorf("db check = %q, want ok", body.Checks["db"])
	}
	if !strings.Contains(body.Checks["qdrant"], "connection refused") {
		t.Errorf("qdrant check = %q", body.Checks["qdrant"])
	}

	srv2, _, _ := newTestServer(t, func(cfg *Config) { cfg.Pingers = []Pinger{ok} })
	if rec := doJSON(t, srv2.Handler(), http.MethodGet, "/api/ready", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("all healthy: got %d, want 200", rec.Code)
	}
}
