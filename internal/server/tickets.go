package server

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/maildesk/maildesk-go/internal/extract"
	"github.com/maildesk/maildesk-go/internal/logging"
	"github.com/maildesk/maildesk-go/internal/mail"
	"github.com/maildesk/maildesk-go/internal/store"
)

// defaultPageSize is the page size for GET /api/tickets when the client does
// not pass an explicit limit.
const defaultPageSize = 50

// maxPageSize caps the page size a client can request.
const maxPageSize = 500

// csvBatchSize is the number of rows fetched per round trip while streaming
// the CSV export.
const csvBatchSize = 5000

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends a JSON error body of the shape {"error": "..."}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// toResponse maps a stored ticket onto its JSON representation. The request
// date is rendered as DD.MM.YYYY, the format used throughout the ticket UI.
func toResponse(t store.Ticket) ticketResponse {
	return ticketResponse{
		ID:            t.ID,
		Date:          t.ReqDate.Format("02.01.2006"),
		FullName:      t.FullName,
		Object:        t.ObjectName,
		Phone:         t.Phone,
		Email:         t.Email,
		FactoryNumber: t.FactoryNumber,
		DeviceType:    t.DeviceType,
		Emotion:       t.Emotion,
		Issue:         t.QuestionSummary,
		LLMAnswer:     t.LLMAnswer,
		AnswerSources: t.AnswerSources,
		TaskStatus:    t.TaskStatus,
		MessageID:     t.MessageID,
	}
}

// listFilterFromQuery builds a store.ListFilter from the request's query
// parameters. Unparseable dates are reported back to the client rather than
// silently ignored.
func listFilterFromQuery(r *http.Request) (store.ListFilter, error) {
	q := r.URL.Query()

	f := store.ListFilter{
		FullName:   q.Get("full_name"),
		ObjectName: q.Get("object"),
		Phone:      q.Get("phone"),
		Email:      q.Get("email"),
		Emotion:    q.Get("emotion"),
		Issue:      q.Get("issue"),
		TaskStatus: q.Get("task_status"),
	}

	// ParseDate falls back to today on unparseable input, matching the
	// pipeline's own handling of malformed letter dates.
	if raw := q.Get("date_from"); raw != "" {
		f.DateFrom = extract.ParseDate(raw, time.Now)
	}
	if raw := q.Get("date_to"); raw != "" {
		f.DateTo = extract.ParseDate(raw, time.Now)
	}

	limit := defaultPageSize
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return f, fmt.Errorf("invalid limit %q", raw)
		}
		limit = min(n, maxPageSize)
	}
	page := 1
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return f, fmt.Errorf("invalid page %q", raw)
		}
		page = n
	}
	f.Limit = limit
	f.Offset = (page - 1) * limit

	return f, nil
}

// handleListTickets serves GET /api/tickets with filtering and pagination.
func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tickets, err := s.tickets.List(r.Context(), filter)
	if err != nil {
		logging.FromContext(r.Context()).Error("list tickets", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list tickets")
		return
	}

	out := make([]ticketResponse, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, toResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCreateTicket serves POST /api/tickets, the manual entry path that
// bypasses the mail pipeline. The duplicate message_id rule still applies.
func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "message_id is required")
		return
	}

	ticket := &store.Ticket{
		ReqDate:         extract.ParseDate(req.Date, time.Now),
		FullName:        req.FullName,
		ObjectName:      req.Object,
		Phone:           req.Phone,
		Email:           req.Email,
		FactoryNumber:   req.FactoryNumber,
		DeviceType:      req.DeviceType,
		Emotion:         req.Emotion,
		QuestionSummary: req.Issue,
		LLMAnswer:       req.LLMAnswer,
		TaskStatus:      req.TaskStatus,
		MessageID:       req.MessageID,
	}

	id, err := s.tickets.CreateTicket(r.Context(), ticket)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "ticket with this message_id already exists")
			return
		}
		logging.FromContext(r.Context()).Error("create ticket", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create ticket")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// handleUpdateStatus serves PATCH /api/tickets/{id}/status.
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ticket id")
		return
	}

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.TaskStatus) == "" {
		writeError(w, http.StatusBadRequest, "task_status is required")
		return
	}

	if err := s.tickets.UpdateStatus(r.Context(), id, req.TaskStatus); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "ticket not found")
			return
		}
		logging.FromContext(r.Context()).Error("update status", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to update status")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": strings.ToUpper(req.TaskStatus)})
}

// csvHeader is the column order of the CSV export.
var csvHeader = []string{
	"id", "date", "full_name", "object", "phone", "email",
	"factory_number", "device_type", "emotion", "issue",
	"llm_answer", "answer_sources", "task_status", "message_id",
}

// handleTicketsCSV serves GET /api/tickets.csv, streaming the full (filtered)
// table in batches so the export never holds the whole result set in memory.
func (s *Server) handleTicketsCSV(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Limit = csvBatchSize
	filter.Offset = 0

	filename := fmt.Sprintf("tickets_%s.csv", time.Now().Format("2006-01-02_15-04-05"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return
	}

	log := logging.FromContext(r.Context())
	for {
		tickets, err := s.tickets.List(r.Context(), filter)
		if err != nil {
			// Headers already sent; the truncated file is the best we can do.
			log.Error("csv export", slog.String("error", err.Error()))
			return
		}
		for _, t := range tickets {
			rec := []string{
				strconv.FormatInt(t.ID, 10),
				t.ReqDate.Format("02.01.2006"),
				t.FullName, t.ObjectName, t.Phone, t.Email,
				t.FactoryNumber, t.DeviceType, t.Emotion, t.QuestionSummary,
				t.LLMAnswer, t.AnswerSources, t.TaskStatus, t.MessageID,
			}
			if err := cw.Write(rec); err != nil {
				return
			}
		}
		if len(tickets) < csvBatchSize {
			break
		}
		filter.Offset += csvBatchSize
	}
	cw.Flush()
}

// handleSendMail serves POST /api/sendMail, submitting one outbound email
// through the configured SMTP sender.
func (s *Server) handleSendMail(w http.ResponseWriter, r *http.Request) {
	if s.sender == nil {
		writeError(w, http.StatusServiceUnavailable, "outbound mail is not configured")
		return
	}

	var req sendMailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.ToEmails) == 0 {
		writeError(w, http.StatusBadRequest, "to_emails must not be empty")
		return
	}
	if req.Subject == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	send := mail.SendRequest{
		To:       req.ToEmails,
		Subject:  req.Subject,
		Body:     req.Body,
		HTMLBody: req.HTMLBody,
		From:     req.FromEmail,
	}
	if req.ReplyToThread && req.MessageID != "" {
		send.InReplyTo = req.MessageID
	}

	if err := s.sender.Send(r.Context(), send); err != nil {
		logging.FromContext(r.Context()).Error("send mail", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to send mail")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}
