// Package store provides a SQLite-backed ticket store. Every processed
// support email becomes one ticket row; the message_id column carries a
// uniqueness constraint so redelivered messages collapse into a benign
// duplicate error instead of a second ticket.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
)

// SQLite's built-in LOWER folds ASCII only, which breaks case-insensitive
// filtering on Cyrillic ticket text. ulower does the folding in Go.
func init() {
	sqlite.MustRegisterDeterministicScalarFunction("ulower", 1,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			if s, ok := args[0].(string); ok {
				return strings.ToLower(s), nil
			}
			return args[0], nil
		})
}

// StatusOpen is the lifecycle status assigned to every freshly created
// ticket. Later transitions come through the ticket API, never the pipeline.
const StatusOpen = "OPEN"

// ErrDuplicate is returned by CreateTicket when a ticket with the same
// message_id already exists. Callers treat it as a no-op.
var ErrDuplicate = errors.New("store: ticket with this message_id already exists")

// ErrNotFound is returned when the requested ticket does not exist.
var ErrNotFound = errors.New("store: ticket not found")

// Ticket is one structured service request derived from a support email.
type Ticket struct {
	// ID is the auto-assigned row id.
	ID int64
	// ReqDate is the request date stated in (or inferred from) the letter.
	ReqDate time.Time
	// FullName is the sender's full name ("" when not extracted).
	FullName string
	// ObjectName is the site or facility the request concerns.
	ObjectName string
	// Phone is the contact phone number.
	Phone string
	// Email is the contact email address.
	Email string
	// FactoryNumber is the device's factory/serial number.
	FactoryNumber string
	// DeviceType is the device model designation.
	DeviceType string
	// Emotion is the letter's emotional tone.
	Emotion string
	// QuestionSummary is the extracted issue summary.
	QuestionSummary string
	// LLMAnswer is the synthesised (or cached) answer text.
	LLMAnswer string
	// AnswerSources is a comma-separated list of manual files the answer
	// drew on ("" for cached or fallback answers).
	AnswerSources string
	// TaskStatus is the lifecycle status, StatusOpen at creation.
	TaskStatus string
	// MessageID is the transport message identifier, unique per ticket.
	MessageID string
	// CreatedAt is when the row was persisted.
	CreatedAt time.Time
}

// ListFilter narrows and pages a ticket listing. Zero values mean
// "no constraint". Text filters are case-insensitive substring matches,
// mirroring the ticket API's query parameters.
type ListFilter struct {
	FullName   string
	ObjectName string
	Phone      string
	Email      string
	Emotion    string
	Issue      string
	DateFrom   time.Time
	DateTo     time.Time
	TaskStatus string
	Limit      int
	Offset     int
}

// TicketStore persists and retrieves tickets. Implementations must be safe
// for concurrent use.
type TicketStore interface {
	// CreateTicket persists a ticket and returns its id. Returns
	// ErrDuplicate when a ticket with the same message_id exists.
	CreateTicket(ctx context.Context, t *Ticket) (int64, error)
	// List returns tickets matching the filter, ordered by id ascending.
	List(ctx context.Context, f ListFilter) ([]Ticket, error)
	// UpdateStatus sets the lifecycle status of one ticket.
	UpdateStatus(ctx context.Context, id int64, status string) error
	// Ping reports whether the backing database is reachable.
	Ping(ctx context.Context) error
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a TicketStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the ticket database.
// It resolves to ~/.maildesk/tickets.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".maildesk")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "tickets.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tickets (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    req_date         INTEGER NOT NULL,  -- Unix timestamp (seconds), midnight UTC
    full_name        TEXT    NOT NULL DEFAULT '',
    object_name      TEXT    NOT NULL DEFAULT '',
    phone            TEXT    NOT NULL DEFAULT '',
    email            TEXT    NOT NULL DEFAULT '',
    factory_number   TEXT    NOT NULL DEFAULT '',
    device_type      TEXT    NOT NULL DEFAULT '',
    emotion          TEXT    NOT NULL DEFAULT '',
    question_summary TEXT    NOT NULL DEFAULT '',
    llm_answer       TEXT    NOT NULL DEFAULT '',
    answer_sources   TEXT    NOT NULL DEFAULT '',
    task_status      TEXT    NOT NULL DEFAULT 'OPEN',
    message_id       TEXT    NOT NULL,
    created_at       INTEGER NOT NULL   -- Unix timestamp (seconds)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_message_id ON tickets (message_id);
CREATE INDEX IF NOT EXISTS idx_tickets_req_date ON tickets (req_date);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// CreateTicket persists a ticket and returns its id. An empty status
// defaults to StatusOpen. A message_id collision maps to ErrDuplicate.
func (s *SQLiteStore) CreateTicket(ctx context.Context, t *Ticket) (int64, error) {
	if t.MessageID == "" {
		return 0, fmt.Errorf("store: ticket message_id must not be empty")
	}
	status := t.TaskStatus
	if status == "" {
		status = StatusOpen
	}

	const q = `
INSERT INTO tickets
    (req_date, full_name, object_name, phone, email, factory_number,
     device_type, emotion, question_summary, llm_answer, answer_sources,
     task_status, message_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q,
		t.ReqDate.Unix(), t.FullName, t.ObjectName, t.Phone, t.Email,
		t.FactoryNumber, t.DeviceType, t.Emotion, t.QuestionSummary,
		t.LLMAnswer, t.AnswerSources, status, t.MessageID, time.Now().Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("store: create ticket: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: create ticket id: %w", err)
	}
	return id, nil
}

// List returns tickets matching the filter, ordered by id ascending.
func (s *SQLiteStore) List(ctx context.Context, f ListFilter) ([]Ticket, error) {
	q := `
SELECT id, req_date, full_name, object_name, phone, email, factory_number,
       device_type, emotion, question_summary, llm_answer, answer_sources,
       task_status, message_id, created_at
FROM tickets WHERE 1=1`
	var args []any

	like := func(col, val string) {
		q += fmt.Sprintf(" AND ulower(%s) LIKE ?", col)
		args = append(args, "%"+strings.ToLower(val)+"%")
	}
	if f.FullName != "" {
		like("full_name", f.FullName)
	}
	if f.ObjectName != "" {
		like("object_name", f.ObjectName)
	}
	if f.Phone != "" {
		like("phone", f.Phone)
	}
	if f.Email != "" {
		like("email", f.Email)
	}
	if f.Issue != "" {
		like("question_summary", f.Issue)
	}
	if f.Emotion != "" {
		q += " AND emotion = ?"
		args = append(args, f.Emotion)
	}
	if f.TaskStatus != "" {
		q += " AND task_status = ?"
		args = append(args, strings.ToUpper(f.TaskStatus))
	}
	if !f.DateFrom.IsZero() {
		q += " AND req_date >= ?"
		args = append(args, f.DateFrom.Unix())
	}
	if !f.DateTo.IsZero() {
		q += " AND req_date <= ?"
		args = append(args, f.DateTo.Unix())
	}

	q += " ORDER BY id ASC"
	if f.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		var t Ticket
		var reqDate, createdAt int64
		if err := rows.Scan(&t.ID, &reqDate, &t.FullName, &t.ObjectName,
			&t.Phone, &t.Email, &t.FactoryNumber, &t.DeviceType, &t.Emotion,
			&t.QuestionSummary, &t.LLMAnswer, &t.AnswerSources, &t.TaskStatus,
			&t.MessageID, &createdAt); err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		t.ReqDate = time.Unix(reqDate, 0).UTC()
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rows: %w", err)
	}
	return tickets, nil
}

// UpdateStatus sets the lifecycle status of one ticket.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id int64, status string) error {
	const q = `UPDATE tickets SET task_status = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, strings.ToUpper(status), id)
	if err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update status result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping reports whether the database file is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
