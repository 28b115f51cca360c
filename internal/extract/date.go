package extract

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// dateFormats are tried in order before falling back to heuristic parsing.
// Day-first European formats come first — that is how senders write dates.
var dateFormats = []string{
	"02.01.2006",
	"2006-01-02",
	"02/01/2006",
	"2006/01/02",
	"02.01.06",
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05",
}

// ParseDate turns the raw date string the model extracted into a calendar
// date. An empty or unparseable string yields today — a ticket always
// carries a request date.
func ParseDate(raw string, now func() time.Time) time.Time {
	if now == nil {
		now = time.Now
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return dateOnly(now())
	}

	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return dateOnly(t)
		}
	}

	if t, err := dateparse.ParseAny(raw); err == nil {
		return dateOnly(t)
	}

	return dateOnly(now())
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
