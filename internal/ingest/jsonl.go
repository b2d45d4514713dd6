package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/setevik/logsentinel/internal/event"
)

// Payload is the JSON shape of a single log line, shared by JSONL files and
// the HTTP ingestion endpoint.
type Payload struct {
	Timestamp string `json:"timestamp,omitempty"`
	Source    string `json:"source"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
	Template  string `json:"template,omitempty"`
}

// Validate checks the required fields.
func (p Payload) Validate() error {
	var missing []string
	if strings.TrimSpace(p.Source) == "" {
		missing = append(missing, "source")
	}
	if strings.TrimSpace(p.Level) == "" {
		missing = append(missing, "level")
	}
	if strings.TrimSpace(p.Message) == "" {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedRow, strings.Join(missing, ", "))
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts RFC 3339 and the common space-separated layouts.
// Timestamps without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range timestampLayouts {
		if ts, err := time.Parse(l, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// Event converts the payload. A missing timestamp becomes fallback; an
// unparseable one becomes the unknown time and coerced is true.
func (p Payload) Event(fallback time.Time) (ev event.LogEvent, coerced bool, err error) {
	if err := p.Validate(); err != nil {
		return event.LogEvent{}, false, err
	}
	ts := fallback
	if p.Timestamp != "" {
		if ts, err = ParseTimestamp(p.Timestamp); err != nil {
			coerced = true
		}
	}
	return event.New(ts, p.Source, p.Level, p.Component, p.Message, p.Template), coerced, nil
}

// ParseJSONLine decodes one JSONL line. Lines without a timestamp get
// fallback; pass the zero time to leave them unknown.
func ParseJSONLine(line []byte, fallback time.Time) (event.LogEvent, bool, error) {
	var p Payload
	if err := json.Unmarshal(line, &p); err != nil {
		return event.LogEvent{}, false, fmt.Errorf("%w: %v", ErrMalformedRow, err)
	}
	return p.Event(fallback)
}

func readJSONL(r io.Reader, source string) (Result, error) {
	var res Result
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		b := sc.Bytes()
		if len(strings.TrimSpace(string(b))) == 0 {
			continue
		}
		ev, coerced, err := ParseJSONLine(b, time.Time{})
		if err != nil {
			res.Dropped++
			slog.Debug("dropping jsonl line", "line", line, "error", err)
			continue
		}
		if source != "" {
			ev.Source = source
		}
		if coerced || !ev.HasTimestamp() {
			res.Coerced++
		}
		res.Events = append(res.Events, ev)
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("scanning: %w", err)
	}
	return res, nil
}
