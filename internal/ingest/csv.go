package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/setevik/logsentinel/internal/event"
)

// csvLayout maps a structured CSV header onto LogEvent fields.
type csvLayout struct {
	source    string
	component string // fixed component when the file has no column for it
	required  []string
	timestamp func(row map[string]string) (time.Time, bool)
}

var apacheTimeLayouts = []string{
	"Mon Jan 02 15:04:05 2006",
	"Mon Jan _2 15:04:05 2006",
}

func apacheLayout(source string) csvLayout {
	if source == "" {
		source = "apache"
	}
	return csvLayout{
		source:    source,
		component: "apache",
		required:  []string{"Time", "Level", "Content"},
		timestamp: func(row map[string]string) (time.Time, bool) {
			raw := strings.TrimSpace(row["Time"])
			for _, l := range apacheTimeLayouts {
				if ts, err := time.Parse(l, raw); err == nil {
					return ts, true
				}
			}
			return time.Time{}, false
		},
	}
}

func hdfsLayout(source string) csvLayout {
	if source == "" {
		source = "hdfs"
	}
	return csvLayout{
		source:   source,
		required: []string{"Date", "Time", "Level", "Component", "Content"},
		timestamp: func(row map[string]string) (time.Time, bool) {
			// Numeric columns may have lost their leading zeros.
			raw := zeroPad(row["Date"], 6) + " " + zeroPad(row["Time"], 6)
			ts, err := time.Parse("060102 150405", raw)
			return ts, err == nil
		},
	}
}

func zeroPad(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) >= n {
		return s
	}
	return strings.Repeat("0", n-len(s)) + s
}

func readCSV(r io.Reader, layout csvLayout) (Result, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return Result{}, fmt.Errorf("reading header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, name := range layout.required {
		if _, ok := columns[name]; !ok {
			return Result{}, fmt.Errorf("missing column %q", name)
		}
	}

	var res Result
	row := make(map[string]string, len(columns))
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return res, fmt.Errorf("reading line %d: %w", line, err)
			}
			res.Dropped++
			slog.Debug("dropping csv row", "line", line, "error", err)
			continue
		}

		clear(row)
		for name, i := range columns {
			if i < len(rec) {
				row[name] = rec[i]
			}
		}

		ev, coerced, err := layout.event(row)
		if err != nil {
			res.Dropped++
			slog.Debug("dropping csv row", "line", line, "error", err)
			continue
		}
		if coerced {
			res.Coerced++
		}
		res.Events = append(res.Events, ev)
	}
	return res, nil
}

func (l csvLayout) event(row map[string]string) (event.LogEvent, bool, error) {
	for _, name := range l.required {
		if name == "Time" || name == "Date" {
			continue
		}
		if strings.TrimSpace(row[name]) == "" {
			return event.LogEvent{}, false, fmt.Errorf("%w: empty %s", ErrMalformedRow, name)
		}
	}

	ts, ok := l.timestamp(row)
	component := l.component
	if component == "" {
		component = strings.TrimSpace(row["Component"])
	}
	ev := event.New(ts, l.source, row["Level"], component, row["Content"], row["EventTemplate"])
	return ev, !ok, nil
}
