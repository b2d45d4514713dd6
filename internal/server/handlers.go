package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/setevik/logsentinel/internal/event"
	"github.com/setevik/logsentinel/internal/incident"
	"github.com/setevik/logsentinel/internal/ingest"
	"github.com/setevik/logsentinel/internal/service"
	"github.com/setevik/logsentinel/internal/store"
)

const (
	defaultLimit = 100
	maxLimit     = 10000
)

// IngestResponse is the body returned by POST /logs.
type IngestResponse struct {
	Status    string `json:"status"`
	ID        string `json:"id"`
	IsAnomaly bool   `json:"is_anomaly"`
	Reason    string `json:"reason"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var p ingest.Payload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}

	ev, coerced, err := p.Event(s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if coerced {
		slog.Debug("ingested event timestamp coerced to unknown", "id", ev.ID, "timestamp", p.Timestamp)
	}

	d, err := s.svc.Ingest(r.Context(), ev, service.OriginHTTP)
	if err != nil {
		slog.Error("failed to persist ingested event", "id", ev.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "event could not be stored")
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{
		Status:    "ok",
		ID:        ev.ID,
		IsAnomaly: d.IsAnomaly,
		Reason:    d.Reason,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.EventFilter{
		Level:  q.Get("level"),
		Source: q.Get("source"),
	}

	var err error
	if f.Anomaly, err = parseBool(q, "anomaly"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Since, err = parseTime(q, "since"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Until, err = parseTime(q, "until"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Limit, err = parseLimit(q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := s.db.QueryEvents(r.Context(), f)
	if err != nil {
		slog.Error("event query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if recs == nil {
		recs = []event.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.IncidentFilter
	var err error

	if o := q.Get("origin"); o != "" {
		if f.Origin, err = store.ParseOrigin(o); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if sev := q.Get("severity"); sev != "" {
		var ok bool
		if f.Severity, ok = incident.ParseSeverity(sev); !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown severity %q", sev))
			return
		}
	}
	if f.Suppressed, err = parseBool(q, "suppressed"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Since, err = parseTime(q, "since"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Limit, err = parseLimit(q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	incidents, err := s.db.QueryIncidents(r.Context(), f)
	if err != nil {
		slog.Error("incident query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if incidents == nil {
		incidents = []store.StoredIncident{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.db.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "events": n})
}

func parseBool(q url.Values, key string) (*bool, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be true or false, got %q", key, v)
	}
	return &b, nil
}

func parseTime(q url.Values, key string) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	ts, err := ingest.ParseTimestamp(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return ts, nil
}

func parseLimit(q url.Values) (int, error) {
	v := q.Get("limit")
	if v == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxLimit), nil
}
