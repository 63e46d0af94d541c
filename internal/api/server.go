// Package api serves the incident store, live analytics and tuning
// parameters over HTTP.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/incident.report/internal/config"
	"github.com/banshee-data/incident.report/internal/db"
	"github.com/banshee-data/incident.report/internal/monitoring"
	"github.com/banshee-data/incident.report/internal/traffic"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// StatsSource exposes the pipeline's running analytics counters. The
// pipeline itself satisfies this; tests substitute a fixture.
type StatsSource interface {
	Snapshot() traffic.Analytics
}

type Server struct {
	db     *db.DB
	params *config.Store
	stats  StatsSource
}

func NewServer(database *db.DB, params *config.Store, stats StatsSource) *Server {
	return &Server{
		db:     database,
		params: params,
		stats:  stats,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/incidents", s.listIncidents)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/params", s.handleParams)
	mux.HandleFunc("/charts/incidents", s.incidentCharts)
	mux.HandleFunc("/healthz", s.healthz)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	io.WriteString(w, "ok\n")
}

// listIncidents returns stored incidents, newest first. Query params:
//   - type (optional): one incident type, e.g. "collision"
//   - since (optional): RFC3339 lower bound on occurred time
//   - limit (optional): max rows, default 200
func (s *Server) listIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var filter db.IncidentFilter
	if typ := r.URL.Query().Get("type"); typ != "" {
		filter.Type = traffic.IncidentType(typ)
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "invalid since parameter, want RFC3339")
			return
		}
		filter.Since = t
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		filter.Limit = n
	}

	incidents, err := s.db.ListIncidents(filter)
	if err != nil {
		monitoring.Logf("list incidents failed: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if incidents == nil {
		incidents = []traffic.Incident{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

// showStats merges the live pipeline counters with the stored per-type
// incident totals.
func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	counts, err := s.db.CountIncidentsByType()
	if err != nil {
		monitoring.Logf("count incidents failed: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "query failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"analytics":         s.stats.Snapshot(),
		"incidents_by_type": counts,
	})
}

// handleParams serves the live tuning document. GET returns the current
// merged document; POST merges a partial document in after validation.
func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		current := s.params.Current()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(current)

	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		var partial config.TuningConfig
		if err := json.Unmarshal(body, &partial); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.params.Update(&partial); err != nil {
			s.writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		monitoring.Logf("tuning parameters updated (generation %d)", s.params.Generation())

		current := s.params.Current()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(current)

	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
