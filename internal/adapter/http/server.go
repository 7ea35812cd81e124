// Package http exposes health, readiness, metrics, and operator endpoints.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/humanitarian-data-etl/internal/pipeline"
	"github.com/couchcryptid/humanitarian-data-etl/internal/unmatched"
)

const (
	defaultUnmatchedWindow = 24 * time.Hour
	defaultUnmatchedLimit  = 50
)

// ReportSource returns the last completed pipeline run.
type ReportSource interface {
	LastReport() (pipeline.RunReport, bool)
}

// Server exposes /healthz, /readyz, /metrics, /unmatched, and /runs/latest.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	unmatched  unmatched.Recorder
	reports    ReportSource
	clock      clockwork.Clock
}

// NewServer creates the HTTP server. unmatched and reports may be nil, in
// which case their routes answer 404. A nil clock uses real time.
func NewServer(addr string, ready sharedobs.ReadinessChecker, um unmatched.Recorder, reports ReportSource, clock clockwork.Clock, logger *slog.Logger) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger:    logger,
		unmatched: um,
		reports:   reports,
		clock:     clock,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if um != nil {
		mux.HandleFunc("GET /unmatched", s.handleUnmatched)
	}
	if reports != nil {
		mux.HandleFunc("GET /runs/latest", s.handleLatestRun)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type unmatchedResponse struct {
	Since     time.Time            `json:"since"`
	Count     int                  `json:"count"`
	Locations []unmatched.Location `json:"locations"`
	Message   string               `json:"message"`
}

// handleUnmatched serves GET /unmatched?since=24h&limit=50.
func (s *Server) handleUnmatched(w http.ResponseWriter, r *http.Request) {
	window := defaultUnmatchedWindow
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be a positive duration such as 24h"})
			return
		}
		window = d
	}
	limit := defaultUnmatchedLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	since := s.clock.Now().UTC().Add(-window)
	locs, err := s.unmatched.Summary(r.Context(), since, limit)
	if err != nil {
		s.logger.Error("unmatched summary failed", "error", err)
		sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "unmatched summary unavailable"})
		return
	}
	if locs == nil {
		locs = []unmatched.Location{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, unmatchedResponse{
		Since:     since,
		Count:     len(locs),
		Locations: locs,
		Message:   unmatched.Message(locs),
	})
}

func (s *Server) handleLatestRun(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.reports.LastReport()
	if !ok {
		sharedobs.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "no completed run yet"})
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, report)
}
