// Package api implements the observability HTTP API (C6): read-only
// views over the control store and the parsed access log for a
// dashboard, plus two POST-able operator triggers. Grounded on
// web/app.py's route layout and web/redis_queries.py's status/summary
// projections, rendered as a JSON API instead of server-rendered HTML
// since a dashboard frontend is out of scope — chi (pulled from the
// pack's ManuGH-xg2g, the corpus's only comparable JSON dashboard API)
// supplies the routing the teacher has no equivalent for.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rtsyork/vlab/pkg/accesslog"
	"github.com/rtsyork/vlab/pkg/lease"
	"github.com/rtsyork/vlab/pkg/util"
)

// Server holds the dependencies every handler reads from.
type Server struct {
	leases   *lease.Leases
	logs     *accesslog.Cache
	registry *prometheus.Registry
}

// New returns a Server reading board state from leases and access-log
// statistics from logs.
func New(leases *lease.Leases, logs *accesslog.Cache) *Server {
	return &Server{leases: leases, logs: logs, registry: newRegistry(leases)}
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLog)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/boards", s.handleBoards)
		r.Route("/stats", func(r chi.Router) {
			r.Get("/summary", s.handleStatsSummary)
			r.Get("/hourly", s.handleStatsHourly)
			r.Get("/users", s.handleStatsUsers)
			r.Get("/denials", s.handleStatsDenials)
		})
		r.Post("/config/reload", s.handleConfigReload)
		r.Post("/hwtest/trigger", s.handleHWTestTrigger)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.leases.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// requestLog logs each request's method, path, status and duration at
// debug level, mirroring the teacher's structured logging rather than
// chi's default stdlib-logger middleware.
func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		util.Logger.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		}).Debug("api request")
	})
}
