package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegisflux/riskengine/internal/engine"
	"github.com/aegisflux/riskengine/internal/metrics"
	"github.com/aegisflux/riskengine/internal/model"
)

// Check reports whether one dependency is ready
type Check func(ctx context.Context) error

// ScoreReader serves cached scores
type ScoreReader interface {
	Get(ctx context.Context, target string) (*model.ResilienceScore, error)
}

// Server is the dashboard HTTP API
type Server struct {
	r        *chi.Mux
	engine   *engine.Engine
	scores   ScoreReader
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	checks   map[string]Check
	logger   *slog.Logger
	now      func() time.Time
}

// Options configure optional server collaborators
type Options struct {
	Scores   ScoreReader
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Checks   map[string]Check
}

// NewServer creates the API router over the engine
func NewServer(eng *engine.Engine, logger *slog.Logger, opts Options) *Server {
	s := &Server{
		r:        chi.NewRouter(),
		engine:   eng,
		scores:   opts.Scores,
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
		checks:   opts.Checks,
		logger:   logger,
		now:      time.Now,
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.RealIP)
	s.r.Use(s.requestLogger)
	s.r.Use(middleware.Recoverer)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.Get("/healthz", s.handleHealth)
	s.r.Get("/readyz", s.handleReady)
	s.r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.r.Route("/incidents", func(r chi.Router) {
		r.Get("/", s.listIncidents)
		r.Get("/{id}", s.getIncident)
		r.Patch("/{id}", s.patchIncident)
	})
	s.r.Get("/runs", s.listRuns)

	s.r.Post("/correlate", s.postCorrelate)
	s.r.Post("/correlate/run", s.postCorrelateRun)

	s.r.Route("/scores/{target}", func(r chi.Router) {
		r.Get("/", s.getScore)
		r.Post("/", s.postScore)
		r.Get("/history", s.getScoreHistory)
	})

	s.r.Get("/graph", s.getGraph)
	s.r.Get("/settings", s.getSettings)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler { return s.r }

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Incidents().GetStats()
	if s.metrics != nil {
		if total, ok := stats["total_incidents"].(int); ok {
			s.metrics.SetIncidentsInStore(total)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().UTC(),
		"stats":     stats,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results := make(map[string]string, len(s.checks))
	ready := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			ready = false
			continue
		}
		results[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": s.now().UTC(),
		"checks":    results,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
