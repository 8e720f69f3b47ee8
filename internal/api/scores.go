package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aegisflux/riskengine/internal/facts"
	"github.com/aegisflux/riskengine/internal/history"
	"github.com/aegisflux/riskengine/internal/scoring"
)

// getScore handles GET /scores/{target}: the cached score, falling back to history
func (s *Server) getScore(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")

	if s.scores != nil {
		if score, err := s.scores.Get(r.Context(), target); err == nil {
			w.Header().Set("X-Score-Source", "cache")
			writeJSON(w, http.StatusOK, score)
			return
		}
	}

	score, err := s.engine.History().Latest(r.Context(), target)
	if err != nil {
		if errors.Is(err, history.ErrNoHistory) {
			writeError(w, http.StatusNotFound, "no score for target")
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.Header().Set("X-Score-Source", "history")
	writeJSON(w, http.StatusOK, score)
}

// getScoreHistory handles GET /scores/{target}/history?limit=
func (s *Server) getScoreHistory(w http.ResponseWriter, r *http.Request) {
	limit := 30
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	target := chi.URLParam(r, "target")
	scores, err := s.engine.History().List(r.Context(), target, limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"target": target,
		"scores": scores,
		"count":  len(scores),
	})
}

// postScore handles POST /scores/{target}: scores the target now
func (s *Server) postScore(w http.ResponseWriter, r *http.Request) {
	score, err := s.engine.ScoreTarget(r.Context(), chi.URLParam(r, "target"), s.now())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, score)
	case errors.Is(err, facts.ErrTargetNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, facts.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, scoring.ErrInvalidFacts):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// getGraph handles GET /graph
func (s *Server) getGraph(w http.ResponseWriter, r *http.Request) {
	g := s.engine.Graph()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"edges":          g.Edges(),
		"window_seconds": int(g.Window().Seconds()),
		"source":         g.Source(),
		"version":        g.Version(),
	})
}

// getSettings handles GET /settings
func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Settings()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"correlation_window_seconds":   int(st.CorrelationWindow.Seconds()),
		"lookback_seconds":             int(st.Lookback.Seconds()),
		"scoring_profile":              st.Profile,
		"score_concurrency":            st.Concurrency,
		"correlation_interval_seconds": int(st.CorrelationInterval.Seconds()),
		"scoring_interval_seconds":     int(st.ScoringInterval.Seconds()),
		"fast_interval_seconds":        int(st.FastInterval.Seconds()),
	})
}
