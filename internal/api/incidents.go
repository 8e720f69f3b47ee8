package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aegisflux/riskengine/internal/correlate"
	"github.com/aegisflux/riskengine/internal/facts"
	"github.com/aegisflux/riskengine/internal/model"
	"github.com/aegisflux/riskengine/internal/store"
)

const maxCorrelateBody = 8 << 20

// listIncidents handles GET /incidents?host=&severity=&status=&limit=
func (s *Server) listIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.Filter{
		Host:        q.Get("host"),
		MinSeverity: strings.ToLower(q.Get("severity")),
		Status:      strings.ToLower(q.Get("status")),
	}
	if filter.MinSeverity != "" && !model.IsValidSeverity(filter.MinSeverity) {
		writeError(w, http.StatusBadRequest, "severity must be one of critical, high, medium, low")
		return
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	incidents := s.engine.Incidents().List(filter)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"incidents": incidents,
		"count":     len(incidents),
		"timestamp": s.now().UTC(),
	})
}

// getIncident handles GET /incidents/{id}
func (s *Server) getIncident(w http.ResponseWriter, r *http.Request) {
	inc, ok := s.engine.Incidents().Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

type statusUpdate struct {
	Status string `json:"status"`
}

// patchIncident handles PATCH /incidents/{id} with {"status": "investigating"}
func (s *Server) patchIncident(w http.ResponseWriter, r *http.Request) {
	var body statusUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	inc, err := s.engine.SetIncidentStatus(chi.URLParam(r, "id"), strings.ToLower(body.Status))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, store.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("Incident status updated", "incident_id", inc.IncidentID, "key", inc.Key, "status", inc.Status)
	writeJSON(w, http.StatusOK, inc)
}

// listRuns handles GET /runs
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.engine.Incidents().Runs()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

type correlateRequest struct {
	Events        []model.SecurityEvent `json:"events"`
	WindowSeconds int                   `json:"window_seconds,omitempty"`
}

// postCorrelate handles POST /correlate: correlates the posted events without storing them
func (s *Server) postCorrelate(w http.ResponseWriter, r *http.Request) {
	var req correlateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCorrelateBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.WindowSeconds < 0 {
		writeError(w, http.StatusBadRequest, "window_seconds must not be negative")
		return
	}

	c := s.engine.Correlator()
	if req.WindowSeconds > 0 {
		c = correlate.New(s.engine.Graph(), correlate.WithWindow(time.Duration(req.WindowSeconds)*time.Second))
	}
	result := c.Run(req.Events)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"incidents":      result.Incidents,
		"count":          len(result.Incidents),
		"processed":      result.Processed,
		"skipped":        result.Skipped,
		"window_seconds": int(c.Window().Seconds()),
	})
}

// postCorrelateRun handles POST /correlate/run: one correlation run over the live window
func (s *Server) postCorrelateRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.RunCorrelation(r.Context(), s.now())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, facts.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}
