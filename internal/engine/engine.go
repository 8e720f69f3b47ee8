package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegisflux/riskengine/internal/correlate"
	"github.com/aegisflux/riskengine/internal/dispatch"
	"github.com/aegisflux/riskengine/internal/facts"
	"github.com/aegisflux/riskengine/internal/history"
	"github.com/aegisflux/riskengine/internal/metrics"
	"github.com/aegisflux/riskengine/internal/model"
	"github.com/aegisflux/riskengine/internal/rules"
	"github.com/aegisflux/riskengine/internal/store"
)

// Publisher broadcasts engine output
type Publisher interface {
	PublishIncidents(incidents []model.Incident) error
	PublishScore(score *model.ResilienceScore) error
	PublishLowScoreAlert(alert *model.LowScoreAlert) error
}

// Escalator hands severe incidents to the response dispatcher
type Escalator interface {
	Escalate(ctx context.Context, incidents []model.Incident, at time.Time) []*dispatch.IsolationRequest
	Forget(key string)
}

// ScoreCache holds the latest score per target
type ScoreCache interface {
	Put(ctx context.Context, score *model.ResilienceScore) error
}

// Deps are the collaborators of the engine. Events, Facts, History, Incidents and Logger
// are required; the rest are optional.
type Deps struct {
	Events    facts.EventSource
	Facts     facts.FactProvider
	History   history.Store
	Incidents *store.MemoryStore
	Graph     func() *rules.Graph
	Cache     ScoreCache
	Publisher Publisher
	Escalator Escalator
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Engine runs correlation and scoring over the configured sources
type Engine struct {
	deps     Deps
	mu       sync.RWMutex
	settings Settings
	newRunID func() string
}

// New creates an engine
func New(deps Deps, settings Settings) (*Engine, error) {
	switch {
	case deps.Events == nil:
		return nil, errors.New("event source is required")
	case deps.Facts == nil:
		return nil, errors.New("fact provider is required")
	case deps.History == nil:
		return nil, errors.New("score history is required")
	case deps.Incidents == nil:
		return nil, errors.New("incident store is required")
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if deps.Graph == nil {
		graph := rules.DefaultGraph()
		deps.Graph = func() *rules.Graph { return graph }
	}

	return &Engine{deps: deps, settings: settings, newRunID: uuid.NewString}, nil
}

// Settings returns the current settings
func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// UpdateSettings applies fn to a copy of the settings and installs it when valid
func (e *Engine) UpdateSettings(fn func(*Settings)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.settings
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	e.settings = next
	return nil
}

// Correlator returns a correlator over the current graph and window
func (e *Engine) Correlator() *correlate.Correlator {
	return correlate.New(e.deps.Graph(), correlate.WithWindow(e.Settings().CorrelationWindow))
}

// Graph returns the correlation graph in use
func (e *Engine) Graph() *rules.Graph {
	return e.deps.Graph()
}

// Incidents returns the incident store
func (e *Engine) Incidents() *store.MemoryStore {
	return e.deps.Incidents
}

// SetIncidentStatus moves a stored incident to a new status. Resolving an incident
// clears its escalation memory so it is escalated again once reopened.
func (e *Engine) SetIncidentStatus(id, status string) (model.Incident, error) {
	inc, err := e.deps.Incidents.SetStatus(id, status)
	if err != nil {
		return model.Incident{}, err
	}
	if inc.Status == model.StatusResolved && e.deps.Escalator != nil {
		e.deps.Escalator.Forget(inc.Key)
	}
	return inc, nil
}

// History returns the score history
func (e *Engine) History() history.Store {
	return e.deps.History
}
