package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aegisflux/riskengine/internal/metrics"
	"github.com/aegisflux/riskengine/internal/model"
)

// Dispatcher hands critical and high incidents to the response sinks. An incident is
// escalated again only when its severity changes. Incidents are told apart by their
// store key, so a recurrence of an earlier incident id is escalated on its own.
type Dispatcher struct {
	sinks   []Sink
	seen    *lru.Cache[string, struct{}]
	metrics *metrics.Metrics
	logger  *slog.Logger
	newID   func() string
}

// NewDispatcher creates a dispatcher remembering up to memory escalated incidents
func NewDispatcher(sinks []Sink, memory int, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if memory <= 0 {
		memory = 10000
	}
	seen, _ := lru.New[string, struct{}](memory)
	return &Dispatcher{
		sinks:   sinks,
		seen:    seen,
		metrics: m,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// Escalate sends an isolation request for every critical or high incident not already
// escalated at its current severity. Sink failures are logged and counted; an incident
// that no sink accepted is retried on the next call. Returns the requests delivered.
func (d *Dispatcher) Escalate(ctx context.Context, incidents []model.Incident, at time.Time) []*IsolationRequest {
	if len(d.sinks) == 0 {
		return nil
	}

	var sent []*IsolationRequest
	for i := range incidents {
		inc := &incidents[i]
		if !Escalates(inc.Severity) {
			continue
		}

		key := inc.StoreKey() + "|" + inc.Severity
		if d.seen.Contains(key) {
			if d.metrics != nil {
				d.metrics.IncEscalationsSuppressed()
			}
			continue
		}

		req := newRequest(d.newID(), inc, at)
		delivered := 0
		for _, sink := range d.sinks {
			if err := sink.Send(ctx, req); err != nil {
				d.logger.Error("Failed to send isolation request",
					"sink", sink.Name(),
					"incident_id", inc.IncidentID,
					"command_id", req.CommandID,
					"error", err)
				d.count(sink.Name(), "error")
				continue
			}
			delivered++
			d.count(sink.Name(), "success")
		}

		if delivered == 0 {
			continue
		}
		d.seen.Add(key, struct{}{})
		sent = append(sent, req)

		d.logger.Info("Incident escalated",
			"incident_id", inc.IncidentID,
			"command_id", req.CommandID,
			"severity", inc.Severity,
			"priority", req.Priority,
			"hosts", req.Hosts)
	}
	return sent
}

// Forget drops the escalation memory for an incident store key, so the incident is
// escalated again if it is reopened
func (d *Dispatcher) Forget(key string) {
	for _, sev := range []string{model.SeverityCritical, model.SeverityHigh} {
		d.seen.Remove(key + "|" + sev)
	}
}

func (d *Dispatcher) count(sink, outcome string) {
	if d.metrics != nil {
		d.metrics.IncEscalation(sink, outcome)
	}
}
