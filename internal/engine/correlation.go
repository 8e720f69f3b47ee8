package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aegisflux/riskengine/internal/facts"
	"github.com/aegisflux/riskengine/internal/model"
	"github.com/aegisflux/riskengine/internal/store"
)

// CorrelationReport summarizes one correlation run
type CorrelationReport struct {
	RunID     string           `json:"run_id"`
	At        time.Time        `json:"at"`
	From      time.Time        `json:"from"`
	To        time.Time        `json:"to"`
	Processed int              `json:"processed"`
	Skipped   int              `json:"skipped"`
	Created   int              `json:"created"`
	Updated   int              `json:"updated"`
	Escalated int              `json:"escalated"`
	Incidents []model.Incident `json:"incidents"`
}

// RunCorrelation correlates the events in [now - lookback, now], stores the incidents,
// publishes them and escalates the severe ones. An event source failure wraps
// facts.ErrUnavailable.
func (e *Engine) RunCorrelation(ctx context.Context, now time.Time) (*CorrelationReport, error) {
	start := time.Now()
	settings := e.Settings()
	now = now.UTC()

	report := &CorrelationReport{
		RunID: e.newRunID(),
		At:    now,
		From:  now.Add(-settings.Lookback),
		To:    now,
	}
	logger := e.deps.Logger.With("run_id", report.RunID)

	events, err := e.deps.Events.Events(ctx, report.From, report.To)
	if err != nil {
		e.observeCorrelation("error", start, 0)
		if !errors.Is(err, facts.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", facts.ErrUnavailable, err)
		}
		logger.Error("Failed to read events", "error", err)
		return nil, fmt.Errorf("correlation run %s: %w", report.RunID, err)
	}

	result := e.Correlator().Run(events)
	report.Processed = result.Processed
	report.Skipped = result.Skipped
	// fills in store keys and externally managed statuses
	upserted := e.deps.Incidents.UpsertAll(result.Incidents)
	report.Created, report.Updated = upserted.Created, upserted.Updated
	report.Incidents = result.Incidents
	if report.Incidents == nil {
		report.Incidents = []model.Incident{}
	}

	e.deps.Incidents.RecordRun(store.RunRecord{
		RunID:     report.RunID,
		At:        now,
		Processed: report.Processed,
		Skipped:   report.Skipped,
		Incidents: len(report.Incidents),
		Created:   report.Created,
		Duration:  time.Since(start),
	})

	if m := e.deps.Metrics; m != nil {
		for _, inc := range report.Incidents {
			if upserted.New[inc.Key] {
				m.IncIncidents(inc.Severity)
			}
		}
		m.SetIncidentsInStore(e.deps.Incidents.Len())
	}

	if p := e.deps.Publisher; p != nil && len(report.Incidents) > 0 {
		if err := p.PublishIncidents(report.Incidents); err != nil {
			logger.Warn("Failed to publish incidents", "error", err)
		}
	}

	if esc := e.deps.Escalator; esc != nil {
		var open []model.Incident
		for _, inc := range report.Incidents {
			if inc.Status != model.StatusResolved {
				open = append(open, inc)
			}
		}
		report.Escalated = len(esc.Escalate(ctx, open, now))
	}

	e.observeCorrelation("success", start, report.Skipped)
	logger.Info("Correlation run completed",
		"events", report.Processed,
		"skipped", report.Skipped,
		"incidents", len(report.Incidents),
		"created", report.Created,
		"updated", report.Updated,
		"escalated", report.Escalated,
		"duration_ms", time.Since(start).Milliseconds())

	return report, nil
}

func (e *Engine) observeCorrelation(outcome string, start time.Time, skipped int) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.ObserveCorrelation(outcome, time.Since(start).Seconds(), skipped)
	}
}
