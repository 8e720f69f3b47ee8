package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all the Prometheus metrics for the risk engine
type Metrics struct {
	EventsProcessed       prometheus.Counter
	EventsInvalid         prometheus.Counter
	EventsBuffered        prometheus.Gauge
	CorrelationRuns       *prometheus.CounterVec
	CorrelationDuration   prometheus.Histogram
	EventsSkipped         prometheus.Counter
	IncidentsGenerated    *prometheus.CounterVec
	IncidentsInStore      prometheus.Gauge
	ScoresComputed        *prometheus.CounterVec
	ScoringDuration       prometheus.Histogram
	LowScoreAlerts        prometheus.Counter
	EscalationsSent       *prometheus.CounterVec
	EscalationsSuppressed prometheus.Counter
	NatsPublishErrors     prometheus.Counter
	NatsConnected         prometheus.Gauge
	GraphReloads          prometheus.Counter
}

// NewMetrics registers the risk engine metrics with reg. Use prometheus.DefaultRegisterer
// in the service and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_events_processed_total",
			Help: "Total number of security events accepted into the window",
		}),
		EventsInvalid: factory.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_events_invalid_total",
			Help: "Total number of security events rejected by validation",
		}),
		EventsBuffered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "riskengine_events_buffered",
			Help: "Number of events currently held in the window buffer",
		}),
		CorrelationRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_correlation_runs_total",
			Help: "Total number of correlation runs by outcome",
		}, []string{"outcome"}),
		CorrelationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskengine_correlation_duration_seconds",
			Help:    "Duration of correlation runs",
			Buckets: prometheus.DefBuckets,
		}),
		EventsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_events_skipped_total",
			Help: "Total number of malformed events skipped by correlation",
		}),
		IncidentsGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_incidents_generated_total",
			Help: "Total number of incidents produced by correlation, by severity",
		}, []string{"severity"}),
		IncidentsInStore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "riskengine_incidents_in_store",
			Help: "Number of incidents held in the incident store",
		}),
		ScoresComputed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_scores_computed_total",
			Help: "Total number of scoring attempts by profile and outcome",
		}, []string{"profile", "outcome"}),
		ScoringDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskengine_scoring_duration_seconds",
			Help:    "Duration of a single target scoring",
			Buckets: prometheus.DefBuckets,
		}),
		LowScoreAlerts: factory.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_low_score_alerts_total",
			Help: "Total number of low resilience score alerts raised",
		}),
		EscalationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_escalations_total",
			Help: "Total number of isolation requests handed to a sink, by sink and outcome",
		}, []string{"sink", "outcome"}),
		EscalationsSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_escalations_suppressed_total",
			Help: "Total number of escalations suppressed as repeats",
		}),
		NatsPublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_nats_publish_errors_total",
			Help: "Total number of NATS publish errors",
		}),
		NatsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "riskengine_nats_connected",
			Help: "Whether the NATS connection is up (1) or down (0)",
		}),
		GraphReloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_graph_reloads_total",
			Help: "Total number of correlation graph reloads",
		}),
	}
}

// IncEventsProcessed increments the processed events counter
func (m *Metrics) IncEventsProcessed() {
	m.EventsProcessed.Inc()
}

// IncEventsInvalid increments the invalid events counter
func (m *Metrics) IncEventsInvalid() {
	m.EventsInvalid.Inc()
}

// SetEventsBuffered sets the buffered events gauge
func (m *Metrics) SetEventsBuffered(n int) {
	m.EventsBuffered.Set(float64(n))
}

// ObserveCorrelation records one correlation run
func (m *Metrics) ObserveCorrelation(outcome string, seconds float64, skipped int) {
	m.CorrelationRuns.WithLabelValues(outcome).Inc()
	m.CorrelationDuration.Observe(seconds)
	m.EventsSkipped.Add(float64(skipped))
}

// IncIncidents counts one generated incident
func (m *Metrics) IncIncidents(severity string) {
	m.IncidentsGenerated.WithLabelValues(severity).Inc()
}

// SetIncidentsInStore sets the stored incidents gauge
func (m *Metrics) SetIncidentsInStore(n int) {
	m.IncidentsInStore.Set(float64(n))
}

// ObserveScore records one scoring attempt
func (m *Metrics) ObserveScore(profile, outcome string, seconds float64) {
	m.ScoresComputed.WithLabelValues(profile, outcome).Inc()
	m.ScoringDuration.Observe(seconds)
}

// IncLowScoreAlerts increments the low score alert counter
func (m *Metrics) IncLowScoreAlerts() {
	m.LowScoreAlerts.Inc()
}

// IncEscalation counts one isolation request handed to sink
func (m *Metrics) IncEscalation(sink, outcome string) {
	m.EscalationsSent.WithLabelValues(sink, outcome).Inc()
}

// IncEscalationsSuppressed increments the suppressed escalation counter
func (m *Metrics) IncEscalationsSuppressed() {
	m.EscalationsSuppressed.Inc()
}

// IncNatsPublishErrors increments the NATS publish error counter
func (m *Metrics) IncNatsPublishErrors() {
	m.NatsPublishErrors.Inc()
}

// SetNatsConnected sets the NATS connection gauge
func (m *Metrics) SetNatsConnected(connected bool) {
	if connected {
		m.NatsConnected.Set(1)
	} else {
		m.NatsConnected.Set(0)
	}
}

// IncGraphReloads increments the graph reload counter
func (m *Metrics) IncGraphReloads() {
	m.GraphReloads.Inc()
}
