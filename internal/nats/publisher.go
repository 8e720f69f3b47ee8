package nats

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aegisflux/riskengine/internal/metrics"
	"github.com/aegisflux/riskengine/internal/model"
)

// Publish subjects
const (
	SubjectIncidents     = "riskengine.incidents"
	SubjectScores        = "riskengine.scores"
	SubjectLowScoreAlert = "riskengine.alerts.low_score"
)

// ErrNotConnected is returned when publishing without a live connection
var ErrNotConnected = errors.New("NATS connection not available")

// MsgPublisher is the subset of *nats.Conn the publisher needs
type MsgPublisher interface {
	PublishMsg(msg *nats.Msg) error
	IsConnected() bool
}

// Publisher publishes incidents and scores
type Publisher struct {
	conn        MsgPublisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
	compressMin int
}

// NewPublisher creates a publisher. Payloads of at least compressMin bytes are zstd
// compressed; zero disables compression.
func NewPublisher(conn MsgPublisher, compressMin int, m *metrics.Metrics, logger *slog.Logger) *Publisher {
	return &Publisher{conn: conn, compressMin: compressMin, metrics: m, logger: logger}
}

// PublishIncident publishes one incident to riskengine.incidents
func (p *Publisher) PublishIncident(incident *model.Incident) error {
	headers := nats.Header{}
	headers.Set("x-incident-id", incident.IncidentID)
	headers.Set("x-severity", incident.Severity)
	headers.Set("x-kill-chain-stage", incident.KillChainStage)
	headers.Set("x-alert-count", strconv.Itoa(incident.AlertCount))
	return p.publish(SubjectIncidents, incident, headers)
}

// PublishIncidents publishes every incident, returning the joined errors of failed ones
func (p *Publisher) PublishIncidents(incidents []model.Incident) error {
	var errs []error
	for i := range incidents {
		if err := p.PublishIncident(&incidents[i]); err != nil {
			errs = append(errs, fmt.Errorf("incident %s: %w", incidents[i].IncidentID, err))
		}
	}

	p.logger.Info("Published incidents batch",
		"total", len(incidents),
		"successful", len(incidents)-len(errs),
		"failed", len(errs))

	return errors.Join(errs...)
}

// PublishScore publishes a resilience score to riskengine.scores
func (p *Publisher) PublishScore(score *model.ResilienceScore) error {
	headers := nats.Header{}
	headers.Set("x-target", score.Target)
	headers.Set("x-grade", score.Grade)
	headers.Set("x-profile", score.Profile)
	headers.Set("x-timestamp", score.CalculatedAt.Format(time.RFC3339))
	return p.publish(SubjectScores, score, headers)
}

// PublishLowScoreAlert publishes a low score alert
func (p *Publisher) PublishLowScoreAlert(alert *model.LowScoreAlert) error {
	headers := nats.Header{}
	headers.Set("x-target", alert.Target)
	headers.Set("x-risk-category", alert.RiskCategory)
	return p.publish(SubjectLowScoreAlert, alert, headers)
}

func (p *Publisher) publish(subject string, v any, headers nats.Header) error {
	if p.conn == nil || !p.conn.IsConnected() {
		p.countError()
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", subject, err)
	}
	if p.compressMin > 0 && len(data) >= p.compressMin {
		data = compress(data)
		headers.Set(HeaderContentEncoding, EncodingZstd)
	}

	msg := &nats.Msg{Subject: subject, Data: data, Header: headers}
	if err := p.conn.PublishMsg(msg); err != nil {
		p.countError()
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.logger.Debug("Published message", "subject", subject, "bytes", len(data))
	return nil
}

func (p *Publisher) countError() {
	if p.metrics != nil {
		p.metrics.IncNatsPublishErrors()
	}
}
