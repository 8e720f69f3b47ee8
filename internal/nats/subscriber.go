package nats

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/aegisflux/riskengine/internal/metrics"
	"github.com/aegisflux/riskengine/internal/model"
)

// Event subjects
const (
	SubjectEventsEnriched = "events.enriched"
	SubjectEventsRaw      = "events.raw"
)

// EventSink receives parsed events; the window buffer implements it
type EventSink interface {
	Add(ev model.SecurityEvent) bool
	Len() int
}

// Subscriber feeds events from NATS into the event window
type Subscriber struct {
	nc        *nats.Conn
	sink      EventSink
	validator *Validator
	metrics   *metrics.Metrics
	logger    *slog.Logger
	queue     string

	invalid  atomic.Int64
	accepted atomic.Int64
	dropped  atomic.Int64

	enrichedSub *nats.Subscription
	rawSub      *nats.Subscription
}

// NewSubscriber creates a new NATS subscriber
func NewSubscriber(nc *nats.Conn, sink EventSink, validator *Validator, queue string, m *metrics.Metrics, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		nc:        nc,
		sink:      sink,
		validator: validator,
		metrics:   m,
		logger:    logger,
		queue:     queue,
	}
}

// Subscribe starts listening on the event subjects and blocks until ctx is done
func (s *Subscriber) Subscribe(ctx context.Context) error {
	s.logger.Info("Subscribing to events", "queue", s.queue)

	enrichedSub, err := s.nc.QueueSubscribe(SubjectEventsEnriched, s.queue, s.handleMessage)
	if err != nil {
		s.logger.Error("Failed to subscribe to enriched events", "error", err)
		return err
	}
	s.enrichedSub = enrichedSub

	rawSub, err := s.nc.QueueSubscribe(SubjectEventsRaw, s.queue, s.handleMessage)
	if err != nil {
		s.logger.Error("Failed to subscribe to raw events", "error", err)
		enrichedSub.Unsubscribe()
		return err
	}
	s.rawSub = rawSub
	s.logger.Info("Subscribed to events",
		"subjects", []string{SubjectEventsEnriched, SubjectEventsRaw},
		"queue", s.queue)

	<-ctx.Done()

	s.drain()
	return nil
}

// handleMessage validates, parses and buffers one event. Bad payloads are counted and
// acknowledged so they are not redelivered.
func (s *Subscriber) handleMessage(msg *nats.Msg) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic while handling event", "subject", msg.Subject, "panic", r)
			s.rejected()
		}
	}()
	defer ack(msg)

	data, err := payload(msg)
	if err != nil {
		s.logger.Warn("Failed to decode event payload", "subject", msg.Subject, "error", err)
		s.rejected()
		return
	}

	if s.validator != nil {
		if err := s.validator.Validate(data); err != nil {
			s.logger.Warn("Event failed schema validation", "subject", msg.Subject, "error", err)
			s.rejected()
			return
		}
	}

	ev, err := parseEvent(data)
	if err != nil {
		s.logger.Warn("Failed to parse event", "subject", msg.Subject, "error", err)
		s.rejected()
		return
	}

	if !s.sink.Add(ev) {
		s.dropped.Add(1)
		s.logger.Debug("Event not buffered", "event_id", ev.ID, "hostname", ev.Hostname)
		return
	}

	s.accepted.Add(1)
	if s.metrics != nil {
		s.metrics.IncEventsProcessed()
		s.metrics.SetEventsBuffered(s.sink.Len())
	}
	s.logger.Debug("Event buffered",
		"event_id", ev.ID,
		"hostname", ev.Hostname,
		"event_type", ev.EventType,
		"subject", msg.Subject)
}

func (s *Subscriber) rejected() {
	s.invalid.Add(1)
	if s.metrics != nil {
		s.metrics.IncEventsInvalid()
	}
}

// ack acknowledges JetStream deliveries; core NATS messages carry no reply subject
func ack(msg *nats.Msg) {
	if msg.Reply != "" && msg.Sub != nil {
		_ = msg.Ack()
	}
}

func (s *Subscriber) drain() {
	s.logger.Info("Starting graceful shutdown with drain")
	for name, sub := range map[string]*nats.Subscription{"enriched": s.enrichedSub, "raw": s.rawSub} {
		if sub == nil {
			continue
		}
		if err := sub.Drain(); err != nil {
			s.logger.Error("Failed to drain subscription", "subscription", name, "error", err)
		}
	}
	s.logger.Info("Graceful shutdown completed")
}

// GetStats returns subscriber counters
func (s *Subscriber) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"events_accepted": s.accepted.Load(),
		"events_invalid":  s.invalid.Load(),
		"events_dropped":  s.dropped.Load(),
	}
}
