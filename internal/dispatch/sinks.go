package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/streadway/amqp"
)

// Default destinations
const (
	SubjectIsolate = "riskengine.response.isolate"
	QueueCommands  = "response_commands"
)

// Sink delivers isolation requests to one response channel
type Sink interface {
	Name() string
	Send(ctx context.Context, req *IsolationRequest) error
}

type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
	IsConnected() bool
}

// NATSSink publishes isolation requests on a NATS subject
type NATSSink struct {
	conn    msgPublisher
	subject string
}

// NewNATSSink creates a NATS sink; an empty subject means riskengine.response.isolate
func NewNATSSink(conn msgPublisher, subject string) *NATSSink {
	if subject == "" {
		subject = SubjectIsolate
	}
	return &NATSSink{conn: conn, subject: subject}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Send(_ context.Context, req *IsolationRequest) error {
	if s.conn == nil || !s.conn.IsConnected() {
		return errors.New("NATS connection not available")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal isolation request: %w", err)
	}

	headers := nats.Header{}
	headers.Set("x-command-id", req.CommandID)
	headers.Set("x-incident-id", req.IncidentID)
	headers.Set("x-priority", strconv.Itoa(req.Priority))

	if err := s.conn.PublishMsg(&nats.Msg{Subject: s.subject, Data: data, Header: headers}); err != nil {
		return fmt.Errorf("failed to publish isolation request: %w", err)
	}
	return nil
}

// AMQPSink publishes isolation requests to a RabbitMQ queue. The connection is opened on
// first use and reopened after a failure.
type AMQPSink struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPSink creates an AMQP sink; an empty queue means response_commands
func NewAMQPSink(url, queue string) *AMQPSink {
	if queue == "" {
		queue = QueueCommands
	}
	return &AMQPSink{url: url, queue: queue}
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Send(ctx context.Context, req *IsolationRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal isolation request: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connectLocked(); err != nil {
		return err
	}

	err = s.ch.Publish(
		"",      // exchange
		s.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    req.CommandID,
			Priority:     uint8(req.Priority),
			Timestamp:    req.CreatedAt,
			Body:         data,
		})
	if err != nil {
		s.resetLocked()
		return fmt.Errorf("publish to queue '%s': %w", s.queue, err)
	}
	return nil
}

func (s *AMQPSink) connectLocked() error {
	if s.ch != nil {
		return nil
	}

	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		s.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare queue '%s': %w", s.queue, err)
	}

	s.conn, s.ch = conn, ch
	return nil
}

func (s *AMQPSink) resetLocked() {
	if s.ch != nil {
		s.ch.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn, s.ch = nil, nil
}

// Close closes the AMQP connection
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	return nil
}
