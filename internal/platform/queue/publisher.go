package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Message is the body of both attempt and patient-created deliveries.
type Message struct {
	PatientID uuid.UUID `json:"patient_id"`
	Enqueued  time.Time `json:"enqueued_at"`
}

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher publishes attempt and patient-created messages. It satisfies
// assignment.Scheduler.
type Publisher struct {
	conn *amqp.Connection
	ch   publishChannel
	topo Topology
	now  func() time.Time

	mu sync.Mutex
}

func NewPublisher(url string, topo Topology) (*Publisher, error) {
	conn, ch, err := dial(url)
	if err != nil {
		return nil, err
	}
	if err := topo.Declare(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, topo: topo, now: time.Now}, nil
}

// Schedule publishes an attempt for patientID. A positive delay parks the
// message in the delay queue until its TTL expires.
func (p *Publisher) Schedule(ctx context.Context, patientID uuid.UUID, delay time.Duration) error {
	body, err := json.Marshal(Message{PatientID: patientID, Enqueued: p.now().UTC()})
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Body:         body,
	}
	if delay <= 0 {
		return p.publish(ctx, p.topo.Exchange, RoutingAttempt, msg)
	}
	ms := delay.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	msg.Expiration = strconv.FormatInt(ms, 10)
	// default exchange routes by queue name
	return p.publish(ctx, "", p.topo.DelayQueue(), msg)
}

// PublishPatientCreated announces a new patient to the worker.
func (p *Publisher) PublishPatientCreated(ctx context.Context, patientID uuid.UUID) error {
	return p.PublishJSON(ctx, RoutingPatientCreated, Message{PatientID: patientID, Enqueued: p.now().UTC()})
}

func (p *Publisher) PublishJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.publish(ctx, p.topo.Exchange, key, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Body:         b,
	})
}

func (p *Publisher) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// Ping reports whether the broker connection is still open.
func (p *Publisher) Ping(context.Context) error {
	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection closed")
	}
	return nil
}

func (p *Publisher) Close() error {
	if c, ok := p.ch.(*amqp.Channel); ok && c != nil {
		_ = c.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
