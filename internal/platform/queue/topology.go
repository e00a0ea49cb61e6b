// Package queue carries auto-assignment work over RabbitMQ, with an
// in-process fallback for single-binary deployments.
package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	RoutingAttempt        = "assignment.attempt"
	RoutingPatientCreated = "patient.created"
)

// Topology names the exchanges and queues used by publishers and consumers.
//
// Attempts are published to Exchange. Delayed attempts are parked in
// DelayQueue with a per-message TTL; on expiry RabbitMQ dead-letters them
// back to Exchange under RoutingAttempt. Messages rejected twice by the
// worker end up in DeadQueue.
type Topology struct {
	Exchange string
	Queue    string
}

func (t Topology) DelayQueue() string { return t.Queue + ".delay" }
func (t Topology) DeadExchange() string { return t.Exchange + ".dlx" }
func (t Topology) DeadQueue() string { return t.Queue + ".dlq" }
func (t Topology) Bindings() []string { return []string{RoutingAttempt, RoutingPatientCreated} }

func (t Topology) delayArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    t.Exchange,
		"x-dead-letter-routing-key": RoutingAttempt,
	}
}

func (t Topology) validate() error {
	if t.Exchange == "" || t.Queue == "" {
		return fmt.Errorf("queue topology requires exchange and queue names")
	}
	return nil
}

// channel is the subset of *amqp.Channel used to declare the topology.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Declare creates every exchange, queue and binding. It is idempotent.
func (t Topology) Declare(ch channel) error {
	if err := t.validate(); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(t.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}
	if err := ch.ExchangeDeclare(t.DeadExchange(), "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx: %w", err)
	}
	if _, err := ch.QueueDeclare(t.DeadQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq: %w", err)
	}
	if err := ch.QueueBind(t.DeadQueue(), "#", t.DeadExchange(), false, nil); err != nil {
		return fmt.Errorf("bind dlq: %w", err)
	}

	args := amqp.Table{"x-dead-letter-exchange": t.DeadExchange()}
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.Queue, err)
	}
	for _, key := range t.Bindings() {
		if err := ch.QueueBind(t.Queue, key, t.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if _, err := ch.QueueDeclare(t.DelayQueue(), true, false, false, false, t.delayArgs()); err != nil {
		return fmt.Errorf("declare delay queue: %w", err)
	}
	return nil
}

func dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}
