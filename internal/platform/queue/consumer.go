package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// HandlerFunc processes the patient carried by one delivery.
type HandlerFunc func(ctx context.Context, patientID uuid.UUID) error

type ConsumerConfig struct {
	URL      string
	Topology Topology
	Prefetch int
	Tag      string
}

// Consumer dispatches deliveries by routing key. Handler errors that match
// a permanent error are acked; all other errors are rejected, requeued once
// and then dead-lettered.
type Consumer struct {
	cfg       ConsumerConfig
	handlers  map[string]HandlerFunc
	permanent []error
	logger    zerolog.Logger

	conn *amqp.Connection
	ch   *amqp.Channel
}

type ConsumerOption func(*Consumer)

// WithHandler routes deliveries with the given key to fn.
func WithHandler(key string, fn HandlerFunc) ConsumerOption {
	return func(c *Consumer) { c.handlers[key] = fn }
}

// WithPermanentErrors marks errors that retrying cannot fix.
func WithPermanentErrors(errs ...error) ConsumerOption {
	return func(c *Consumer) { c.permanent = append(c.permanent, errs...) }
}

func NewConsumer(cfg ConsumerConfig, logger zerolog.Logger, opts ...ConsumerOption) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 8
	}
	c := &Consumer{
		cfg:      cfg,
		handlers: make(map[string]HandlerFunc),
		logger:   logger.With().Str("component", "queue-consumer").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Consumer) Connect() error {
	conn, ch, err := dial(c.cfg.URL)
	if err != nil {
		return err
	}
	if err := c.cfg.Topology.Declare(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	c.conn = conn
	c.ch = ch
	return nil
}

func (c *Consumer) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Run consumes until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	if c.ch == nil {
		return errors.New("consumer not connected")
	}
	msgs, err := c.ch.ConsumeWithContext(ctx, c.cfg.Topology.Queue, c.cfg.Tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.logger.Info().Str("queue", c.cfg.Topology.Queue).Int("prefetch", c.cfg.Prefetch).Msg("consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("delivery channel closed")
			}
			c.process(ctx, d)
		}
	}
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	log := c.logger.With().Str("routing_key", d.RoutingKey).Str("message_id", d.MessageId).Logger()

	err := c.dispatch(ctx, d.RoutingKey, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case c.isPermanent(err):
		log.Warn().Err(err).Msg("dropping message")
		_ = d.Ack(false)
	default:
		requeue := !d.Redelivered
		log.Error().Err(err).Bool("requeue", requeue).Msg("handler failed")
		_ = d.Nack(false, requeue)
	}
}

var errBadPayload = errors.New("malformed message body")

func (c *Consumer) dispatch(ctx context.Context, key string, body []byte) error {
	fn, ok := c.handlers[key]
	if !ok {
		c.logger.Warn().Str("routing_key", key).Msg("skip unknown key")
		return nil
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	if msg.PatientID == uuid.Nil {
		return fmt.Errorf("%w: missing patient_id", errBadPayload)
	}
	return fn(ctx, msg.PatientID)
}

func (c *Consumer) isPermanent(err error) bool {
	if errors.Is(err, errBadPayload) {
		return true
	}
	for _, p := range c.permanent {
		if errors.Is(err, p) {
			return true
		}
	}
	return false
}
