package broker

import (
	"context"
	"encoding/json"

	driver "github.com/rabbitmq/amqp091-go"

	"github.com/arborwatch/httpmeta/log"
	"github.com/arborwatch/httpmeta/model"
)

// Delivery is a single dequeued envelope together with the ack/nack
// callbacks the consumer loop uses to settle it.
type Delivery struct {
	Envelope model.Envelope
	Ack      func() error
	Nack     func(requeue bool) error
}

// Consumer subscribes to the shared queue with a bounded prefetch and
// manual acknowledgement, matching spec.md §4.2's at-least-once contract.
type Consumer struct {
	cfg     Config
	log     log.Logger
	prefetch int

	conn    *driver.Connection
	channel *driver.Channel
}

// NewConsumer dials the broker, declares the shared queue, and sets the
// channel's prefetch count.
func NewConsumer(cfg Config, prefetch int, logger log.Logger) (*Consumer, error) {
	c := &Consumer{
		cfg:      cfg,
		log:      logger.Sub(log.Fields{"component": "broker_consumer"}),
		prefetch: prefetch,
	}
	if err := c.dial(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Consumer) dial() error {
	conn, err := driver.Dial(c.cfg.URL)
	if err != nil {
		return model.WrapKind(model.ErrConnectionLost, err, "dial broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return model.WrapKind(model.ErrConnectionLost, err, "open channel")
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return model.WrapKind(model.ErrConnectionLost, err, "set qos")
	}
	q := c.cfg.Queue
	if _, err := ch.QueueDeclare(q.Name, q.Durable, false, false, false, toTable(q.Arguments())); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return model.WrapKind(model.ErrConnectionLost, err, "declare queue")
	}
	c.conn = conn
	c.channel = ch
	return nil
}

// Subscribe returns a channel of decoded deliveries. A delivery that fails
// to decode as a valid envelope is nacked without requeue and never
// forwarded to the caller.
func (c *Consumer) Subscribe(ctx context.Context) (<-chan Delivery, error) {
	raw, err := c.channel.ConsumeWithContext(ctx, c.cfg.Queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, model.WrapKind(model.ErrConnectionLost, err, "consume")
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for msg := range raw {
			msg := msg
			var env model.Envelope
			if jerr := json.Unmarshal(msg.Body, &env); jerr != nil || !env.Valid() {
				c.log.WithFields(log.Fields{"error": jerr}).Warning("malformed_delivery")
				_ = msg.Nack(false, false)
				continue
			}
			out <- Delivery{
				Envelope: env,
				Ack:      func() error { return msg.Ack(false) },
				Nack:     func(requeue bool) error { return msg.Nack(false, requeue) },
			}
		}
	}()
	return out, nil
}

// Close tears down the consumer's channel and connection.
func (c *Consumer) Close(ctx context.Context) error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
