// Package broker implements the confirm-mode AMQP publisher and consumer
// halves of the pipeline's message queue, as a named connection state
// machine with exponential-backoff (re)connect.
package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	driver "github.com/rabbitmq/amqp091-go"
	"github.com/google/uuid"

	"github.com/arborwatch/httpmeta/log"
	"github.com/arborwatch/httpmeta/model"
)

// Publisher is the capability the producer API and tests depend on. It is
// satisfied both by the real AMQP-backed implementation and by InMemory.
type Publisher interface {
	Publish(ctx context.Context, env model.Envelope) error
	State() State
	Close(ctx context.Context) error
}

// Config bundles the connection parameters a Publisher needs.
type Config struct {
	URL                 string
	Queue               Queue
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	MaxConnectAttempts  int
	ConfirmTimeout      time.Duration
}

// AMQPPublisher is the confirm-mode, single-queue publisher described by
// spec.md §4.1.
type AMQPPublisher struct {
	cfg Config
	log log.Logger

	mu    sync.Mutex // serializes publish attempts and protects conn/channel
	state State

	conn    *driver.Connection
	channel *driver.Channel

	notifyClose   chan *driver.Error
	notifyConfirm chan driver.Confirmation

	halt   chan struct{}
	closed chan struct{}
	once   sync.Once
}

// NewPublisher dials the broker, declares the shared queue, and starts the
// background reconnect loop. Returns once the initial connect sequence
// either reaches READY or exhausts MaxConnectAttempts.
func NewPublisher(cfg Config, logger log.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		cfg:    cfg,
		log:    logger.Sub(log.Fields{"component": "broker_publisher"}),
		state:  Disconnected,
		halt:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	go p.reconnectLoop()
	return p, nil
}

func (p *AMQPPublisher) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// State reports the current connection state machine node.
func (p *AMQPPublisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// connect runs the full DISCONNECTED → READY sequence with exponential
// backoff, logging rmq_connect_attempt on each try. Fatal (returns an
// error) once MaxConnectAttempts is exhausted.
func (p *AMQPPublisher) connect() error {
	b := backoff{initial: p.cfg.InitialBackoff, max: p.cfg.MaxBackoff}
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxConnectAttempts; attempt++ {
		if attempt > 0 {
			d := b.delay(attempt - 1)
			p.log.WithFields(log.Fields{"attempt": attempt, "delay_ms": d.Milliseconds()}).
				Info("rmq_connect_attempt")
			time.Sleep(d)
		} else {
			p.log.WithFields(log.Fields{"attempt": attempt, "delay_ms": 0}).Info("rmq_connect_attempt")
		}
		p.setState(Connecting)
		if err := p.dial(); err != nil {
			lastErr = err
			continue
		}
		p.setState(Ready)
		return nil
	}
	return model.WrapKind(model.ErrConnectionLost, lastErr, "exhausted connection attempts")
}

func (p *AMQPPublisher) dial() error {
	conn, err := driver.Dial(p.cfg.URL)
	if err != nil {
		return err
	}
	p.setState(Connected)

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	p.setState(ChannelOpen)

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	p.setState(ConfirmEnabled)

	q := p.cfg.Queue
	if _, err := ch.QueueDeclare(q.Name, q.Durable, false, false, false, toTable(q.Arguments())); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	p.setState(QueueDeclared)

	p.mu.Lock()
	p.conn = conn
	p.channel = ch
	p.notifyClose = make(chan *driver.Error, 1)
	p.notifyConfirm = make(chan driver.Confirmation, 1)
	ch.NotifyClose(p.notifyClose)
	ch.NotifyPublish(p.notifyConfirm)
	p.mu.Unlock()

	return nil
}

func toTable(args map[string]interface{}) driver.Table {
	t := driver.Table{}
	for k, v := range args {
		t[k] = v
	}
	return t
}

// reconnectLoop watches for connection/channel closure and re-runs connect
// with the same backoff schedule, logging rmq_reconnect_attempt and
// rmq_reconnected. Exits only once Close has been called.
func (p *AMQPPublisher) reconnectLoop() {
	defer close(p.closed)
	for {
		p.mu.Lock()
		notify := p.notifyClose
		p.mu.Unlock()

		select {
		case <-p.halt:
			return
		case <-notify:
		}

		select {
		case <-p.halt:
			return
		default:
		}

		p.setState(Reconnecting)
		p.log.Info("rmq_reconnect_attempt")
		if err := p.connect(); err != nil {
			p.log.WithFields(log.Fields{"error": err.Error()}).Error("rmq_reconnect_exhausted")
			continue
		}
		p.log.Info("rmq_reconnected")
	}
}

// Publish sends an envelope and waits for the broker's confirm, subject to
// ConfirmTimeout. Only attempted while the publisher is READY. Holds p.mu for
// the entire publish+confirm-wait: a single publish is in flight at a time,
// and the lock is the only construct preventing a reconnect or Close from
// tearing down the channel out from under it.
func (p *AMQPPublisher) Publish(ctx context.Context, env model.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Ready {
		return model.NewKindError(model.ErrPublisherNotReady, "publisher not ready: "+p.state.String())
	}
	channel := p.channel
	confirm := p.notifyConfirm

	body, err := json.Marshal(env)
	if err != nil {
		return model.WrapKind(model.ErrMalformedMessage, err, "encode envelope")
	}

	start := time.Now()
	pubCtx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmTimeout)
	defer cancel()

	if err := channel.PublishWithContext(pubCtx, "", p.cfg.Queue.Name, true, false, driver.Publishing{
		MessageId:    uuid.NewString(),
		DeliveryMode: driver.Persistent,
		ContentType:  "application/json",
		Body:         body,
	}); err != nil {
		p.state = Reconnecting
		return model.WrapKind(model.ErrConnectionLost, err, "publish")
	}

	select {
	case confirmation, ok := <-confirm:
		if !ok {
			p.state = Reconnecting
			return model.NewKindError(model.ErrConnectionLost, "confirm channel closed")
		}
		if !confirmation.Ack {
			return model.NewKindError(model.ErrQueueRejected, "broker nacked publish")
		}
		p.log.WithFields(log.Fields{
			"request_id": env.RequestID,
			"url":        env.URL,
			"latency_ms": time.Since(start).Milliseconds(),
		}).Info("publish_success")
		return nil
	case <-pubCtx.Done():
		return model.NewKindError(model.ErrPublisherTimeout, "confirm timeout")
	}
}

// Close runs the graceful CLOSING → CLOSED sequence: it acquires the
// publish lock (draining any in-flight publish), then tears down the
// channel and connection.
func (p *AMQPPublisher) Close(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		close(p.halt)
		p.setState(Closing)

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.channel != nil {
			err = p.channel.Close()
		}
		if p.conn != nil {
			if cerr := p.conn.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		p.state = Closed
		p.log.Info("publisher_shutdown")
	})
	<-p.closed
	return err
}
