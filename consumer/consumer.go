// Package consumer runs the prefetch=1 consume loop: dequeue, hand off to
// the processor, and ack/nack per the outcome.
package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/arborwatch/httpmeta/broker"
	"github.com/arborwatch/httpmeta/log"
	"github.com/arborwatch/httpmeta/model"
	"github.com/arborwatch/httpmeta/processor"
)

// subscriber is the slice of broker.Consumer that Loop depends on.
type subscriber interface {
	Subscribe(ctx context.Context) (<-chan broker.Delivery, error)
}

// processing is the slice of processor.Processor that Loop depends on.
type processing interface {
	Process(ctx context.Context, env model.Envelope) processor.Outcome
}

// Loop attaches a broker.Consumer to a processor.Processor and enforces
// strictly sequential processing via a single processing lock, matching
// prefetch=1 for in-order delivery per consumer instance.
type Loop struct {
	consumer      subscriber
	proc          processing
	shutdownGrace time.Duration
	log           log.Logger

	processingLock sync.Mutex
	done           chan struct{}
}

// New builds a Loop.
func New(c subscriber, p processing, shutdownGrace time.Duration, logger log.Logger) *Loop {
	return &Loop{
		consumer:      c,
		proc:          p,
		shutdownGrace: shutdownGrace,
		log:           logger.Sub(log.Fields{"component": "consumer_loop"}),
		done:          make(chan struct{}),
	}
}

// Run subscribes and processes deliveries until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("worker_started")
	defer func() {
		l.log.Info("worker_stop")
		close(l.done)
	}()

	deliveries, err := l.consumer.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return l.shutdown()
		case d, ok := <-deliveries:
			if !ok {
				return l.shutdown()
			}
			l.handle(ctx, d)
		}
	}
}

func (l *Loop) handle(ctx context.Context, d broker.Delivery) {
	l.processingLock.Lock()
	defer l.processingLock.Unlock()

	outcome := l.safeProcess(ctx, d)
	switch outcome {
	case processor.Completed, processor.PermanentFailure, processor.Malformed:
		if err := d.Ack(); err != nil {
			l.log.WithFields(log.Fields{"error": err.Error()}).Error("ack_failed")
		}
	default: // RetryableFailure, or a recovered panic
		if err := d.Nack(true); err != nil {
			l.log.WithFields(log.Fields{"error": err.Error()}).Error("nack_failed")
		}
	}
}

// safeProcess recovers a panic from the processor as an unhandled
// exception, requeueing the delivery per the decision table.
func (l *Loop) safeProcess(ctx context.Context, d broker.Delivery) (outcome processor.Outcome) {
	outcome = processor.RetryableFailure
	defer func() {
		if r := recover(); r != nil {
			l.log.WithFields(log.Fields{"panic": r}).Error("processor_panic")
			outcome = processor.RetryableFailure
		}
	}()
	return l.proc.Process(ctx, d.Envelope)
}

// Shutdown waits up to shutdownGrace for any in-flight delivery to finish
// processing, then returns. Called once the subscription has been
// cancelled via ctx.
func (l *Loop) shutdown() error {
	freed := make(chan struct{})
	go func() {
		l.processingLock.Lock()
		l.processingLock.Unlock()
		close(freed)
	}()
	select {
	case <-freed:
	case <-time.After(l.shutdownGrace):
		l.log.Warning("shutdown_grace_exceeded")
	}
	return nil
}
