package consumer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tdd "github.com/stretchr/testify/assert"

	"github.com/arborwatch/httpmeta/broker"
	"github.com/arborwatch/httpmeta/log"
	"github.com/arborwatch/httpmeta/model"
	"github.com/arborwatch/httpmeta/processor"
)

type fakeSubscriber struct {
	ch chan broker.Delivery
}

func (f *fakeSubscriber) Subscribe(ctx context.Context) (<-chan broker.Delivery, error) {
	return f.ch, nil
}

type fakeProcessing struct {
	outcome processor.Outcome
	panics  bool
	delay   time.Duration
	calls   int32
}

func (f *fakeProcessing) Process(ctx context.Context, env model.Envelope) processor.Outcome {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics {
		panic("boom")
	}
	return f.outcome
}

func testLogger() log.Logger { return log.Discard() }

func newDelivery(env model.Envelope) (broker.Delivery, *ackState) {
	st := &ackState{}
	return broker.Delivery{
		Envelope: env,
		Ack: func() error {
			st.mu.Lock()
			defer st.mu.Unlock()
			st.acked = true
			return nil
		},
		Nack: func(requeue bool) error {
			st.mu.Lock()
			defer st.mu.Unlock()
			st.nacked = true
			st.requeued = requeue
			return nil
		},
	}, st
}

type ackState struct {
	mu       sync.Mutex
	acked    bool
	nacked   bool
	requeued bool
}

func (s *ackState) snapshot() (acked, nacked, requeued bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked, s.nacked, s.requeued
}

func runOne(t *testing.T, outcome processor.Outcome, panics bool) *ackState {
	t.Helper()
	env := model.Envelope{URL: "https://example.com/", RequestID: "r1"}
	d, st := newDelivery(env)

	sub := &fakeSubscriber{ch: make(chan broker.Delivery, 1)}
	proc := &fakeProcessing{outcome: outcome, panics: panics}
	loop := New(sub, proc, 100*time.Millisecond, testLogger())

	sub.ch <- d
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	// Let the single delivery drain, then stop the loop.
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	return st
}

func TestLoopAcksOnCompleted(t *testing.T) {
	assert := tdd.New(t)
	st := runOne(t, processor.Completed, false)
	acked, nacked, _ := st.snapshot()
	assert.True(acked)
	assert.False(nacked)
}

func TestLoopAcksOnPermanentFailure(t *testing.T) {
	assert := tdd.New(t)
	st := runOne(t, processor.PermanentFailure, false)
	acked, _, _ := st.snapshot()
	assert.True(acked)
}

func TestLoopAcksOnMalformed(t *testing.T) {
	assert := tdd.New(t)
	st := runOne(t, processor.Malformed, false)
	acked, nacked, _ := st.snapshot()
	assert.True(acked)
	assert.False(nacked)
}

func TestLoopNacksWithRequeueOnRetryableFailure(t *testing.T) {
	assert := tdd.New(t)
	st := runOne(t, processor.RetryableFailure, false)
	_, nacked, requeued := st.snapshot()
	assert.True(nacked)
	assert.True(requeued)
}

func TestLoopNacksWithRequeueOnPanic(t *testing.T) {
	assert := tdd.New(t)
	st := runOne(t, processor.Completed, true)
	_, nacked, requeued := st.snapshot()
	assert.True(nacked)
	assert.True(requeued)
}

func TestLoopSerializesDeliveries(t *testing.T) {
	assert := tdd.New(t)
	sub := &fakeSubscriber{ch: make(chan broker.Delivery, 2)}
	proc := &fakeProcessing{outcome: processor.Completed, delay: 10 * time.Millisecond}
	loop := New(sub, proc, 200*time.Millisecond, testLogger())

	d1, _ := newDelivery(model.Envelope{URL: "https://example.com/a", RequestID: "r1"})
	d2, _ := newDelivery(model.Envelope{URL: "https://example.com/b", RequestID: "r2"})
	sub.ch <- d1
	sub.ch <- d2

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(int32(2), atomic.LoadInt32(&proc.calls))
}

func TestLoopShutdownWaitsForInFlight(t *testing.T) {
	assert := tdd.New(t)
	sub := &fakeSubscriber{ch: make(chan broker.Delivery, 1)}
	proc := &fakeProcessing{outcome: processor.Completed, delay: 30 * time.Millisecond}
	loop := New(sub, proc, time.Second, testLogger())

	d, st := newDelivery(model.Envelope{URL: "https://example.com/", RequestID: "r1"})
	sub.ch <- d

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	err := <-done
	assert.Nil(err)

	acked, _, _ := st.snapshot()
	assert.True(acked)
}
