package broker

import (
	"context"
	"sync"

	"github.com/arborwatch/httpmeta/model"
)

// InMemory is a Publisher that never dials a broker: always READY, holds
// published envelopes in a bounded buffer. Selected by
// PUBLISHER_BACKEND=inmemory, used by the producer API's test suite.
type InMemory struct {
	mu       sync.Mutex
	buf      []model.Envelope
	capacity int
	closed   bool
}

// NewInMemory returns an InMemory publisher with the given buffer capacity.
func NewInMemory(capacity int) *InMemory {
	return &InMemory{capacity: capacity}
}

// Publish appends env to the buffer, failing with QUEUE_REJECTED once the
// buffer is at capacity, mirroring the real queue's reject-publish overflow
// policy.
func (m *InMemory) Publish(ctx context.Context, env model.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.NewKindError(model.ErrPublisherNotReady, "publisher closed")
	}
	if m.capacity > 0 && len(m.buf) >= m.capacity {
		return model.NewKindError(model.ErrQueueRejected, "buffer full")
	}
	m.buf = append(m.buf, env)
	return nil
}

// State always reports READY until Close is called.
func (m *InMemory) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Closed
	}
	return Ready
}

// Close marks the publisher closed; further Publish calls fail.
func (m *InMemory) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Envelopes returns a snapshot of everything published so far, for test
// assertions.
func (m *InMemory) Envelopes() []model.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Envelope, len(m.buf))
	copy(out, m.buf)
	return out
}
