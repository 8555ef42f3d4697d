// Package eventsink delivers handled interactions into the gateway's internal
// event pipeline. Delivery is best-effort: callers log failures and move on.
package eventsink

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event routes a dispatched interaction to its conversation.
type Event struct {
	SessionKey string `json:"session_key"`
	ContextKey string `json:"context_key"`
}

// Envelope is an event with its label as stored or transmitted by a sink.
type Envelope struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Event      Event     `json:"event"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Sink accepts events. Implementations must not block for long; the caller
// bounds every call with a context deadline.
type Sink interface {
	Enqueue(ctx context.Context, label string, ev Event) error
}

// Memory is an in-process sink. Subscribers receive envelopes on a buffered
// channel; when the buffer is full the envelope is still recorded. At most
// retain envelopes are kept, oldest dropped first.
type Memory struct {
	mu        sync.Mutex
	envelopes []Envelope
	retain    int
	dropped   uint64
	ch        chan Envelope
	now       func() time.Time
}

// NewMemory returns a memory sink whose channel holds up to buffer envelopes
// and whose history holds up to retain. retain < 1 is treated as 1.
func NewMemory(buffer, retain int) *Memory {
	if retain < 1 {
		retain = 1
	}
	return &Memory{
		retain: retain,
		ch:     make(chan Envelope, buffer),
		now:    time.Now,
	}
}

// Enqueue records the event.
func (m *Memory) Enqueue(ctx context.Context, label string, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	env := Envelope{
		ID:         uuid.NewString(),
		Label:      label,
		Event:      ev,
		EnqueuedAt: m.now().UTC(),
	}
	if len(m.envelopes) >= m.retain {
		n := len(m.envelopes) - m.retain + 1
		m.envelopes = append(m.envelopes[:0], m.envelopes[n:]...)
		m.dropped += uint64(n)
	}
	m.envelopes = append(m.envelopes, env)
	m.mu.Unlock()

	select {
	case m.ch <- env:
	default:
	}
	return nil
}

// Events returns the channel new envelopes are published on.
func (m *Memory) Events() <-chan Envelope { return m.ch }

// Dropped reports how many envelopes were evicted from the history.
func (m *Memory) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Envelopes returns the retained envelopes, oldest first.
func (m *Memory) Envelopes() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.envelopes))
	copy(out, m.envelopes)
	return out
}
