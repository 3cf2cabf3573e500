// Package eventbus implements non-blocking DslEvent emission: a
// bounded channel a producer sends into without blocking, with
// a best-effort drop and a counter when the channel is full. This is
// reserved for observability events; the audit-critical InvocationRecord
// path never goes through here and is written synchronously by callers
// directly against internal/durability.
package eventbus

import (
	"sync/atomic"
	"time"

	"dsl-ob-poc/internal/apperrors"
)

// PayloadKind discriminates the DslEvent payload variants.
type PayloadKind string

const (
	CommandSucceeded PayloadKind = "command_succeeded"
	CommandFailed    PayloadKind = "command_failed"
	SessionStarted   PayloadKind = "session_started"
	SessionEnded     PayloadKind = "session_ended"
)

// Event is one DslEvent: a timestamped, JSON-serializable envelope
// around one of the four payload kinds.
type Event struct {
	Timestamp time.Time   `json:"timestamp"`
	SessionID string      `json:"session_id,omitempty"`
	Kind      PayloadKind `json:"kind"`
	Payload   any         `json:"payload"`
}

// CommandSucceededPayload is the success-path payload.
type CommandSucceededPayload struct {
	Verb       string `json:"verb"`
	DurationMS int64  `json:"duration_ms"`
}

// CommandFailedPayload carries the truncated error snapshot.
type CommandFailedPayload struct {
	Verb       string                 `json:"verb"`
	DurationMS int64                  `json:"duration_ms"`
	Error      apperrors.ErrorSnapshot `json:"error"`
}

// SessionStartedPayload names the utterance source that opened a session.
type SessionStartedPayload struct {
	Source string `json:"source"`
}

// SessionEndedPayload summarizes one session's lifetime counters.
type SessionEndedPayload struct {
	CommandCount int64   `json:"command_count"`
	ErrorCount   int64   `json:"error_count"`
	DurationSecs float64 `json:"duration_secs"`
}

// Bus is a bounded, non-blocking event channel. A full channel causes
// Publish to drop the event and increment Dropped rather than block
// the caller: the producer degrades to a best-effort drop and records
// a counter.
type Bus struct {
	events  chan Event
	dropped atomic.Int64
}

// New starts a Bus with the given channel capacity.
func New(capacity int) *Bus {
	return &Bus{events: make(chan Event, capacity)}
}

// Publish attempts a non-blocking send. It never blocks: a full channel
// increments Dropped and returns immediately.
func (b *Bus) Publish(e Event) {
	select {
	case b.events <- e:
	default:
		b.dropped.Add(1)
	}
}

// Dropped reports the cumulative count of events dropped due to
// back-pressure.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Events exposes the receive side for a subscriber (the event bridge,
// a logging sink, a metrics exporter) to range over.
func (b *Bus) Events() <-chan Event {
	return b.events
}
