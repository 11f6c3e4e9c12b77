package recorder

import (
	"log/slog"
	"time"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	EventStarted   EventType = "started"
	EventStopped   EventType = "stopped"
	EventCancelled EventType = "cancelled"
	EventError     EventType = "error"
)

// Event is a lifecycle notification for UI collaborators. Metadata is set
// only on [EventStopped]; Err only on [EventError].
type Event struct {
	Type      EventType
	Timestamp time.Time
	Metadata  *Metadata
	Err       error
}

// eventBuffer is the capacity of the event channel. Delivery is best-effort:
// when no consumer keeps up, events are dropped rather than blocking the
// control plane.
const eventBuffer = 16

// emit publishes an event without blocking.
func (r *Recorder) emit(ev Event) {
	ev.Timestamp = time.Now()
	select {
	case r.events <- ev:
	default:
		slog.Warn("event channel full, dropping event", "type", ev.Type)
	}
}

// Events returns the lifecycle event stream. The channel is buffered and
// never closed; slow consumers lose events rather than stalling transitions.
func (r *Recorder) Events() <-chan Event {
	return r.events
}
