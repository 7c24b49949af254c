package relay

import (
	"log/slog"
	"sync"
)

// EventKind identifies what a stack callback reported.
type EventKind int

const (
	EventFound EventKind = iota
	EventDisconnected
	EventNotification
	EventSubscriberJoined
	EventSubscriberLeft
)

func (k EventKind) String() string {
	switch k {
	case EventFound:
		return "found"
	case EventDisconnected:
		return "disconnected"
	case EventNotification:
		return "notification"
	case EventSubscriberJoined:
		return "subscriber-joined"
	case EventSubscriberLeft:
		return "subscriber-left"
	default:
		return "unknown"
	}
}

// Event is posted by stack callbacks and consumed by the orchestrator.
type Event struct {
	Kind    EventKind
	Address string
	Frame   Frame
	Link    uint64 // central link generation, for Disconnected and Notification
}

// eventQueue is a bounded multi-producer, single-consumer queue. Stack
// callbacks push from their own goroutines; the orchestrator drains once
// per tick.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	max    int
}

func newEventQueue(max int) *eventQueue {
	if max <= 0 {
		max = 256
	}
	return &eventQueue{max: max}
}

// push appends e. When the queue is full the oldest notification is
// evicted; control events are only dropped when nothing else is queued.
func (q *eventQueue) push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) >= q.max {
		victim := 0
		for i, queued := range q.events {
			if queued.Kind == EventNotification {
				victim = i
				break
			}
		}
		slog.Warn("[RELAY] event queue full, dropping event", "kind", q.events[victim].Kind)
		q.events = append(q.events[:victim], q.events[victim+1:]...)
	}
	q.events = append(q.events, e)
}

// drain returns all queued events in arrival order and empties the queue.
func (q *eventQueue) drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return nil
	}
	out := q.events
	q.events = make([]Event, 0, len(out))
	return out
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
