// Package eventlog provides the ordered, in-process log of run lifecycle
// events. Every observable supervisor action (port waits, service starts,
// readiness, failures, teardown) is published here; the CLI renders the
// stream and tests assert on it.
package eventlog

import (
	"context"
	"sync"
	"time"
)

// Type identifies the kind of lifecycle event.
type Type string

const (
	// Pre-flight.
	EventPortWaiting  Type = "port.waiting"
	EventPortConflict Type = "port.conflict"

	// Service lifecycle.
	EventServiceStarting Type = "service.starting"
	EventServiceStarted  Type = "service.started"
	EventServiceReady    Type = "service.ready"
	EventServiceFailed   Type = "service.failed"
	EventServiceSkipped  Type = "service.skipped"
	EventServiceStopping Type = "service.stopping"
	EventServiceForced   Type = "service.forced"
	EventServiceStopped  Type = "service.stopped"
	EventServiceLog      Type = "service.log"

	// Run lifecycle.
	EventRunUp      Type = "run.up"
	EventRunFailing Type = "run.failing"
	EventRunDown    Type = "run.down"

	// Diagnostics.
	EventProgressStall Type = "progress.stall"
)

// LogEntry holds a chunk of service output.
type LogEntry struct {
	Stream string // "stdout" or "stderr"
	Data   string
}

// Event is a single entry in the log.
type Event struct {
	Seq       uint64
	Type      Type
	Service   string    // service ID, empty for run-level events
	Ref       string    // runtime reference (PID or container ID)
	Port      int       // port being waited on, for port events
	Error     string    // failure description
	Message   string    // human-readable detail
	Log       *LogEntry // service output, for service.log events
	Timestamp time.Time
}

// Log is an append-only, ordered event log. Events carry monotonically
// increasing sequence numbers; subscribers can replay from any point and
// WaitFor scans the existing log before blocking.
type Log struct {
	mu     sync.Mutex
	events []Event
	seq    uint64
	notify chan struct{} // closed and replaced on each publish
}

// New creates an empty log.
func New() *Log {
	return &Log{notify: make(chan struct{})}
}

// Publish appends an event with the next sequence number and the current
// timestamp, then wakes all waiters.
func (l *Log) Publish(event Event) {
	l.mu.Lock()
	l.seq++
	event.Seq = l.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	l.events = append(l.events, event)
	ch := l.notify
	l.notify = make(chan struct{})
	l.mu.Unlock()

	close(ch)
}

// Events returns a snapshot of all events in the log.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Since returns all events with sequence number > seq.
func (l *Log) Since(seq uint64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eventsSince(seq)
}

// eventsSince returns events with Seq > seq. Caller must hold l.mu.
// Seq numbers are 1-indexed and contiguous, so events after seq start at
// slice index seq.
func (l *Log) eventsSince(seq uint64) []Event {
	start := int(seq)
	if start >= len(l.events) {
		return nil
	}
	out := make([]Event, len(l.events)-start)
	copy(out, l.events[start:])
	return out
}

// Subscribe returns a channel that replays all events with Seq > fromSeq and
// then streams new events as they arrive. The channel is closed when ctx is
// cancelled. The channel is buffered; if a subscriber falls behind and the
// buffer fills, events are dropped for that subscriber so publishers never
// block.
func (l *Log) Subscribe(ctx context.Context, fromSeq uint64) <-chan Event {
	ch := make(chan Event, 256)

	go func() {
		defer close(ch)

		cursor := fromSeq
		for {
			l.mu.Lock()
			batch := l.eventsSince(cursor)
			notify := l.notify
			l.mu.Unlock()

			for _, e := range batch {
				select {
				case ch <- e:
				case <-ctx.Done():
					return
				default:
					// subscriber fell behind, drop the event
				}
				cursor = e.Seq
			}

			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// WaitFor scans the existing log for a matching event. If found, it is
// returned immediately; otherwise WaitFor blocks until a matching event is
// published or the context is cancelled.
func (l *Log) WaitFor(ctx context.Context, match func(Event) bool) (Event, error) {
	l.mu.Lock()
	for _, e := range l.events {
		if match(e) {
			l.mu.Unlock()
			return e, nil
		}
	}
	cursor := l.seq
	notify := l.notify
	l.mu.Unlock()

	for {
		select {
		case <-notify:
			l.mu.Lock()
			batch := l.eventsSince(cursor)
			notify = l.notify
			l.mu.Unlock()

			for _, e := range batch {
				if match(e) {
					return e, nil
				}
				cursor = e.Seq
			}
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}
