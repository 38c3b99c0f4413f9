package eventlog_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/telemetrylab/convoy/internal/eventlog"
)

func TestLog_PublishAndEvents(t *testing.T) {
	log := eventlog.New()

	log.Publish(eventlog.Event{Type: eventlog.EventServiceStarting, Service: "broker"})
	log.Publish(eventlog.Event{Type: eventlog.EventServiceReady, Service: "broker"})

	events := log.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Seq != 1 || events[1].Seq != 2 {
		t.Errorf("sequence numbers: got %d, %d", events[0].Seq, events[1].Seq)
	}
	if events[0].Type != eventlog.EventServiceStarting {
		t.Errorf("event 0 type: got %q", events[0].Type)
	}
	if events[1].Type != eventlog.EventServiceReady {
		t.Errorf("event 1 type: got %q", events[1].Type)
	}
}

func TestLog_PublishSetsTimestamp(t *testing.T) {
	log := eventlog.New()

	before := time.Now()
	log.Publish(eventlog.Event{Type: eventlog.EventServiceStarting})
	after := time.Now()

	events := log.Events()
	if events[0].Timestamp.Before(before) || events[0].Timestamp.After(after) {
		t.Errorf("timestamp %v not between %v and %v", events[0].Timestamp, before, after)
	}
}

func TestLog_PublishPreservesExplicitTimestamp(t *testing.T) {
	log := eventlog.New()

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	log.Publish(eventlog.Event{Type: eventlog.EventServiceStarting, Timestamp: ts})

	events := log.Events()
	if !events[0].Timestamp.Equal(ts) {
		t.Errorf("expected preserved timestamp %v, got %v", ts, events[0].Timestamp)
	}
}

func TestLog_Since(t *testing.T) {
	log := eventlog.New()

	log.Publish(eventlog.Event{Type: eventlog.EventServiceStarting, Service: "broker"})
	log.Publish(eventlog.Event{Type: eventlog.EventServiceReady, Service: "broker"})
	log.Publish(eventlog.Event{Type: eventlog.EventServiceStarting, Service: "databroker"})

	events := log.Since(1)
	if len(events) != 2 {
		t.Fatalf("expected 2 events after seq 1, got %d", len(events))
	}
	if events[0].Seq != 2 || events[1].Seq != 3 {
		t.Errorf("seqs: got %d, %d, want 2, 3", events[0].Seq, events[1].Seq)
	}
}

func TestLog_SinceBeyondEnd(t *testing.T) {
	log := eventlog.New()

	log.Publish(eventlog.Event{Type: eventlog.EventServiceStarting})

	if events := log.Since(5); len(events) != 0 {
		t.Errorf("expected no events after seq 5, got %d", len(events))
	}
}

func TestLog_WaitFor_ExistingEvent(t *testing.T) {
	log := eventlog.New()

	log.Publish(eventlog.Event{Type: eventlog.EventServiceReady, Service: "broker"})
	log.Publish(eventlog.Event{Type: eventlog.EventServiceStarting, Service: "databroker"})

	event, err := log.WaitFor(context.Background(), func(e eventlog.Event) bool {
		return e.Type == eventlog.EventServiceReady && e.Service == "broker"
	})
	if err != nil {
		t.Fatal(err)
	}
	if event.Service != "broker" {
		t.Errorf("service: got %q", event.Service)
	}
}

func TestLog_WaitFor_FutureEvent(t *testing.T) {
	log := eventlog.New()

	done := make(chan eventlog.Event, 1)
	go func() {
		event, err := log.WaitFor(context.Background(), func(e eventlog.Event) bool {
			return e.Type == eventlog.EventRunUp
		})
		if err != nil {
			t.Error(err)
		}
		done <- event
	}()

	// Unrelated event first, then the one being waited on.
	log.Publish(eventlog.Event{Type: eventlog.EventServiceStarting, Service: "broker"})
	log.Publish(eventlog.Event{Type: eventlog.EventRunUp})

	select {
	case event := <-done:
		if event.Type != eventlog.EventRunUp {
			t.Errorf("type: got %q", event.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitFor did not observe the published event")
	}
}

func TestLog_WaitFor_ContextCancelled(t *testing.T) {
	log := eventlog.New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := log.WaitFor(ctx, func(eventlog.Event) bool { return false })
	if err == nil {
		t.Fatal("expected error from cancelled WaitFor")
	}
}

func TestLog_Subscribe_ReplayAndStream(t *testing.T) {
	log := eventlog.New()

	log.Publish(eventlog.Event{Type: eventlog.EventServiceStarting, Service: "broker"})
	log.Publish(eventlog.Event{Type: eventlog.EventServiceReady, Service: "broker"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := log.Subscribe(ctx, 0)

	// Replay of the two existing events.
	for want := uint64(1); want <= 2; want++ {
		e := <-ch
		if e.Seq != want {
			t.Fatalf("replayed seq %d, want %d", e.Seq, want)
		}
	}

	// A new event published after subscription streams through.
	log.Publish(eventlog.Event{Type: eventlog.EventRunUp})
	select {
	case e := <-ch:
		if e.Type != eventlog.EventRunUp {
			t.Errorf("streamed type %q, want run.up", e.Type)
		}
	case <-ctx.Done():
		t.Fatal("subscription never delivered the new event")
	}
}

func TestLog_Subscribe_FromSeq(t *testing.T) {
	log := eventlog.New()

	for i := 0; i < 3; i++ {
		log.Publish(eventlog.Event{Type: eventlog.EventServiceLog, Message: fmt.Sprint(i)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := log.Subscribe(ctx, 2)
	e := <-ch
	if e.Seq != 3 {
		t.Fatalf("first delivered seq %d, want 3", e.Seq)
	}
}

func TestLog_ConcurrentPublish(t *testing.T) {
	log := eventlog.New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				log.Publish(eventlog.Event{Type: eventlog.EventServiceLog})
			}
		}()
	}
	wg.Wait()

	events := log.Events()
	if len(events) != 1000 {
		t.Fatalf("expected 1000 events, got %d", len(events))
	}
	for i, e := range events {
		if e.Seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d", i, e.Seq)
		}
	}
}
