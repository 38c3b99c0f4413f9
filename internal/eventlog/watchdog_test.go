package eventlog_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/telemetrylab/convoy/internal/eventlog"
	"github.com/telemetrylab/convoy/internal/service"
)

func stallGraph() service.Graph {
	return service.Graph{Specs: []service.Spec{
		{ID: "databroker", Kind: service.KindProcess},
		{ID: "feeder", Kind: service.KindProcess, DependsOn: []string{"databroker"}},
	}}
}

func TestWatchdog_ReportsStalledStartup(t *testing.T) {
	log := eventlog.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// databroker started but never became ready; feeder never started.
	log.Publish(eventlog.Event{Type: eventlog.EventServiceStarting, Service: "databroker"})
	log.Publish(eventlog.Event{Type: eventlog.EventServiceStarted, Service: "databroker"})

	go eventlog.Watchdog(ctx, log, stallGraph(), 20*time.Millisecond)

	e, err := log.WaitFor(ctx, func(e eventlog.Event) bool {
		return e.Type == eventlog.EventProgressStall
	})
	if err != nil {
		t.Fatalf("no stall event: %v", err)
	}
	if !strings.Contains(e.Message, "databroker: started") {
		t.Errorf("stall message %q does not name the stuck service", e.Message)
	}
	if !strings.Contains(e.Message, "feeder: pending") {
		t.Errorf("stall message %q does not name the pending dependent", e.Message)
	}
	if !strings.Contains(e.Message, "waiting on databroker") {
		t.Errorf("stall message %q does not name the blocking dependency", e.Message)
	}
}

func TestWatchdog_QuietWhileProgressing(t *testing.T) {
	log := eventlog.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		eventlog.Watchdog(ctx, log, stallGraph(), 30*time.Millisecond)
		close(done)
	}()

	// Keep lifecycle events flowing faster than the stall window.
	for i := 0; i < 5; i++ {
		log.Publish(eventlog.Event{Type: eventlog.EventServiceStarting, Service: "databroker"})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	for _, e := range log.Events() {
		if e.Type == eventlog.EventProgressStall {
			t.Fatal("stall reported while startup was progressing")
		}
	}
}

func TestWatchdog_ExitsWhenAllTerminal(t *testing.T) {
	log := eventlog.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Publish(eventlog.Event{Type: eventlog.EventServiceReady, Service: "databroker"})
	log.Publish(eventlog.Event{Type: eventlog.EventServiceFailed, Service: "feeder"})

	done := make(chan struct{})
	go func() {
		eventlog.Watchdog(ctx, log, stallGraph(), 10*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("watchdog kept running after every service reached a terminal phase")
	}

	for _, e := range log.Events() {
		if e.Type == eventlog.EventProgressStall {
			t.Error("terminal run still produced a stall event")
		}
	}
}
