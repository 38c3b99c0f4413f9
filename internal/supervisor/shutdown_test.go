package supervisor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/telemetrylab/convoy/internal/eventlog"
	"github.com/telemetrylab/convoy/internal/metrics"
	"github.com/telemetrylab/convoy/internal/service"
	"github.com/telemetrylab/convoy/internal/supervisor"
)

func newTestCoordinator() (*supervisor.Coordinator, *recorder) {
	rec := &recorder{}
	c := supervisor.NewCoordinator(100*time.Millisecond, eventlog.New(), nil)
	return c, rec
}

func registerFake(c *supervisor.Coordinator, rec *recorder, id string) *fakeRuntime {
	rt := &fakeRuntime{id: id, rec: rec, alive: true}
	h := service.NewHandle(service.Spec{ID: id, Required: true}, rt)
	c.Register(h)
	return rt
}

func TestCoordinator_ShutdownStopsInReverseOrder(t *testing.T) {
	c, rec := newTestCoordinator()
	registerFake(c, rec, "broker")
	registerFake(c, rec, "databroker")
	registerFake(c, rec, "feeder")

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	want := []string{"stop:feeder", "stop:databroker", "stop:broker"}
	ops := rec.snapshot()
	var stops []string
	for _, op := range ops {
		if len(op) > 5 && op[:5] == "stop:" {
			stops = append(stops, op)
		}
	}
	if len(stops) != 3 {
		t.Fatalf("stops %v, want 3", stops)
	}
	for i := range want {
		if stops[i] != want[i] {
			t.Fatalf("stop order %v, want %v", stops, want)
		}
	}

	for _, h := range c.Tracked() {
		if h.State() != service.Stopped {
			t.Errorf("handle %s state %v, want stopped", h.SpecID, h.State())
		}
	}
}

func TestCoordinator_ShutdownIsIdempotentUnderConcurrency(t *testing.T) {
	c, rec := newTestCoordinator()
	registerFake(c, rec, "broker")
	registerFake(c, rec, "databroker")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Shutdown(context.Background())
		}()
	}
	wg.Wait()

	select {
	case <-c.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("Done never closed")
	}

	for _, id := range []string{"broker", "databroker"} {
		if n := rec.count("stop:" + id); n != 1 {
			t.Errorf("service %s received %d stop commands, want exactly 1", id, n)
		}
		if n := rec.count("release:" + id); n != 1 {
			t.Errorf("service %s released %d times, want exactly 1", id, n)
		}
	}
}

func TestCoordinator_SecondShutdownReturnsImmediately(t *testing.T) {
	c, rec := newTestCoordinator()
	registerFake(c, rec, "broker")

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if n := rec.count("stop:broker"); n != 1 {
		t.Errorf("broker received %d stop commands after repeated Shutdown, want 1", n)
	}
}

func TestCoordinator_StragglerRegisteredAfterShutdownIsStopped(t *testing.T) {
	c, rec := newTestCoordinator()

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A start that raced the shutdown trigger completes afterwards; the
	// handle must not slip through untracked and unstopped.
	rt := registerFake(c, rec, "late")

	if n := rec.count("stop:late"); n != 1 {
		t.Fatalf("straggler received %d stop commands, want 1", n)
	}
	alive, _ := rt.Alive(context.Background())
	if alive {
		t.Error("straggler still running after inline stop")
	}
	if got := len(c.Tracked()); got != 0 {
		t.Errorf("straggler joined the tracked set after teardown: %d handles", got)
	}
}

func TestCoordinator_EscalatesStubbornHandles(t *testing.T) {
	c, rec := newTestCoordinator()
	rt := &fakeRuntime{id: "feeder", rec: rec, alive: true, ignoreStop: true}
	c.Register(service.NewHandle(service.Spec{ID: "feeder", Required: true}, rt))

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if rec.count("kill:feeder") != 1 {
		t.Errorf("stubborn handle got %d kills, want 1", rec.count("kill:feeder"))
	}
}

func TestCoordinator_RunningGaugeStaysBalanced(t *testing.T) {
	rec := &recorder{}
	m := metrics.New()
	c := supervisor.NewCoordinator(100*time.Millisecond, eventlog.New(), m)

	rt := &fakeRuntime{id: "early", rec: rec, alive: true}
	c.Register(service.NewHandle(service.Spec{ID: "early", Required: true}, rt))
	if got := testutil.ToFloat64(m.ServicesRunning); got != 1 {
		t.Fatalf("gauge after register = %v, want 1", got)
	}

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.ServicesRunning); got != 0 {
		t.Fatalf("gauge after shutdown = %v, want 0", got)
	}

	// A straggler stopped inline must leave the gauge where it found it,
	// never below zero.
	late := &fakeRuntime{id: "late", rec: rec, alive: true}
	c.Register(service.NewHandle(service.Spec{ID: "late", Required: true}, late))
	if got := testutil.ToFloat64(m.ServicesRunning); got != 0 {
		t.Fatalf("gauge after straggler = %v, want 0", got)
	}
}

func TestCoordinator_BegunSignalsStartupLoop(t *testing.T) {
	c, _ := newTestCoordinator()

	select {
	case <-c.Begun():
		t.Fatal("Begun closed before any shutdown")
	default:
	}

	go c.Shutdown(context.Background())

	select {
	case <-c.Begun():
	case <-time.After(10 * time.Second):
		t.Fatal("Begun never closed")
	}
}
