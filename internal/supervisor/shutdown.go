package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telemetrylab/convoy/internal/eventlog"
	"github.com/telemetrylab/convoy/internal/metrics"
	"github.com/telemetrylab/convoy/internal/service"
)

const (
	// DefaultGracePeriod is how long services get to stop voluntarily
	// before being force-terminated.
	DefaultGracePeriod = 10 * time.Second

	// forceConfirmWait bounds the post-kill confirmation pass. Teardown
	// never blocks process exit much beyond grace plus this.
	forceConfirmWait = 2 * time.Second

	// stopPollInterval is how often stopping handles are re-checked.
	stopPollInterval = 50 * time.Millisecond
)

// TeardownError reports handles that were still running after forced
// termination. It is surfaced as a warning: the operator has leaked
// processes or containers to clean up manually.
type TeardownError struct {
	Leaked []string
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown incomplete: still running: %s", strings.Join(e.Leaked, ", "))
}

// Coordinator owns the authoritative set of started handles and tears all
// of them down exactly once. It may be triggered from any path (signal,
// fatal startup error, required-service death) concurrently with the
// startup loop; the atomic one-shot guard makes every call after the first
// a no-op.
type Coordinator struct {
	grace   time.Duration
	log     *eventlog.Log
	metrics *metrics.Set

	mu      sync.Mutex
	handles []*service.Handle // append-only until drained by Shutdown

	begun   atomic.Bool
	begunCh chan struct{}
	done    chan struct{}
}

// NewCoordinator creates a coordinator with the given grace period.
// A nil metrics set disables instrumentation.
func NewCoordinator(grace time.Duration, log *eventlog.Log, m *metrics.Set) *Coordinator {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Coordinator{
		grace:   grace,
		log:     log,
		metrics: m,
		begunCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Register adds a handle to the tracked set. It must be called immediately
// after a successful start, before any readiness wait, so there is no window
// in which a running service is untracked. Registration happens-before the
// handle becomes visible to a concurrent Shutdown; if teardown has already
// begun when a straggler registers, the straggler is stopped inline.
func (c *Coordinator) Register(h *service.Handle) {
	// Count the unit as running on every path: a straggler is stopped and
	// finalized below, and finalize decrements the gauge, so incrementing
	// only on the normal path would drive the gauge negative.
	if c.metrics != nil {
		c.metrics.ServicesRunning.Inc()
	}

	c.mu.Lock()
	if c.begun.Load() {
		c.mu.Unlock()
		// Teardown is already draining its snapshot; this handle would be
		// missed, so stop it here.
		c.stopNow(h)
		return
	}
	c.handles = append(c.handles, h)
	c.mu.Unlock()
}

// Tracked returns a snapshot of all registered handles in registration order.
func (c *Coordinator) Tracked() []*service.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*service.Handle, len(c.handles))
	copy(out, c.handles)
	return out
}

// Begun is closed when teardown starts. The startup loop watches it to
// abandon starting further specs.
func (c *Coordinator) Begun() <-chan struct{} {
	return c.begunCh
}

// Done is closed when teardown has completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Shutdown tears down every registered handle: graceful stop in reverse
// registration order, a bounded grace period, then force-termination of
// anything still running. The first caller performs the teardown; every
// subsequent call returns immediately without re-issuing stop commands.
// Handles are stopped regardless of their recorded state: a handle that
// never reached Ready is still running and still gets stopped.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if !c.begun.CompareAndSwap(false, true) {
		return nil
	}
	close(c.begunCh)
	defer close(c.done)

	started := time.Now()

	// Snapshot under the same lock Register uses, so every handle
	// registered before the flag flipped is visible here.
	c.mu.Lock()
	snapshot := make([]*service.Handle, len(c.handles))
	copy(snapshot, c.handles)
	c.mu.Unlock()

	// Reverse registration order: dependents stop before dependencies.
	reversed := make([]*service.Handle, len(snapshot))
	for i, h := range snapshot {
		reversed[len(snapshot)-1-i] = h
	}

	// Phase 1: request cooperative shutdown without blocking.
	pending := make([]*service.Handle, 0, len(reversed))
	for _, h := range reversed {
		h.Advance(service.Stopping)
		c.publish(eventlog.Event{
			Type:    eventlog.EventServiceStopping,
			Service: h.SpecID,
			Ref:     h.Runtime.Ref(),
		})
		if err := h.Runtime.Stop(ctx); err != nil {
			c.publish(eventlog.Event{
				Type:    eventlog.EventServiceStopping,
				Service: h.SpecID,
				Message: fmt.Sprintf("graceful stop request failed: %v", err),
			})
		}
		pending = append(pending, h)
	}

	// Phase 2: wait up to the grace period for everything to exit.
	pending = c.awaitStopped(ctx, pending, time.Now().Add(c.grace))

	// Phase 3: force-terminate the stragglers and confirm briefly.
	if len(pending) > 0 {
		for _, h := range pending {
			c.publish(eventlog.Event{
				Type:    eventlog.EventServiceForced,
				Service: h.SpecID,
				Ref:     h.Runtime.Ref(),
			})
			if c.metrics != nil {
				c.metrics.ForcedStops.Inc()
			}
			if err := h.Runtime.Kill(ctx); err != nil {
				c.publish(eventlog.Event{
					Type:    eventlog.EventServiceForced,
					Service: h.SpecID,
					Message: fmt.Sprintf("kill failed: %v", err),
				})
			}
		}
		pending = c.awaitStopped(ctx, pending, time.Now().Add(forceConfirmWait))
	}

	if c.metrics != nil {
		c.metrics.ShutdownDuration.Observe(time.Since(started).Seconds())
	}

	if len(pending) > 0 {
		leaked := make([]string, 0, len(pending))
		for _, h := range pending {
			leaked = append(leaked, h.SpecID)
		}
		err := &TeardownError{Leaked: leaked}
		c.publish(eventlog.Event{
			Type:  eventlog.EventRunDown,
			Error: err.Error(),
		})
		return err
	}
	return nil
}

// awaitStopped polls the pending handles until they have all exited or the
// deadline passes, finalizing each one as it goes down. It returns the
// handles still running.
func (c *Coordinator) awaitStopped(ctx context.Context, pending []*service.Handle, deadline time.Time) []*service.Handle {
	for len(pending) > 0 && time.Now().Before(deadline) {
		remaining := pending[:0]
		for _, h := range pending {
			alive, err := h.Runtime.Alive(ctx)
			if err != nil {
				// Can't observe it; keep it pending and try again.
				remaining = append(remaining, h)
				continue
			}
			if alive {
				remaining = append(remaining, h)
				continue
			}
			c.finalize(ctx, h)
		}
		pending = remaining
		if len(pending) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return pending
		case <-time.After(stopPollInterval):
		}
	}
	return pending
}

// finalize marks a handle stopped and releases its external resources
// (container removal, backup-cleanup cancellation, its claimed port becomes
// free for the next run).
func (c *Coordinator) finalize(ctx context.Context, h *service.Handle) {
	if err := h.Runtime.Release(ctx); err != nil {
		c.publish(eventlog.Event{
			Type:    eventlog.EventServiceStopped,
			Service: h.SpecID,
			Message: fmt.Sprintf("release failed: %v", err),
		})
	}
	h.Advance(service.Stopped)
	c.publish(eventlog.Event{
		Type:    eventlog.EventServiceStopped,
		Service: h.SpecID,
		Ref:     h.Runtime.Ref(),
	})
	if c.metrics != nil {
		c.metrics.ServicesRunning.Dec()
	}
}

// stopNow escalates a single straggler handle that registered after
// teardown began.
func (c *Coordinator) stopNow(h *service.Handle) {
	ctx := context.Background()
	h.Advance(service.Stopping)
	h.Runtime.Stop(ctx)
	if rest := c.awaitStopped(ctx, []*service.Handle{h}, time.Now().Add(c.grace)); len(rest) > 0 {
		h.Runtime.Kill(ctx)
		c.awaitStopped(ctx, rest, time.Now().Add(forceConfirmWait))
	}
}

func (c *Coordinator) publish(e eventlog.Event) {
	if c.log != nil {
		c.log.Publish(e)
	}
}
