// Package supervisor orchestrates the lifecycle of a service graph: it
// starts every spec in dependency order behind port and readiness gates,
// tracks every started handle, monitors liveness, and guarantees that all
// of it is torn down exactly once on any exit path.
package supervisor

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/telemetrylab/convoy/internal/eventlog"
	"github.com/telemetrylab/convoy/internal/launcher"
	"github.com/telemetrylab/convoy/internal/metrics"
	"github.com/telemetrylab/convoy/internal/portguard"
	"github.com/telemetrylab/convoy/internal/ready"
	"github.com/telemetrylab/convoy/internal/service"
)

// Config carries the run parameters shared by all services.
type Config struct {
	// GracePeriod bounds voluntary shutdown before force-termination.
	GracePeriod time.Duration

	// ReadyTimeout and ReadyInterval are the defaults for specs whose
	// readiness probe doesn't set its own.
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration

	// PortWaitAttempts and PortWaitInterval bound the pre-flight wait for
	// a claimed port to be free.
	PortWaitAttempts int
	PortWaitInterval time.Duration

	// MonitorInterval is the cadence of the post-startup liveness check.
	MonitorInterval time.Duration

	// StallTimeout is the startup watchdog window. Zero means the
	// default; negative disables the watchdog.
	StallTimeout time.Duration

	// SettleDelay is passed to the container launcher.
	SettleDelay time.Duration

	// InstanceID namespaces this run. Generated when empty.
	InstanceID string
}

// DefaultMonitorInterval is the post-startup liveness poll cadence.
const DefaultMonitorInterval = 500 * time.Millisecond

// DefaultStallTimeout is the startup watchdog window.
const DefaultStallTimeout = 15 * time.Second

// Starter is the launcher surface the supervisor consumes. *launcher.Launcher
// implements it; tests substitute fakes.
type Starter interface {
	Start(ctx context.Context, spec service.Spec, opts launcher.Options) (*service.Handle, error)
}

// ServiceStatus is the per-service outcome reported in a RunResult.
type ServiceStatus struct {
	ID       string
	Required bool
	Started  bool // the start action was invoked and produced a handle
	Ready    bool
	Err      error // start, port or readiness failure, nil otherwise
}

// RunResult summarizes a finished run.
type RunResult struct {
	Services []ServiceStatus

	// Err is the fatal cause when a required service failed to start or
	// become ready, or died unexpectedly. Nil for a run ended by a
	// termination signal after successful startup.
	Err error

	// TeardownErr is non-nil when some handles were still running after
	// forced termination. It never affects the exit decision; it is a
	// warning that external processes/containers leaked.
	TeardownErr error
}

// Failed reports whether the run should exit non-zero.
func (r *RunResult) Failed() bool { return r.Err != nil }

// Supervisor drives one run of a service graph.
type Supervisor struct {
	Launcher Starter
	Log      *eventlog.Log
	Metrics  *metrics.Set
	Config   Config

	// CheckerFor overrides readiness checker construction. Nil means the
	// built-in mapping from ReadySpec types. Tests inject fake checkers
	// through this.
	CheckerFor func(spec service.Spec, h *service.Handle) ready.Checker

	coord *Coordinator
}

// New creates a supervisor. A nil log gets a fresh event log; a nil metrics
// set disables instrumentation.
func New(l Starter, log *eventlog.Log, m *metrics.Set, cfg Config) *Supervisor {
	if log == nil {
		log = eventlog.New()
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = generateID()
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = DefaultMonitorInterval
	}
	if cfg.StallTimeout == 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	return &Supervisor{
		Launcher: l,
		Log:      log,
		Metrics:  m,
		Config:   cfg,
		coord:    NewCoordinator(cfg.GracePeriod, log, m),
	}
}

// Coordinator exposes the shutdown coordinator so the signal bridge and
// tests can trigger or observe teardown.
func (s *Supervisor) Coordinator() *Coordinator {
	return s.coord
}

// Run executes the graph: validates it, walks the specs in order through
// the port gate, the launcher and the readiness probe, then monitors the
// started handles until a signal (ctx cancellation), a fatal failure, or a
// required-service death triggers teardown. Run returns after teardown has
// completed.
func (s *Supervisor) Run(ctx context.Context, graph service.Graph) (*RunResult, error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	// The slice is sized up front so the per-service pointers below stay
	// valid; growing it later would leave them aimed at a stale array.
	res := &RunResult{Services: make([]ServiceStatus, len(graph.Specs))}
	status := make(map[string]*ServiceStatus, len(graph.Specs))
	for i, spec := range graph.Specs {
		res.Services[i] = ServiceStatus{ID: spec.ID, Required: spec.Required}
		status[spec.ID] = &res.Services[i]
	}

	handles := make(map[string]*service.Handle, len(graph.Specs))
	failed := make(map[string]error)

	if s.Config.StallTimeout > 0 {
		watchCtx, stopWatchdog := context.WithCancel(ctx)
		defer stopWatchdog()
		go eventlog.Watchdog(watchCtx, s.Log, graph, s.Config.StallTimeout)
	}

	// fatal records the cause, announces the failing run and aborts the
	// startup loop; teardown of everything registered so far follows.
	fatal := func(spec service.Spec, err error) {
		res.Err = fmt.Errorf("service %q: %w", spec.ID, err)
		s.Log.Publish(eventlog.Event{
			Type:    eventlog.EventRunFailing,
			Service: spec.ID,
			Error:   err.Error(),
		})
	}

	// recordFailure notes a failure, returning true when it is fatal.
	recordFailure := func(spec service.Spec, err error) bool {
		status[spec.ID].Err = err
		failed[spec.ID] = err
		if s.Metrics != nil {
			s.Metrics.StartFailures.WithLabelValues(spec.ID).Inc()
		}
		s.Log.Publish(eventlog.Event{
			Type:    eventlog.EventServiceFailed,
			Service: spec.ID,
			Error:   err.Error(),
		})
		if spec.Required {
			fatal(spec, err)
			return true
		}
		s.Log.Publish(eventlog.Event{
			Type:    eventlog.EventServiceSkipped,
			Service: spec.ID,
			Message: "optional service failed, continuing without it",
		})
		return false
	}

	// interrupted records that startup was abandoned by cancellation or an
	// externally triggered shutdown before every spec was processed. Such a
	// run never reached a fully-up state and is reported as failed.
	var interrupted bool

startup:
	for _, spec := range graph.Specs {
		// A shutdown that began while earlier specs were starting means no
		// further specs may start.
		select {
		case <-ctx.Done():
			interrupted = true
			break startup
		case <-s.coord.Begun():
			interrupted = true
			break startup
		default:
		}

		// Dependency gate. Startup is sequential, so every dependency has
		// already reached Ready or been recorded as failed. A failed
		// required dependency would have aborted the run; a failed
		// optional one means we proceed without it.
		if abort := s.checkDeps(graph, spec, failed, fatal); abort {
			break startup
		}

		// Pre-flight: the claimed port must be free before the service is
		// started, never checked after the fact.
		if spec.ClaimPort != 0 {
			s.Log.Publish(eventlog.Event{
				Type:    eventlog.EventPortWaiting,
				Service: spec.ID,
				Port:    spec.ClaimPort,
			})
			err := portguard.WaitFree(ctx, spec.ClaimPort, s.Config.PortWaitAttempts, s.Config.PortWaitInterval)
			if err != nil {
				if ctx.Err() != nil {
					interrupted = true
					break startup
				}
				var conflict *portguard.ConflictError
				if errors.As(err, &conflict) {
					s.Log.Publish(eventlog.Event{
						Type:    eventlog.EventPortConflict,
						Service: spec.ID,
						Port:    spec.ClaimPort,
						Error:   err.Error(),
					})
				}
				if recordFailure(spec, err) {
					break startup
				}
				continue
			}
		}

		s.Log.Publish(eventlog.Event{
			Type:    eventlog.EventServiceStarting,
			Service: spec.ID,
		})

		h, err := s.Launcher.Start(ctx, spec, launcher.Options{
			InstanceID:  s.Config.InstanceID,
			SettleDelay: s.Config.SettleDelay,
			Stdout:      &logWriter{log: s.Log, service: spec.ID, stream: "stdout"},
			Stderr:      &logWriter{log: s.Log, service: spec.ID, stream: "stderr"},
		})
		if err != nil {
			if ctx.Err() != nil {
				interrupted = true
				break startup
			}
			var se *launcher.StartError
			if errors.As(err, &se) && se.Output != "" {
				s.Log.Publish(eventlog.Event{
					Type:    eventlog.EventServiceLog,
					Service: spec.ID,
					Log:     &eventlog.LogEntry{Stream: "stderr", Data: se.Output},
				})
			}
			if recordFailure(spec, err) {
				break startup
			}
			continue
		}

		// Register before anything else. Readiness can fail or be
		// interrupted, and the unit must already be tracked when it does.
		s.coord.Register(h)
		handles[spec.ID] = h
		status[spec.ID].Started = true
		s.Log.Publish(eventlog.Event{
			Type:    eventlog.EventServiceStarted,
			Service: spec.ID,
			Ref:     h.Runtime.Ref(),
		})

		if spec.Ready != nil {
			checker := s.checkerFor(spec, h)
			err := ready.Poll(ctx, checker, s.readyTimeout(spec), s.readyInterval(spec))
			if err != nil {
				if ctx.Err() != nil {
					interrupted = true
					break startup
				}
				h.Advance(service.Failed)
				if recordFailure(spec, err) {
					break startup
				}
				continue
			}
		}

		h.Advance(service.Ready)
		status[spec.ID].Ready = true
		s.Log.Publish(eventlog.Event{
			Type:    eventlog.EventServiceReady,
			Service: spec.ID,
			Ref:     h.Runtime.Ref(),
		})
	}

	if interrupted && res.Err == nil {
		res.Err = errors.New("interrupted before all services were up")
	}

	// Monitoring phase: only entered when startup finished cleanly.
	if res.Err == nil && ctx.Err() == nil && !s.coord.begun.Load() {
		s.Log.Publish(eventlog.Event{Type: eventlog.EventRunUp})
		if cause := s.monitor(ctx, graph, handles); cause != nil {
			res.Err = cause
		}
	}

	// Teardown runs on its own context: the run context is typically
	// already cancelled when we get here.
	stopCtx, cancel := context.WithTimeout(context.Background(),
		s.coord.grace+forceConfirmWait+5*time.Second)
	defer cancel()
	res.TeardownErr = s.coord.Shutdown(stopCtx)

	s.Log.Publish(eventlog.Event{Type: eventlog.EventRunDown})
	return res, nil
}

// checkDeps enforces the dependency gate for one spec. It returns true when
// the whole run must abort (an unmet required dependency).
func (s *Supervisor) checkDeps(graph service.Graph, spec service.Spec, failed map[string]error,
	fatal func(service.Spec, error)) bool {

	for _, dep := range spec.DependsOn {
		depErr, depFailed := failed[dep]
		if !depFailed {
			continue
		}
		depSpec, _ := graph.Lookup(dep)
		if depSpec.Required {
			// Normally unreachable: a required failure aborts the run at
			// the point of failure. Kept as a guard for the invariant that
			// a spec never starts on top of a failed required dependency.
			fatal(spec, fmt.Errorf("required dependency %q failed: %v", dep, depErr))
			return true
		}
		s.Log.Publish(eventlog.Event{
			Type:    eventlog.EventServiceSkipped,
			Service: spec.ID,
			Message: fmt.Sprintf("optional dependency %q unavailable, starting anyway", dep),
		})
	}
	return false
}

// monitorErrorThreshold is how many consecutive failed liveness checks the
// monitor tolerates before declaring a required service lost.
const monitorErrorThreshold = 5

// monitor polls handle liveness until the run context is cancelled, an
// external trigger begins teardown, or a required service dies. It returns
// the fatal cause, if any.
func (s *Supervisor) monitor(ctx context.Context, graph service.Graph, handles map[string]*service.Handle) error {
	ticker := time.NewTicker(s.Config.MonitorInterval)
	defer ticker.Stop()

	checkErrs := make(map[string]int, len(handles))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.coord.Begun():
			return nil
		case <-ticker.C:
		}

		for _, spec := range graph.Specs {
			h := handles[spec.ID]
			if h == nil || !h.Required {
				continue
			}
			if st := h.State(); st != service.Ready && st != service.Starting {
				continue
			}
			alive, err := h.Runtime.Alive(ctx)
			if err != nil {
				// One failed check is usually a daemon hiccup. A run of
				// them means the unit is unobservable, which for a
				// required service is as bad as being gone.
				checkErrs[spec.ID]++
				if checkErrs[spec.ID] < monitorErrorThreshold {
					continue
				}
				cause := fmt.Errorf("service %q: liveness unobservable: %w", spec.ID, err)
				s.Log.Publish(eventlog.Event{
					Type:    eventlog.EventRunFailing,
					Service: spec.ID,
					Error:   fmt.Sprintf("liveness unobservable: %v", err),
				})
				return cause
			}
			checkErrs[spec.ID] = 0
			if alive {
				continue
			}
			// A required service disappearing is equivalent to receiving a
			// termination signal, except the run is reported as failed.
			cause := fmt.Errorf("service %q: exited unexpectedly", spec.ID)
			s.Log.Publish(eventlog.Event{
				Type:    eventlog.EventRunFailing,
				Service: spec.ID,
				Error:   "exited unexpectedly",
			})
			return cause
		}
	}
}

// checkerFor maps a spec's ReadySpec to a checker, unless overridden.
func (s *Supervisor) checkerFor(spec service.Spec, h *service.Handle) ready.Checker {
	if s.CheckerFor != nil {
		return s.CheckerFor(spec, h)
	}
	rs := spec.Ready
	host := rs.Host
	if host == "" {
		host = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", host, rs.Port)
	switch rs.Type {
	case "grpc":
		return &ready.GRPC{Addr: addr}
	case "http":
		return &ready.HTTP{Addr: addr, Path: rs.Path}
	case "stable":
		return &ready.Stable{Runtime: h.Runtime, Hold: rs.Hold}
	default:
		return &ready.TCP{Addr: addr}
	}
}

func (s *Supervisor) readyTimeout(spec service.Spec) time.Duration {
	if spec.Ready != nil && spec.Ready.Timeout > 0 {
		return spec.Ready.Timeout
	}
	if s.Config.ReadyTimeout > 0 {
		return s.Config.ReadyTimeout
	}
	return ready.DefaultTimeout
}

func (s *Supervisor) readyInterval(spec service.Spec) time.Duration {
	if spec.Ready != nil && spec.Ready.Interval > 0 {
		return spec.Ready.Interval
	}
	if s.Config.ReadyInterval > 0 {
		return s.Config.ReadyInterval
	}
	return ready.DefaultInterval
}

// logWriter publishes service output into the event log.
type logWriter struct {
	log     *eventlog.Log
	service string
	stream  string
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.log.Publish(eventlog.Event{
		Type:    eventlog.EventServiceLog,
		Service: w.service,
		Log:     &eventlog.LogEntry{Stream: w.stream, Data: string(p)},
	})
	return len(p), nil
}

// generateID returns a short random run identifier.
func generateID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
