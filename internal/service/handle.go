package service

import (
	"context"
	"sync/atomic"
	"time"
)

// State is a handle's observed lifecycle state. Transitions are monotonic
// along Starting → Ready → Stopping → Stopped; Failed is a terminal escape
// reachable only while the unit has not finished stopping. A handle never
// re-enters Starting.
type State int32

const (
	Starting State = iota
	Ready
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Runtime is the supervisor's control surface over a started unit. Process
// and container launchers return different implementations; the supervisor
// treats them uniformly.
type Runtime interface {
	// Ref returns the runtime identifier (PID or container ID) for logging.
	Ref() string

	// Alive reports whether the unit is still running.
	Alive(ctx context.Context) (bool, error)

	// Stop requests a cooperative shutdown (SIGTERM or its container
	// equivalent) without waiting for the unit to exit.
	Stop(ctx context.Context) error

	// Kill terminates the unit unconditionally.
	Kill(ctx context.Context) error

	// Release frees external resources once the unit is confirmed stopped
	// (container removal, backup-cleanup cancellation). It must be safe to
	// call exactly once per handle.
	Release(ctx context.Context) error
}

// Handle is the live reference to one started unit. A handle exists if and
// only if the unit's start action was invoked and did not immediately error.
type Handle struct {
	SpecID    string
	Required  bool
	Runtime   Runtime
	StartedAt time.Time

	state atomic.Int32
}

// NewHandle returns a handle in the Starting state.
func NewHandle(spec Spec, rt Runtime) *Handle {
	return &Handle{
		SpecID:    spec.ID,
		Required:  spec.Required,
		Runtime:   rt,
		StartedAt: time.Now(),
	}
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Advance moves the handle to the given state if the transition is legal,
// and reports whether it happened. Illegal transitions (backwards moves,
// leaving a terminal state) are ignored so racing callers cannot corrupt
// the state machine.
func (h *Handle) Advance(to State) bool {
	for {
		cur := State(h.state.Load())
		if !legalTransition(cur, to) {
			return false
		}
		if h.state.CompareAndSwap(int32(cur), int32(to)) {
			return true
		}
	}
}

func legalTransition(from, to State) bool {
	switch to {
	case Ready:
		return from == Starting
	case Stopping:
		return from == Starting || from == Ready || from == Failed
	case Stopped:
		return from == Starting || from == Ready || from == Stopping || from == Failed
	case Failed:
		return from == Starting
	default:
		return false
	}
}
