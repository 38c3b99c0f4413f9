// Package launcher starts one service at a time and hands the supervisor a
// live handle for it. The process launcher spawns native binaries; the
// container launcher drives the Docker daemon. Both perform the existence
// checks the deployment previously scattered across per-service shell
// conditionals, surfacing a typed *StartError instead of ad hoc warnings.
package launcher

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/telemetrylab/convoy/internal/service"
)

// Options carries per-run context into a start call.
type Options struct {
	// InstanceID identifies this run; it namespaces container names so
	// concurrent runs on one host cannot collide.
	InstanceID string

	// Stdout and Stderr receive the service's output. Nil writers discard.
	Stdout io.Writer
	Stderr io.Writer

	// SettleDelay is how long the container launcher waits before
	// re-inspecting a started container to distinguish "started" from
	// "crashed immediately". Zero means the default.
	SettleDelay time.Duration
}

// StartError reports that a service failed to start: the binary or image was
// missing, the spawn call failed, or the container exited immediately.
type StartError struct {
	Service string
	Kind    service.Kind
	Output  string // captured diagnostic output (e.g. container log tail)
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s service %q: %v", e.Kind, e.Service, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// kindLauncher starts a unit of one kind and returns its runtime.
type kindLauncher interface {
	start(ctx context.Context, spec service.Spec, opts Options) (service.Runtime, error)
}

// Launcher dispatches start calls by spec kind.
type Launcher struct {
	kinds map[service.Kind]kindLauncher
}

// New returns a launcher supporting native processes and Docker containers.
func New() *Launcher {
	return &Launcher{
		kinds: map[service.Kind]kindLauncher{
			service.KindProcess:   processLauncher{},
			service.KindContainer: containerLauncher{},
		},
	}
}

// Start invokes the spec's start action and returns a handle in the
// Starting state. On failure no unit is left running and no handle exists,
// so there is nothing for the caller to clean up.
func (l *Launcher) Start(ctx context.Context, spec service.Spec, opts Options) (*service.Handle, error) {
	kl, ok := l.kinds[spec.Kind]
	if !ok {
		return nil, &StartError{
			Service: spec.ID,
			Kind:    spec.Kind,
			Err:     fmt.Errorf("unsupported kind %q", spec.Kind),
		}
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}

	rt, err := kl.start(ctx, spec, opts)
	if err != nil {
		return nil, err
	}
	return service.NewHandle(spec, rt), nil
}
