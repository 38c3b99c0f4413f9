package launcher

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/telemetrylab/convoy/internal/service"
)

// processLauncher starts native OS processes.
type processLauncher struct{}

func (processLauncher) start(ctx context.Context, spec service.Spec, opts Options) (service.Runtime, error) {
	path, err := exec.LookPath(spec.Start.Command)
	if err != nil {
		return nil, &StartError{
			Service: spec.ID,
			Kind:    service.KindProcess,
			Err:     err,
		}
	}

	// The command is not bound to ctx on purpose: the supervisor owns
	// termination through the runtime (graceful SIGTERM, then SIGKILL),
	// not through context cancellation.
	cmd := exec.Command(path, spec.Start.Args...)
	cmd.Dir = spec.Start.Dir
	cmd.Env = mergedEnv(spec.Start.Env)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	if err := cmd.Start(); err != nil {
		return nil, &StartError{
			Service: spec.ID,
			Kind:    service.KindProcess,
			Err:     err,
		}
	}

	rt := &processRuntime{cmd: cmd, done: make(chan struct{})}

	// Reap the child as soon as it exits so Alive flips promptly and the
	// process never lingers as a zombie.
	go func() {
		rt.waitErr = cmd.Wait()
		close(rt.done)
	}()

	return rt, nil
}

// mergedEnv overlays extra variables on the parent environment.
func mergedEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil // exec.Cmd inherits os.Environ when Env is nil
	}
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// processRuntime controls one spawned process.
type processRuntime struct {
	cmd  *exec.Cmd
	done chan struct{}

	waitErr error

	killOnce sync.Once
}

func (r *processRuntime) Ref() string {
	return strconv.Itoa(r.cmd.Process.Pid)
}

func (r *processRuntime) Alive(ctx context.Context) (bool, error) {
	select {
	case <-r.done:
		return false, nil
	default:
		return true, nil
	}
}

// Stop sends SIGTERM without waiting for the process to exit.
func (r *processRuntime) Stop(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	default:
	}
	return r.cmd.Process.Signal(syscall.SIGTERM)
}

// Kill terminates the process unconditionally.
func (r *processRuntime) Kill(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	default:
	}
	var err error
	r.killOnce.Do(func() {
		err = r.cmd.Process.Kill()
	})
	return err
}

// Release is a no-op for processes: the reaper goroutine already collects
// the exit status, and no external resources remain.
func (r *processRuntime) Release(ctx context.Context) error {
	return nil
}

// Done exposes the exit notification for tests.
func (r *processRuntime) Done() <-chan struct{} {
	return r.done
}
