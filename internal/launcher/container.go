package launcher

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/matgreaves/run/onexit"

	"github.com/telemetrylab/convoy/internal/service"
)

// DefaultSettleDelay is how long a container gets to crash before the
// launcher declares it started. The mosquitto and databroker images fail
// within a few hundred milliseconds when their config is broken.
const DefaultSettleDelay = 300 * time.Millisecond

// logTailLines is how much container output is attached to a StartError.
const logTailLines = "50"

// containerLauncher starts Docker containers.
type containerLauncher struct{}

// ContainerName returns the container name for a service instance.
func ContainerName(instanceID, serviceID string) string {
	return fmt.Sprintf("convoy-%s-%s", instanceID, serviceID)
}

func (containerLauncher) start(ctx context.Context, spec service.Spec, opts Options) (service.Runtime, error) {
	fail := func(err error) (service.Runtime, error) {
		return nil, &StartError{Service: spec.ID, Kind: service.KindContainer, Err: err}
	}

	cli, err := dockerClient()
	if err != nil {
		return fail(fmt.Errorf("docker client: %w", err))
	}
	if _, err := cli.Ping(ctx); err != nil {
		return fail(fmt.Errorf("cannot connect to Docker daemon (is Docker running?): %w", err))
	}

	// Existence check before create: a missing image is a StartError the
	// supervisor can classify, not a mid-start surprise.
	if _, _, err := cli.ImageInspectWithRaw(ctx, spec.Start.Image); err != nil {
		if client.IsErrNotFound(err) {
			return fail(fmt.Errorf("image %q not found", spec.Start.Image))
		}
		return fail(fmt.Errorf("inspect image %q: %w", spec.Start.Image, err))
	}

	name := spec.Start.ContainerName
	if name == "" {
		name = ContainerName(opts.InstanceID, spec.ID)
	}

	config := &container.Config{
		Image: spec.Start.Image,
		Env:   envSlice(spec.Start.ContainerEnv),
	}
	if len(spec.Start.Cmd) > 0 {
		config.Cmd = spec.Start.Cmd
	}

	hostConfig := &container.HostConfig{
		CapAdd: strslice.StrSlice(spec.Start.CapAdd),
		Mounts: bindMounts(spec.Start.Mounts),
	}
	if spec.Start.HostNetwork {
		hostConfig.NetworkMode = "host"
	} else {
		portBindings, exposedPorts := portBindings(spec.Start.Ports)
		config.ExposedPorts = exposedPorts
		hostConfig.PortBindings = portBindings
	}

	resp, err := cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return fail(fmt.Errorf("create container: %w", err))
	}
	containerID := resp.ID

	// Backup cleanup in case the supervisor itself dies ungracefully
	// (SIGKILL, OOM, CI timeout). Cancelled once teardown removes the
	// container the normal way.
	cancelBackup, _ := onexit.OnExitF("docker rm -f %s", containerID)

	removeAndFail := func(err error, output string) (service.Runtime, error) {
		cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
		if cancelBackup != nil {
			// The worst a failed cancellation leaves behind is a redundant
			// "docker rm -f" against an already-removed container.
			_ = cancelBackup()
		}
		return nil, &StartError{Service: spec.ID, Kind: service.KindContainer, Output: output, Err: err}
	}

	if err := cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return removeAndFail(fmt.Errorf("start container: %w", err), "")
	}

	// Short liveness window: distinguish "started" from "crashed
	// immediately" and attach the log tail to the failure if it did.
	settle := opts.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	select {
	case <-ctx.Done():
		return removeAndFail(ctx.Err(), "")
	case <-time.After(settle):
	}

	inspect, err := cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return removeAndFail(fmt.Errorf("inspect container: %w", err), "")
	}
	if !inspect.State.Running {
		tail := logTail(ctx, cli, containerID)
		return removeAndFail(fmt.Errorf("container exited immediately (code %d)", inspect.State.ExitCode), tail)
	}

	// Stream container output for the rest of its life.
	logReader, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err == nil {
		go func() {
			stdcopy.StdCopy(opts.Stdout, opts.Stderr, logReader)
			logReader.Close()
		}()
	}

	return &containerRuntime{
		cli:          cli,
		id:           containerID,
		name:         name,
		cancelBackup: cancelBackup,
	}, nil
}

// logTail fetches the last lines of a container's output for diagnostics.
func logTail(ctx context.Context, cli *client.Client, containerID string) string {
	reader, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       logTailLines,
	})
	if err != nil {
		return ""
	}
	defer reader.Close()

	var buf bytes.Buffer
	stdcopy.StdCopy(&buf, &buf, reader)
	return buf.String()
}

// containerRuntime controls one Docker container.
type containerRuntime struct {
	cli          *client.Client
	id           string
	name         string
	cancelBackup func() error

	releaseOnce sync.Once
}

func (r *containerRuntime) Ref() string {
	if len(r.id) >= 12 {
		return r.id[:12]
	}
	return r.id
}

func (r *containerRuntime) Alive(ctx context.Context) (bool, error) {
	inspect, err := r.cli.ContainerInspect(ctx, r.id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return inspect.State.Running, nil
}

// Stop asks the container's init process to exit via SIGTERM. It does not
// wait: escalation is the shutdown coordinator's job.
func (r *containerRuntime) Stop(ctx context.Context) error {
	err := r.cli.ContainerKill(ctx, r.id, "SIGTERM")
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return err
}

// Kill force-terminates the container.
func (r *containerRuntime) Kill(ctx context.Context) error {
	err := r.cli.ContainerKill(ctx, r.id, "SIGKILL")
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return err
}

// Release removes the stopped container and cancels the backup cleanup.
func (r *containerRuntime) Release(ctx context.Context) error {
	var err error
	r.releaseOnce.Do(func() {
		err = r.cli.ContainerRemove(ctx, r.id, container.RemoveOptions{Force: true})
		if err != nil && client.IsErrNotFound(err) {
			err = nil
		}
		if r.cancelBackup != nil {
			_ = r.cancelBackup()
		}
	})
	return err
}

// envSlice converts an env map to Docker's "KEY=VALUE" slice form.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// bindMounts converts spec mounts to Docker bind mounts.
func bindMounts(mounts []service.Mount) []mount.Mount {
	if len(mounts) == 0 {
		return nil
	}
	out := make([]mount.Mount, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, mount.Mount{
			Type:   mount.TypeBind,
			Source: m.Source,
			Target: m.Target,
		})
	}
	return out
}

// portBindings builds Docker port maps from spec port bindings.
func portBindings(ports []service.PortBinding) (nat.PortMap, nat.PortSet) {
	bindings := make(nat.PortMap, len(ports))
	exposed := make(nat.PortSet, len(ports))

	for _, p := range ports {
		containerPort := p.Container
		if containerPort == 0 {
			containerPort = p.Host
		}
		cp := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		exposed[cp] = struct{}{}
		bindings[cp] = append(bindings[cp], nat.PortBinding{
			HostIP:   "0.0.0.0",
			HostPort: strconv.Itoa(p.Host),
		})
	}
	return bindings, exposed
}
