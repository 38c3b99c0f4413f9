// Package service defines the declarative description of the units the
// supervisor manages (what to start, in which order, and how to tell
// that a unit is ready) plus the live handle tracking a started unit.
package service

import (
	"fmt"
	"time"
)

// Kind selects how a service is started and observed.
type Kind string

const (
	// KindProcess runs the service as a native OS process.
	KindProcess Kind = "process"

	// KindContainer runs the service as a Docker container.
	KindContainer Kind = "container"
)

// PortBinding maps a host port to a container port (TCP).
type PortBinding struct {
	Host      int
	Container int
}

// Mount binds a host path into a container.
type Mount struct {
	Source string
	Target string
}

// StartAction describes how to start one service. The supervisor passes it
// to the launcher unmodified; which fields apply depends on the spec's Kind.
type StartAction struct {
	// Process fields.
	Command string            // executable path or name (resolved via PATH)
	Args    []string          // command arguments
	Dir     string            // working directory, empty for inherited
	Env     map[string]string // extra environment, merged over the parent's

	// Container fields.
	Image         string            // image reference, e.g. "eclipse-mosquitto:2"
	Cmd           []string          // command override inside the container
	ContainerEnv  map[string]string // container environment variables
	Ports         []PortBinding     // host → container port mappings
	Mounts        []Mount           // bind mounts
	CapAdd        []string          // added Linux capabilities (e.g. CAP_NET_RAW)
	HostNetwork   bool              // use the host network namespace
	ContainerName string            // explicit name, default derived from the spec ID
}

// ReadySpec describes the optional readiness condition for a service.
// A nil ReadySpec means the service is ready as soon as it has started.
type ReadySpec struct {
	// Type selects the checker: "tcp", "grpc", "http" or "stable".
	Type string

	// Host and Port locate the probed endpoint for tcp/grpc/http checks.
	// Host defaults to 127.0.0.1.
	Host string
	Port int

	// Path is the request path for http checks. Default "/".
	Path string

	// Hold is how long the unit must stay alive for "stable" checks.
	Hold time.Duration

	// Timeout bounds the whole probe. Zero means the supervisor default.
	Timeout time.Duration

	// Interval is the pause between attempts. Zero means the supervisor
	// default.
	Interval time.Duration
}

// Spec is the immutable description of one service. Specs are built once
// from configuration and never mutated during a run.
type Spec struct {
	// ID is the unique service name, used for logging and as the
	// dependency reference in DependsOn.
	ID string

	// Kind selects the launcher.
	Kind Kind

	// Start is the opaque invocation descriptor.
	Start StartAction

	// DependsOn lists service IDs that must be ready (or recorded as
	// failed-but-optional) before this service is started.
	DependsOn []string

	// Ready is the optional readiness probe.
	Ready *ReadySpec

	// Required marks a service whose failure aborts the whole run.
	// Non-required services fail soft: the run proceeds without them.
	Required bool

	// ClaimPort is the TCP port this service will bind, if any. The
	// supervisor verifies the port is free before starting the service,
	// catching stale instances left over from a crashed previous run.
	ClaimPort int
}

// Graph is an ordered collection of specs. Order is significant: a spec's
// dependencies must appear earlier in the slice, which makes the graph a
// pre-sorted linear start sequence.
type Graph struct {
	Specs []Spec
}

// ConfigError reports an invalid graph. It is always detected before any
// service is started.
type ConfigError struct {
	Service string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("invalid service graph: %s", e.Reason)
	}
	return fmt.Sprintf("invalid service graph: service %q: %s", e.Service, e.Reason)
}

// Validate checks the graph: IDs are unique and non-empty, every dependency
// names a known service, and every dependency precedes its dependent. The
// ordering rule makes cycles (including self-dependencies) impossible, so a
// dependency on a later spec is reported as a cycle/order violation.
func (g Graph) Validate() error {
	index := make(map[string]int, len(g.Specs))
	for i, s := range g.Specs {
		if s.ID == "" {
			return &ConfigError{Reason: fmt.Sprintf("spec at position %d has an empty id", i)}
		}
		if _, dup := index[s.ID]; dup {
			return &ConfigError{Service: s.ID, Reason: "duplicate id"}
		}
		if s.Kind != KindProcess && s.Kind != KindContainer {
			return &ConfigError{Service: s.ID, Reason: fmt.Sprintf("unknown kind %q", s.Kind)}
		}
		index[s.ID] = i
	}

	for i, s := range g.Specs {
		for _, dep := range s.DependsOn {
			j, ok := index[dep]
			if !ok {
				return &ConfigError{Service: s.ID, Reason: fmt.Sprintf("depends on unknown service %q", dep)}
			}
			if j == i {
				return &ConfigError{Service: s.ID, Reason: "depends on itself"}
			}
			if j > i {
				return &ConfigError{Service: s.ID, Reason: fmt.Sprintf(
					"depends on %q which is declared later (dependencies must precede dependents)", dep)}
			}
		}
	}
	return nil
}

// Lookup returns the spec with the given ID.
func (g Graph) Lookup(id string) (Spec, bool) {
	for _, s := range g.Specs {
		if s.ID == id {
			return s, true
		}
	}
	return Spec{}, false
}
