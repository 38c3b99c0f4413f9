// Package config loads pipeline definitions from YAML and turns them into
// the supervisor's service graph. The file format mirrors what the launch
// scripts used to hard-code: a list of services with commands or images,
// ports, dependencies and readiness checks, plus run-wide timing knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/telemetrylab/convoy/internal/service"
)

// Duration wraps time.Duration for YAML decoding ("10s", "250ms").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ReadyConfig is the YAML form of a readiness probe.
type ReadyConfig struct {
	Type     string   `yaml:"type"` // tcp (default), grpc, http, stable
	Host     string   `yaml:"host,omitempty"`
	Port     int      `yaml:"port,omitempty"`
	Path     string   `yaml:"path,omitempty"`
	Hold     Duration `yaml:"hold,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
	Interval Duration `yaml:"interval,omitempty"`
}

// ServiceConfig is the YAML form of one service.
type ServiceConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"` // process or container

	// Process fields.
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Dir     string            `yaml:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// Container fields.
	Image        string            `yaml:"image,omitempty"`
	Cmd          []string          `yaml:"cmd,omitempty"`
	ContainerEnv map[string]string `yaml:"container_env,omitempty"`
	Ports        []string          `yaml:"ports,omitempty"`  // "host:container" or "port"
	Mounts       []string          `yaml:"mounts,omitempty"` // "source:target"
	CapAdd       []string          `yaml:"cap_add,omitempty"`
	HostNetwork  bool              `yaml:"host_network,omitempty"`

	DependsOn []string     `yaml:"depends_on,omitempty"`
	Required  *bool        `yaml:"required,omitempty"` // default true
	Port      int          `yaml:"port,omitempty"`     // claimed TCP port, pre-flight gated
	Ready     *ReadyConfig `yaml:"ready,omitempty"`
}

// File is a full pipeline definition.
type File struct {
	Pipeline string `yaml:"pipeline,omitempty"`

	GracePeriod      Duration `yaml:"grace_period,omitempty"`
	ReadyTimeout     Duration `yaml:"ready_timeout,omitempty"`
	ReadyInterval    Duration `yaml:"ready_interval,omitempty"`
	PortWaitAttempts int      `yaml:"port_wait_attempts,omitempty"`
	PortWaitInterval Duration `yaml:"port_wait_interval,omitempty"`

	Services []ServiceConfig `yaml:"services"`
}

// Load reads and parses a pipeline file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a pipeline definition. Unknown fields are rejected so typos
// in a deployment file fail loudly instead of being silently ignored.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse pipeline file: %w", err)
	}
	if len(f.Services) == 0 {
		return nil, fmt.Errorf("pipeline file defines no services")
	}
	return &f, nil
}

// Graph converts the file into a validated service graph.
func (f *File) Graph() (service.Graph, error) {
	var g service.Graph
	for _, sc := range f.Services {
		spec, err := sc.spec()
		if err != nil {
			return service.Graph{}, err
		}
		g.Specs = append(g.Specs, spec)
	}
	if err := g.Validate(); err != nil {
		return service.Graph{}, err
	}
	return g, nil
}

func (sc ServiceConfig) spec() (service.Spec, error) {
	spec := service.Spec{
		ID:        sc.Name,
		Kind:      service.Kind(sc.Kind),
		DependsOn: sc.DependsOn,
		Required:  sc.Required == nil || *sc.Required,
		ClaimPort: sc.Port,
	}

	switch spec.Kind {
	case service.KindProcess:
		if sc.Command == "" {
			return service.Spec{}, fmt.Errorf("service %q: process service needs a command", sc.Name)
		}
		spec.Start = service.StartAction{
			Command: sc.Command,
			Args:    sc.Args,
			Dir:     sc.Dir,
			Env:     sc.Env,
		}
	case service.KindContainer:
		if sc.Image == "" {
			return service.Spec{}, fmt.Errorf("service %q: container service needs an image", sc.Name)
		}
		ports, err := parsePorts(sc.Ports)
		if err != nil {
			return service.Spec{}, fmt.Errorf("service %q: %w", sc.Name, err)
		}
		mounts, err := parseMounts(sc.Mounts)
		if err != nil {
			return service.Spec{}, fmt.Errorf("service %q: %w", sc.Name, err)
		}
		spec.Start = service.StartAction{
			Image:        sc.Image,
			Cmd:          sc.Cmd,
			ContainerEnv: sc.ContainerEnv,
			Ports:        ports,
			Mounts:       mounts,
			CapAdd:       sc.CapAdd,
			HostNetwork:  sc.HostNetwork,
		}
	default:
		return service.Spec{}, fmt.Errorf("service %q: unknown kind %q", sc.Name, sc.Kind)
	}

	if sc.Ready != nil {
		spec.Ready = &service.ReadySpec{
			Type:     sc.Ready.Type,
			Host:     sc.Ready.Host,
			Port:     sc.Ready.Port,
			Path:     sc.Ready.Path,
			Hold:     sc.Ready.Hold.Duration,
			Timeout:  sc.Ready.Timeout.Duration,
			Interval: sc.Ready.Interval.Duration,
		}
	}

	return spec, nil
}

// parsePorts parses "host:container" or bare "port" bindings.
func parsePorts(ports []string) ([]service.PortBinding, error) {
	var out []service.PortBinding
	for _, p := range ports {
		host, container, found := strings.Cut(p, ":")
		h, err := strconv.Atoi(host)
		if err != nil {
			return nil, fmt.Errorf("invalid port binding %q", p)
		}
		c := h
		if found {
			c, err = strconv.Atoi(container)
			if err != nil {
				return nil, fmt.Errorf("invalid port binding %q", p)
			}
		}
		out = append(out, service.PortBinding{Host: h, Container: c})
	}
	return out, nil
}

// parseMounts parses "source:target" bind mounts.
func parseMounts(mounts []string) ([]service.Mount, error) {
	var out []service.Mount
	for _, m := range mounts {
		src, dst, found := strings.Cut(m, ":")
		if !found || src == "" || dst == "" {
			return nil, fmt.Errorf("invalid mount %q (want source:target)", m)
		}
		out = append(out, service.Mount{Source: src, Target: dst})
	}
	return out, nil
}
