// Package pipeline holds the built-in telemetry deployments that the launch
// scripts used to hard-code: which services make up a pipeline, their ports,
// dependency edges and readiness checks. Each builder returns a config.File
// so the same CONVOY_* environment overrides apply to built-ins and custom
// YAML files alike.
package pipeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/telemetrylab/convoy/internal/config"
)

// Well-known ports of the pipeline's infrastructure services.
const (
	MQTTPort       = 1883
	DatabrokerPort = 55555
)

var builtins = map[string]func() *config.File{
	"can-local":       canLocal,
	"avtp-local":      avtpLocal,
	"can-containers":  canContainers,
	"avtp-containers": avtpContainers,
}

// Names returns the sorted list of built-in pipeline names.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build returns the named built-in pipeline.
func Build(name string) (*config.File, error) {
	builder, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline %q (built-ins: %v)", name, Names())
	}
	return builder(), nil
}

func dur(d time.Duration) config.Duration { return config.Duration{Duration: d} }

func optional() *bool { b := false; return &b }

// canLocal is the local-process CAN pipeline: MQTT broker, VSS databroker,
// CAN feeder, DDS bridge and MQTT exporter, plus the optional OTEL probe.
func canLocal() *config.File {
	return &config.File{
		Pipeline: "can-local",
		Services: []config.ServiceConfig{
			{
				Name:    "broker",
				Kind:    "process",
				Command: "mosquitto",
				Args:    []string{"-p", fmt.Sprint(MQTTPort)},
				Port:    MQTTPort,
				Ready:   &config.ReadyConfig{Type: "tcp", Port: MQTTPort},
			},
			{
				Name:    "databroker",
				Kind:    "process",
				Command: "databroker",
				Args:    []string{"--address", "127.0.0.1", "--port", fmt.Sprint(DatabrokerPort)},
				Port:    DatabrokerPort,
				Ready:   &config.ReadyConfig{Type: "grpc", Port: DatabrokerPort},
			},
			{
				Name:      "can-feeder",
				Kind:      "process",
				Command:   "canfeeder",
				Args:      []string{"--databroker", fmt.Sprintf("127.0.0.1:%d", DatabrokerPort)},
				DependsOn: []string{"databroker"},
				Ready:     &config.ReadyConfig{Type: "stable", Hold: dur(time.Second)},
			},
			{
				Name:      "dds-bridge",
				Kind:      "process",
				Command:   "ddsbridge",
				Args:      []string{"--databroker", fmt.Sprintf("127.0.0.1:%d", DatabrokerPort)},
				DependsOn: []string{"databroker"},
				Ready:     &config.ReadyConfig{Type: "stable", Hold: dur(time.Second)},
			},
			{
				Name:    "mqtt-exporter",
				Kind:    "process",
				Command: "mqttexporter",
				Args: []string{
					"--broker", fmt.Sprintf("127.0.0.1:%d", MQTTPort),
					"--databroker", fmt.Sprintf("127.0.0.1:%d", DatabrokerPort),
				},
				DependsOn: []string{"broker", "databroker"},
				Ready:     &config.ReadyConfig{Type: "stable", Hold: dur(time.Second)},
			},
			{
				Name:     "otel-probe",
				Kind:     "process",
				Command:  "otelprobe",
				Required: optional(),
			},
		},
	}
}

// avtpLocal extends the local pipeline with the AVTP capture path: the
// listener needs CAP_NET_RAW on the network interface, the decoder turns
// AVTP frames into CAN frames for the feeder.
func avtpLocal() *config.File {
	f := canLocal()
	f.Pipeline = "avtp-local"

	avtp := []config.ServiceConfig{
		{
			Name:    "avtp-listener",
			Kind:    "process",
			Command: "avtplistener",
			Args:    []string{"--interface", "eth0"},
			Ready:   &config.ReadyConfig{Type: "stable", Hold: dur(time.Second)},
		},
		{
			Name:      "avtp-decoder",
			Kind:      "process",
			Command:   "avtpdecoder",
			DependsOn: []string{"avtp-listener"},
			Ready:     &config.ReadyConfig{Type: "stable", Hold: dur(time.Second)},
		},
	}

	// The decoder must be up before the feeder consumes its output.
	services := append([]config.ServiceConfig{}, f.Services[:2]...)
	services = append(services, avtp...)
	for _, sc := range f.Services[2:] {
		if sc.Name == "can-feeder" {
			sc.DependsOn = append(sc.DependsOn, "avtp-decoder")
		}
		services = append(services, sc)
	}
	f.Services = services
	return f
}

// canContainers is the containerized CAN pipeline.
func canContainers() *config.File {
	return &config.File{
		Pipeline: "can-containers",
		Services: []config.ServiceConfig{
			{
				Name:  "broker",
				Kind:  "container",
				Image: "eclipse-mosquitto:2",
				Ports: []string{fmt.Sprint(MQTTPort)},
				Port:  MQTTPort,
				Ready: &config.ReadyConfig{Type: "tcp", Port: MQTTPort},
			},
			{
				Name:  "databroker",
				Kind:  "container",
				Image: "ghcr.io/eclipse-kuksa/kuksa-databroker:main",
				Ports: []string{fmt.Sprint(DatabrokerPort)},
				Port:  DatabrokerPort,
				Ready: &config.ReadyConfig{Type: "grpc", Port: DatabrokerPort},
			},
			{
				Name:        "can-feeder",
				Kind:        "container",
				Image:       "telemetry/can-feeder:latest",
				CapAdd:      []string{"CAP_NET_RAW"},
				HostNetwork: true,
				DependsOn:   []string{"databroker"},
				Ready:       &config.ReadyConfig{Type: "stable", Hold: dur(time.Second)},
			},
			{
				Name:        "dds-bridge",
				Kind:        "container",
				Image:       "telemetry/dds-bridge:latest",
				HostNetwork: true,
				DependsOn:   []string{"databroker"},
				Ready:       &config.ReadyConfig{Type: "stable", Hold: dur(time.Second)},
			},
			{
				Name:        "mqtt-exporter",
				Kind:        "container",
				Image:       "telemetry/mqtt-exporter:latest",
				HostNetwork: true,
				DependsOn:   []string{"broker", "databroker"},
				Ready:       &config.ReadyConfig{Type: "stable", Hold: dur(time.Second)},
			},
			{
				Name:     "otel-probe",
				Kind:     "container",
				Image:    "telemetry/otel-probe:latest",
				Required: optional(),
			},
		},
	}
}

// avtpContainers is the containerized AVTP pipeline.
func avtpContainers() *config.File {
	f := canContainers()
	f.Pipeline = "avtp-containers"

	avtp := []config.ServiceConfig{
		{
			Name:        "avtp-listener",
			Kind:        "container",
			Image:       "telemetry/avtp-listener:latest",
			CapAdd:      []string{"CAP_NET_RAW"},
			HostNetwork: true,
			Ready:       &config.ReadyConfig{Type: "stable", Hold: dur(time.Second)},
		},
		{
			Name:        "avtp-decoder",
			Kind:        "container",
			Image:       "telemetry/avtp-decoder:latest",
			HostNetwork: true,
			DependsOn:   []string{"avtp-listener"},
			Ready:       &config.ReadyConfig{Type: "stable", Hold: dur(time.Second)},
		},
	}

	services := append([]config.ServiceConfig{}, f.Services[:2]...)
	services = append(services, avtp...)
	for _, sc := range f.Services[2:] {
		if sc.Name == "can-feeder" {
			sc.DependsOn = append(sc.DependsOn, "avtp-decoder")
		}
		services = append(services, sc)
	}
	f.Services = services
	return f
}
