package config

import (
	"strings"
	"testing"
	"time"

	"github.com/telemetrylab/convoy/internal/service"
)

const samplePipeline = `
pipeline: can-local
grace_period: 5s
ready_timeout: 20s

services:
  - name: broker
    kind: container
    image: eclipse-mosquitto:2
    port: 1883
    ports: ["1883:1883"]
    ready:
      type: tcp
      port: 1883

  - name: databroker
    kind: process
    command: kuksa-databroker
    args: ["--port", "55555"]
    port: 55555
    ready:
      type: grpc
      port: 55555
      timeout: 30s

  - name: can-feeder
    kind: process
    command: canfeeder
    depends_on: [databroker]
    required: false
    ready:
      type: stable
      hold: 1s
`

func TestParse_FullPipeline(t *testing.T) {
	f, err := Parse([]byte(samplePipeline))
	if err != nil {
		t.Fatal(err)
	}

	if f.Pipeline != "can-local" {
		t.Errorf("pipeline = %q", f.Pipeline)
	}
	if f.GracePeriod.Duration != 5*time.Second {
		t.Errorf("grace_period = %v", f.GracePeriod.Duration)
	}
	if len(f.Services) != 3 {
		t.Fatalf("services = %d, want 3", len(f.Services))
	}

	g, err := f.Graph()
	if err != nil {
		t.Fatal(err)
	}

	broker, ok := g.Lookup("broker")
	if !ok {
		t.Fatal("broker missing from graph")
	}
	if broker.Kind != service.KindContainer || broker.Start.Image != "eclipse-mosquitto:2" {
		t.Errorf("broker spec = %+v", broker)
	}
	if len(broker.Start.Ports) != 1 || broker.Start.Ports[0] != (service.PortBinding{Host: 1883, Container: 1883}) {
		t.Errorf("broker ports = %+v", broker.Start.Ports)
	}
	if !broker.Required {
		t.Error("required should default to true")
	}

	databroker, _ := g.Lookup("databroker")
	if databroker.Ready == nil || databroker.Ready.Type != "grpc" || databroker.Ready.Timeout != 30*time.Second {
		t.Errorf("databroker ready = %+v", databroker.Ready)
	}

	feeder, _ := g.Lookup("can-feeder")
	if feeder.Required {
		t.Error("explicit required: false was ignored")
	}
	if feeder.Ready == nil || feeder.Ready.Hold != time.Second {
		t.Errorf("feeder ready = %+v", feeder.Ready)
	}
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`
services:
  - name: broker
    kind: process
    command: mosquitto
    readyness:
      type: tcp
`))
	if err == nil {
		t.Fatal("typoed field accepted")
	}
}

func TestParse_RejectsEmptyPipeline(t *testing.T) {
	if _, err := Parse([]byte("pipeline: empty\n")); err == nil {
		t.Fatal("pipeline without services accepted")
	}
}

func TestGraph_ProcessWithoutCommand(t *testing.T) {
	f := &File{Services: []ServiceConfig{{Name: "broker", Kind: "process"}}}
	if _, err := f.Graph(); err == nil || !strings.Contains(err.Error(), "command") {
		t.Fatalf("err = %v, want missing command", err)
	}
}

func TestGraph_ContainerWithoutImage(t *testing.T) {
	f := &File{Services: []ServiceConfig{{Name: "broker", Kind: "container"}}}
	if _, err := f.Graph(); err == nil || !strings.Contains(err.Error(), "image") {
		t.Fatalf("err = %v, want missing image", err)
	}
}

func TestGraph_InvalidMount(t *testing.T) {
	f := &File{Services: []ServiceConfig{{
		Name:   "canplayer",
		Kind:   "container",
		Image:  "telemetry/canplayer",
		Mounts: []string{"no-target"},
	}}}
	if _, err := f.Graph(); err == nil {
		t.Fatal("mount without target accepted")
	}
}

func TestApplyEnv_Durations(t *testing.T) {
	f := &File{Services: []ServiceConfig{{Name: "broker", Kind: "process", Command: "mosquitto"}}}
	env := map[string]string{
		"CONVOY_GRACE_PERIOD":  "3s",
		"CONVOY_READY_TIMEOUT": "90s",
	}

	if err := f.applyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatal(err)
	}
	if f.GracePeriod.Duration != 3*time.Second {
		t.Errorf("grace = %v", f.GracePeriod.Duration)
	}
	if f.ReadyTimeout.Duration != 90*time.Second {
		t.Errorf("ready timeout = %v", f.ReadyTimeout.Duration)
	}
}

func TestApplyEnv_PortOverride(t *testing.T) {
	f, err := Parse([]byte(samplePipeline))
	if err != nil {
		t.Fatal(err)
	}

	env := map[string]string{"CONVOY_PORT_BROKER": "11883"}
	if err := f.applyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatal(err)
	}

	broker := f.Services[0]
	if broker.Port != 11883 {
		t.Errorf("claimed port = %d", broker.Port)
	}
	if broker.Ready.Port != 11883 {
		t.Errorf("ready port = %d, should follow the claimed port", broker.Ready.Port)
	}
	if broker.Ports[0] != "11883:1883" {
		t.Errorf("binding = %q, container side must stay on 1883", broker.Ports[0])
	}
}

func TestApplyEnv_PortNameMapping(t *testing.T) {
	// Dashes in service names map to underscores in the variable name.
	f, err := Parse([]byte(samplePipeline))
	if err != nil {
		t.Fatal(err)
	}

	env := map[string]string{"CONVOY_PORT_CAN_FEEDER": "4000"}
	if err := f.applyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatal(err)
	}
	if f.Services[2].Port != 4000 {
		t.Errorf("can-feeder port = %d", f.Services[2].Port)
	}
}

func TestApplyEnv_InvalidPort(t *testing.T) {
	f, err := Parse([]byte(samplePipeline))
	if err != nil {
		t.Fatal(err)
	}

	env := map[string]string{"CONVOY_PORT_BROKER": "not-a-port"}
	if err := f.applyEnv(func(k string) string { return env[k] }); err == nil {
		t.Fatal("invalid port value accepted")
	}
}
