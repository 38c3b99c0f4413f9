package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment-variable overrides, applied on top of a parsed file or a
// built-in pipeline. The deployment scripts exposed the same knobs
// (MQTT_PORT, DATABROKER_PORT, grace and poll intervals) as shell variables.
//
//	CONVOY_GRACE_PERIOD    duration   grace before force-termination
//	CONVOY_READY_TIMEOUT   duration   default readiness timeout
//	CONVOY_READY_INTERVAL  duration   default readiness poll interval
//	CONVOY_PORT_<NAME>     integer    claimed + probed port for service NAME
//	                                  (dashes in NAME become underscores)

// ApplyEnv mutates the file with any CONVOY_* overrides present in the
// process environment.
func (f *File) ApplyEnv() error {
	return f.applyEnv(os.Getenv)
}

func (f *File) applyEnv(getenv func(string) string) error {
	if v := getenv("CONVOY_GRACE_PERIOD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CONVOY_GRACE_PERIOD: %w", err)
		}
		f.GracePeriod = Duration{d}
	}
	if v := getenv("CONVOY_READY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CONVOY_READY_TIMEOUT: %w", err)
		}
		f.ReadyTimeout = Duration{d}
	}
	if v := getenv("CONVOY_READY_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CONVOY_READY_INTERVAL: %w", err)
		}
		f.ReadyInterval = Duration{d}
	}

	for i := range f.Services {
		sc := &f.Services[i]
		key := "CONVOY_PORT_" + strings.ToUpper(strings.ReplaceAll(sc.Name, "-", "_"))
		v := getenv(key)
		if v == "" {
			continue
		}
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("%s: invalid port %q", key, v)
		}
		retargetPort(sc, port)
	}
	return nil
}

// retargetPort moves a service and its probe to a new port: the claimed
// port, the readiness port if it matched, and the host side of a matching
// container binding.
func retargetPort(sc *ServiceConfig, port int) {
	old := sc.Port
	sc.Port = port
	if sc.Ready != nil && (sc.Ready.Port == old || sc.Ready.Port == 0) {
		sc.Ready.Port = port
	}
	for i, p := range sc.Ports {
		host, container, found := strings.Cut(p, ":")
		if host == strconv.Itoa(old) {
			if !found {
				// Bare form: the container side keeps listening on the
				// original port, only the host mapping moves.
				container = host
			}
			sc.Ports[i] = fmt.Sprintf("%d:%s", port, container)
		}
	}
}
