// Command convoy launches a vehicle-telemetry pipeline: it starts the
// pipeline's services (MQTT broker, VSS databroker, feeders, bridges and
// exporters) as native processes or Docker containers with dependency
// ordering and readiness gates, then supervises them until it is told to
// stop, at which point every started unit is torn down exactly once.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "convoy: %v\n", err)
		os.Exit(1)
	}
}
