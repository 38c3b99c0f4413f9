package main

import (
	"time"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	file          string
	grace         time.Duration
	readyTimeout  time.Duration
	readyInterval time.Duration
	metricsAddr   string
	quiet         bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "convoy",
		Short: "Supervisor for the vehicle-telemetry pipeline",
		Long: `convoy starts and supervises the services of a telemetry pipeline,
processes or containers, honoring dependency order and readiness checks,
and guarantees all of them are stopped exactly once on exit.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.file, "file", "f", "", "pipeline YAML file (overrides the built-in pipeline)")
	pf.DurationVar(&flags.grace, "grace-period", 0, "time services get to stop voluntarily before being killed")
	pf.DurationVar(&flags.readyTimeout, "ready-timeout", 0, "default readiness probe timeout")
	pf.DurationVar(&flags.readyInterval, "ready-interval", 0, "default readiness poll interval")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (e.g. :9090)")
	pf.BoolVarP(&flags.quiet, "quiet", "q", false, "suppress the event stream, print only the final summary")

	root.AddCommand(newUpCmd(flags))
	root.AddCommand(newPipelinesCmd())

	return root
}
