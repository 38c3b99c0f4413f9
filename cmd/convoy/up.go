package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telemetrylab/convoy/internal/config"
	"github.com/telemetrylab/convoy/internal/eventlog"
	"github.com/telemetrylab/convoy/internal/launcher"
	"github.com/telemetrylab/convoy/internal/metrics"
	"github.com/telemetrylab/convoy/internal/pipeline"
	"github.com/telemetrylab/convoy/internal/supervisor"
)

func newUpCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "up [pipeline]",
		Short: "Start a pipeline and supervise it until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "can-local"
			if len(args) == 1 {
				name = args[0]
			}
			return runUp(cmd.Context(), flags, name)
		},
	}
}

func runUp(ctx context.Context, flags *rootFlags, name string) error {
	file, err := resolvePipeline(flags, name)
	if err != nil {
		return err
	}
	if err := file.ApplyEnv(); err != nil {
		return err
	}
	graph, err := file.Graph()
	if err != nil {
		return err
	}

	log := eventlog.New()

	var m *metrics.Set
	if flags.metricsAddr != "" {
		m = metrics.New()
		m.Serve(flags.metricsAddr)
	}

	cfg := supervisor.Config{
		GracePeriod:   file.GracePeriod.Duration,
		ReadyTimeout:  file.ReadyTimeout.Duration,
		ReadyInterval: file.ReadyInterval.Duration,
	}
	if flags.grace > 0 {
		cfg.GracePeriod = flags.grace
	}
	if flags.readyTimeout > 0 {
		cfg.ReadyTimeout = flags.readyTimeout
	}
	if flags.readyInterval > 0 {
		cfg.ReadyInterval = flags.readyInterval
	}
	cfg.PortWaitAttempts = file.PortWaitAttempts
	cfg.PortWaitInterval = file.PortWaitInterval.Duration

	sup := supervisor.New(launcher.New(), log, m, cfg)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The bridge must be up before the first service starts: a signal
	// arriving mid-startup still tears down whatever is registered.
	bridge := supervisor.InstallBridge(cancel, log)
	defer bridge.Uninstall()

	if !flags.quiet {
		renderCtx, stopRender := context.WithCancel(context.Background())
		defer stopRender()
		go renderEvents(renderCtx, log)
	}

	res, err := sup.Run(runCtx, graph)
	if err != nil {
		return err
	}

	printSummary(res)

	if res.TeardownErr != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", res.TeardownErr)
	}
	if res.Failed() {
		return fmt.Errorf("pipeline %q failed: %v", file.Pipeline, res.Err)
	}
	return nil
}

func resolvePipeline(flags *rootFlags, name string) (*config.File, error) {
	if flags.file != "" {
		return config.Load(flags.file)
	}
	return pipeline.Build(name)
}

func printSummary(res *supervisor.RunResult) {
	fmt.Fprintln(os.Stderr, "run summary:")
	for _, svc := range res.Services {
		switch {
		case svc.Err != nil:
			fmt.Fprintf(os.Stderr, "  %-16s failed: %v\n", svc.ID, svc.Err)
		case svc.Ready:
			fmt.Fprintf(os.Stderr, "  %-16s ok\n", svc.ID)
		case svc.Started:
			fmt.Fprintf(os.Stderr, "  %-16s started (not ready)\n", svc.ID)
		default:
			fmt.Fprintf(os.Stderr, "  %-16s not started\n", svc.ID)
		}
	}
}
