package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telemetrylab/convoy/internal/pipeline"
)

func newPipelinesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipelines",
		Short: "List the built-in pipeline definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range pipeline.Names() {
				f, err := pipeline.Build(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-18s %d services\n", name, len(f.Services))
			}
			return nil
		},
	}
}
