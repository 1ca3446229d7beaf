package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one liveness sweep",
	Long: `Abandon every live interval whose last heartbeat is older than the
configured threshold, then roll the finalized intervals up into the stats.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()

	abandoned, err := e.sweeper().SweepOnce(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	applied, err := e.worker.ProcessPending(ctx)
	if err != nil {
		return fmt.Errorf("rollup failed: %w", err)
	}

	fmt.Printf("Abandoned %d stale interval(s), rolled up %d interval(s)\n", abandoned, applied)
	return nil
}
