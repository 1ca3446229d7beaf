package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/studytrack/internal/storage"
	"github.com/spf13/cobra"
)

var (
	rebuildUser    string
	rebuildTimeout time.Duration
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild a user's statistics",
	Long: `Recompute every daily, monthly and yearly bucket of a user from their
finalized intervals and replace the stored buckets atomically.`,
	Example: `  studytrack rebuild --user 7f9c2a
  studytrack -c config.yaml rebuild --user 7f9c2a --timeout 2m`,
	RunE: runRebuild,
}

func init() {
	rebuildCmd.Flags().StringVar(&rebuildUser, "user", "", "User ID to rebuild (required)")
	rebuildCmd.Flags().DurationVar(&rebuildTimeout, "timeout", time.Minute, "Give up after this long")
	_ = rebuildCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
	defer cancel()

	if err := e.worker.Rebuild(ctx, rebuildUser); err != nil {
		_, _ = color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "❌ Rebuild failed: %v\n", err)
		return err
	}

	_, _ = color.New(color.FgGreen).Fprintf(os.Stdout, "✅ Stats rebuilt for %s\n", rebuildUser)

	cyan := color.New(color.FgCyan, color.Bold)
	for _, g := range []storage.Granularity{storage.Yearly, storage.Monthly} {
		buckets, err := e.store.Stats().List(ctx, rebuildUser, g)
		if err != nil {
			return fmt.Errorf("failed to list %s buckets: %w", g, err)
		}

		_, _ = cyan.Printf("\n[%s]\n", g)
		if len(buckets) == 0 {
			fmt.Println("  (none)")
			continue
		}
		for _, b := range buckets {
			fmt.Printf("  %-10s %8s  %d intervals\n", b.Period, time.Duration(b.TotalSeconds)*time.Second, b.IntervalCount)
		}
	}

	return nil
}
