package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dams-sync/internal/models"
	"dams-sync/internal/services"
	"dams-sync/pkg/logging"
)

var (
	runTime              string
	runUpdateAncillary   bool
	runUpdateDestination bool
	runCleanAncillary    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one synchronization over the configured time window",
	Long: `Run the ancillary, transform and cleanup stages once.

The window ends at --time (default: now) and spans time.time_period steps of
time.time_frequency. --time accepts "YYYY-MM-DD HH:MM", RFC3339 or phrases
such as "yesterday 6am".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		anchor, err := parseAnchor(runTime, time.Now())
		if err != nil {
			return err
		}

		a, err := bootstrap(ctx, "damsync-run")
		if err != nil {
			return err
		}
		defer a.close()

		applyFlagOverrides(cmd, &a.cfg.Flags)

		syncer := services.NewSyncService(a.cfg, a.repo, a.registry, a.logger, a.metrics)
		report, err := syncer.Run(ctx, anchor)
		if report != nil {
			printReport(report)
		}
		if err != nil {
			return err
		}

		a.logger.Info(ctx, "[RUN_COMPLETE] Synchronization finished", logging.Fields{
			"run_id":   report.RunID,
			"duration": report.Duration,
		})
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runTime, "time", "t", "", "Run anchor time (default: now)")
	runCmd.Flags().BoolVar(&runUpdateAncillary, "update-ancillary", false, "Refetch ancillary files that already exist")
	runCmd.Flags().BoolVar(&runUpdateDestination, "update-destination", false, "Rewrite destination files that already exist")
	runCmd.Flags().BoolVar(&runCleanAncillary, "clean-ancillary", false, "Clear the ancillary root after the run")
	rootCmd.AddCommand(runCmd)
}

// applyFlagOverrides lets explicitly set command line flags win over the
// settings file flags section
func applyFlagOverrides(cmd *cobra.Command, flags *models.RunFlags) {
	if cmd.Flags().Changed("update-ancillary") {
		flags.UpdateAncillary = runUpdateAncillary
	}
	if cmd.Flags().Changed("update-destination") {
		flags.UpdateDestination = runUpdateDestination
	}
	if cmd.Flags().Changed("clean-ancillary") {
		flags.CleanAncillary = runCleanAncillary
	}
}

func printReport(report *services.RunReport) {
	fmt.Printf("Run %s: %s in %s\n", report.RunID, report.Result, report.Duration)
	for _, stage := range []*services.StageReport{report.Ancillary, report.Transform} {
		if stage == nil {
			continue
		}
		fmt.Printf("  %-10s", stage.Stage)
		for _, status := range models.AllStatuses {
			if n := stage.Count(status); n > 0 {
				fmt.Printf(" %s=%d", status, n)
			}
		}
		fmt.Println()
	}
	if report.Cleanup != nil && !report.Cleanup.Skipped {
		fmt.Printf("  %-10s files=%d dirs=%d\n", services.StageCleanup, report.Cleanup.FilesRemoved, report.Cleanup.DirsRemoved)
	}
	if report.Error != "" {
		fmt.Printf("  error: %s\n", report.Error)
	}
}

// runOnce is shared with serve; it never returns the in-progress error
func runOnce(ctx context.Context, syncer *services.SyncService, logger *logging.StructuredLogger) {
	if _, err := syncer.TryRun(ctx, time.Now()); err != nil {
		logger.Warn(ctx, "[SCHEDULE_RUN] Scheduled run did not succeed", logging.Fields{
			"error": err.Error(),
		})
	}
}
