// internal/commands/run.go
package voxeval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mwiater/voxeval/internal/logging"
	"github.com/mwiater/voxeval/internal/pipeline"
	"github.com/mwiater/voxeval/internal/report"
	"github.com/mwiater/voxeval/internal/taskgraph"
	"github.com/mwiater/voxeval/internal/tui"
)

// errRunFailed makes the process exit non-zero when any node is not fresh.
var errRunFailed = errors.New("evaluation finished with failed or unfinished nodes")

var runDryRun bool

// runCmd implements 'run', which evaluates every stale node.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate datasets, re-running only work whose inputs changed",
	Long: `The 'run' command discovers datasets and profiles, plans which nodes are stale
against the fingerprint store, and executes them on a bounded worker pool.
Per-profile reports and the cross-profile summary are written to the results
directory together with run-status.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cfg == nil {
			return errors.New("configuration is not initialized")
		}
		log := logging.Component("pipeline")
		if runDryRun {
			plan, err := pipeline.New(*cfg, pipeline.WithLogger(log)).Status()
			if err != nil {
				return err
			}
			report.PrintPlan(cmd.OutOrStdout(), plan, false)
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var outcome *pipeline.Outcome
		work := func(ctx context.Context, obs taskgraph.Observer) error {
			var err error
			outcome, err = pipeline.New(*cfg, pipeline.WithLogger(log), pipeline.WithObserver(obs)).Run(ctx)
			return err
		}

		var err error
		if cfg.Progress {
			err = tui.Run(ctx, cmd.ErrOrStderr(), work)
		} else {
			err = work(ctx, nil)
		}
		if outcome == nil {
			return err
		}

		fresh, stale, failed := outcome.Result.Counts()
		logging.LogEvent("run %s finished: %d fresh, %d stale, %d failed", outcome.Status.RunID, fresh, stale, failed)

		out := cmd.OutOrStdout()
		report.PrintRunSummary(out, outcome.Status)
		if len(outcome.Summary.Rows) > 0 {
			fmt.Fprintln(out, report.RenderTable(outcome.Summary))
		}
		if err != nil {
			return err
		}
		if !outcome.Status.OK {
			return errRunFailed
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("progress", false, "show a live progress display")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print the stale nodes without executing them")
	rootCmd.AddCommand(runCmd)
}
