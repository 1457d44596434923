// internal/commands/status.go
package voxeval

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/mwiater/voxeval/internal/logging"
	"github.com/mwiater/voxeval/internal/pipeline"
	"github.com/mwiater/voxeval/internal/report"
)

var statusAll bool

// statusCmd implements 'status', which prints each node's plan without
// executing anything.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which nodes are stale and why",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cfg == nil {
			return errors.New("configuration is not initialized")
		}
		plan, err := pipeline.New(*cfg, pipeline.WithLogger(logging.Component("pipeline"))).Status()
		if err != nil {
			return err
		}
		report.PrintPlan(cmd.OutOrStdout(), plan, statusAll)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVarP(&statusAll, "all", "a", false, "also list fresh nodes")
	rootCmd.AddCommand(statusCmd)
}
