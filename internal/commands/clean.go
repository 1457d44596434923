// internal/commands/clean.go
package voxeval

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwiater/voxeval/internal/logging"
	"github.com/mwiater/voxeval/internal/pipeline"
)

var cleanResults bool

// cleanCmd implements 'clean', which discards the fingerprint store so the
// next run recomputes everything.
var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Discard the fingerprint store (and optionally all results)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cfg == nil {
			return errors.New("configuration is not initialized")
		}
		if err := pipeline.New(*cfg, pipeline.WithLogger(logging.Component("pipeline"))).Clean(cleanResults); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint store reset: %s\n", cfg.StatePath())
		if cleanResults {
			fmt.Fprintf(cmd.OutOrStdout(), "Results removed: %s\n", cfg.ResultsPath())
		}
		return nil
	},
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanResults, "results", false, "also remove the results directory")
	rootCmd.AddCommand(cleanCmd)
}
