package voxeval

import (
	"github.com/spf13/cobra"

	"github.com/mwiater/voxeval/internal/appconfig"
)

// showConfigCmd implements the 'show-config' command, which displays the current configuration settings.
var showConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Show config settings",
	Long:  `Show config settings ensuring that the config file, environment and flags are merged properly.`,
	Run: func(cmd *cobra.Command, args []string) {
		appconfig.ShowConfig(cmd.OutOrStdout(), GetConfig())
	},
}

func init() {
	rootCmd.AddCommand(showConfigCmd)
}
