// internal/commands/root.go
package voxeval

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mwiater/voxeval/internal/appconfig"
	"github.com/mwiater/voxeval/internal/logging"
)

var (
	cfgFile       string
	envFile       string
	currentConfig *appconfig.Config
	appVersion    = "dev"
	appCommit     = "none"
	appDate       = "unknown"
)

// flagKeys maps persistent flag names to configuration keys.
var flagKeys = map[string]string{
	"datasetsDir":   "datasetsDir",
	"workDir":       "workDir",
	"resultsDir":    "resultsDir",
	"stateDir":      "stateDir",
	"jobs":          "jobs",
	"fingerprint":   "fingerprint",
	"strictness":    "strictness",
	"caseSensitive": "caseSensitive",
	"dataset":       "datasets",
	"profile":       "profiles",
	"engine":        "engine.binary",
	"timeout":       "engine.timeout",
	"debug":         "debug",
	"logFile":       "logFile",
	"logLevel":      "logLevel",
	"progress":      "progress",
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "voxeval",
	Short: "Incremental evaluation of speech recognition profiles",
	Long: `voxeval runs every profile of every dataset against its recorded samples,
scores transcripts and intents against ground truth, and writes per-profile and
summary reports. Work whose inputs have not changed since the last run is skipped.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := appconfig.LoadEnvFile(envFile); err != nil {
			return err
		}

		v := viper.New()
		for name, key := range flagKeys {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		cfg, err := appconfig.LoadFrom(v, cfgFile)
		if err != nil {
			return err
		}
		currentConfig = &cfg

		var console io.Writer = cmd.ErrOrStderr()
		if cfg.Progress {
			console = io.Discard
		}
		if err := logging.Init(logging.Options{Path: cfg.LogFilePath(), Level: cfg.LogLevelName(), Console: console}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.Version = versionString()

	err := rootCmd.Execute()
	_ = logging.Close()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default "+appconfig.DefaultConfigPath+")")
	pf.StringVar(&envFile, "env", ".env", "optional .env file loaded before the config")

	pf.String("datasetsDir", "", "directory holding one subdirectory per dataset")
	pf.String("workDir", "", "directory where profiles are staged and trained")
	pf.String("resultsDir", "", "directory for transcripts, scores and reports")
	pf.String("stateDir", "", "directory for the fingerprint store")
	pf.IntP("jobs", "j", 0, "maximum concurrent nodes (0 = number of CPUs)")
	pf.String("fingerprint", "", "file fingerprint mode: hash or mtime")
	pf.String("strictness", "", "intent matching: tolerant or strict")
	pf.Bool("caseSensitive", false, "compare words and slot values case-sensitively")
	pf.StringSlice("dataset", nil, "only evaluate these datasets (repeatable)")
	pf.StringSlice("profile", nil, "only evaluate these profiles (repeatable)")
	pf.String("engine", "", "default engine executable for profiles without overrides")
	pf.Int("timeout", 0, "per-invocation engine timeout in seconds (0 = none)")
	pf.Bool("debug", false, "enable debug logging")
	pf.String("logFile", "", "path to the log file")
	pf.String("logLevel", "", "log level: trace, debug, info, warn or error")
}

// GetConfig returns the loaded application configuration for other packages.
func GetConfig() *appconfig.Config {
	return currentConfig
}

// SetVersionInfo allows the main package to inject build-time variables.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", appVersion, appCommit, appDate)
}
