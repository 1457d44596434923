package appconfig

import (
	"fmt"
	"io"

	"github.com/k0kubun/pp"
)

// ShowConfig prints the current configuration summary followed by a full dump.
func ShowConfig(out io.Writer, cfg *Config) {
	if cfg == nil {
		fmt.Fprintln(out, "configuration is not initialized")
		return
	}
	if cfg.ConfigPath == "" {
		fmt.Fprintln(out, "No config file loaded (using defaults).")
	} else {
		fmt.Fprintf(out, "Config file: %s\n\n", cfg.ConfigPath)
	}

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintf(out, "  Datasets dir:  %s\n", cfg.DatasetsPath())
	fmt.Fprintf(out, "  Work dir:      %s\n", cfg.WorkPath())
	fmt.Fprintf(out, "  Results dir:   %s\n", cfg.ResultsPath())
	fmt.Fprintf(out, "  State dir:     %s\n", cfg.StatePath())
	fmt.Fprintf(out, "  Jobs:          %d\n", cfg.JobCount())
	fmt.Fprintf(out, "  Fingerprint:   %s\n", cfg.FingerprintMode())
	fmt.Fprintf(out, "  Strictness:    %s\n", cfg.StrictnessLevel())
	fmt.Fprintf(out, "  Engine:        %s\n", cfg.EngineBinary())
	fmt.Fprintf(out, "  Log file:      %s\n", cfg.LogFilePath())
	fmt.Fprintln(out)

	pp.ColoringEnabled = false
	pp.Fprintln(out, cfg)
}
