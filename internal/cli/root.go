package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "remedy",
	Short: "remedy: a remediation workflow engine",
	Long: `remedy watches a work-item tracker for open items and drives each one
through a phased remediation pipeline: analysis, classification,
implementation and reporting. Every run is tracked as a session with a
strict lifecycle, per-phase timeouts and bounded retries.

Configuration is read from a YAML file (see --config) with REMEDY_*
environment overrides.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}
