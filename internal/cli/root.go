// Package cli implements the stockdash command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logPretty  bool
)

var rootCmd = &cobra.Command{
	Use:   "stockdash",
	Short: "stockdash – personal stock research dashboard backend",
	Long: `Serves market data, quality screening, macro context and cached
analysis behind a strict daily call budget and monthly cost ledger.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (defaults apply when omitted)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "pretty", false, "Human-readable log output")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(usageCmd)
}
