package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "troupe",
	Short: "Multi-agent orchestration runtime",
	Long: `Troupe runs a team of autonomous agents against a shared goal.

Each agent plans its goal into dependent tasks, executes them in a shared
workspace, and exchanges progress over an in-process event bus while global
cost and runtime budgets are enforced.

Start with:
  troupe init       # write a starter configuration
  troupe run        # run the configured team
  troupe run --watch  # run with a live terminal monitor`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "troupe.yaml", "path to the run configuration")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(versionCmd)
}
