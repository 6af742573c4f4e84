package main

import (
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cwithey/troupe/internal/config"
	"github.com/cwithey/troupe/internal/orchestrator"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Request a graceful shutdown of a running team",
	Long: `Stop drops a marker file into the configured output directory. The
running orchestrator notices it and performs the full graceful shutdown,
draining in-flight events before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		marker := filepath.Join(cfg.OutputDir, orchestrator.StopFileName)
		if err := os.WriteFile(marker, nil, 0o644); err != nil {
			return err
		}
		color.Green("stop requested (%s)", marker)
		return nil
	},
}
