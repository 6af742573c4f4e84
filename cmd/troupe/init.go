package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cwithey/troupe/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration",
	Long: `Init writes a commented starter configuration to the --config path
(troupe.yaml by default). It refuses to overwrite an existing file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteStarter(configPath); err != nil {
			return err
		}
		color.Green("wrote %s", configPath)
		color.White("edit the agent goals, then start with: troupe run")
		return nil
	},
}
