package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cwithey/troupe/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the run configuration",
	Long: `Validate loads the configuration and reports every problem with a
path-qualified message, without starting any agent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		valid, problems := config.Validate(cfg)
		if !valid {
			for _, p := range problems {
				color.Red("  %s", p)
			}
			return fmt.Errorf("%s: %d problems", configPath, len(problems))
		}

		color.Green("%s is valid (%d agents)", configPath, countConfiguredAgents(cfg))
		return nil
	},
}

func countConfiguredAgents(cfg config.Config) int {
	n := 0
	for _, g := range cfg.Agents {
		n += g.Count
	}
	return n
}
