package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cwithey/troupe/internal/state"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := state.Open(state.DefaultPath())
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListRuns(runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}

		for _, r := range runs {
			line := fmt.Sprintf("%s  %s  %d agents  %d ok / %d failed  $%.4f  %s",
				r.StartedAt.Local().Format("2006-01-02 15:04"),
				shortID(r.RunID),
				r.AgentCount, r.TasksCompleted, r.TasksFailed,
				r.CostUSD, r.Reason)
			if r.Reason == "completed" {
				color.Green("%s", line)
			} else {
				color.Yellow("%s", line)
			}
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
