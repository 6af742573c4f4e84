package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cwithey/troupe/internal/bus"
	"github.com/cwithey/troupe/internal/config"
	"github.com/cwithey/troupe/internal/llm"
	"github.com/cwithey/troupe/internal/logging"
	"github.com/cwithey/troupe/internal/orchestrator"
	"github.com/cwithey/troupe/internal/state"
	"github.com/cwithey/troupe/internal/tui"
)

var runWatch bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured agent team",
	Long: `Run loads the configuration, starts every configured agent, and
blocks until the team finishes or a resource limit forces shutdown.

The process exits non-zero when the configuration is invalid, an agent
fails, or a cost/runtime limit is breached.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTeam()
	},
}

func init() {
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "show a live terminal monitor")
}

func runTeam() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.RunID = uuid.New().String()

	logger, closeLog, err := logging.Setup(logging.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console && !runWatch,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info().Str("run_id", cfg.RunID).Str("config", configPath).Msg("run starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen, err := llm.NewAnthropicClient(ctx, llm.ClientConfig{
		Model:      cfg.Model.Name,
		APIKey:     cfg.Model.APIKey,
		UseBedrock: cfg.Model.UseBedrock,
		AWSRegion:  cfg.Model.AWSRegion,
		AWSProfile: cfg.Model.AWSProfile,
	})
	if err != nil {
		return err
	}

	o := orchestrator.New(cfg, gen, logger)
	started := time.Now()

	// An interrupt asks for the graceful shutdown protocol rather than
	// tearing the process down mid-publish.
	runDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			o.Shutdown("interrupted")
		case <-runDone:
		}
	}()

	var runErr error
	if runWatch {
		monitor := tui.NewMonitor(o.Bus(), o.Tracker())
		defer monitor.Close()

		go func() {
			runErr = o.Run(ctx)
			close(runDone)
		}()
		if _, err := tea.NewProgram(monitor).Run(); err != nil {
			logger.Warn().Err(err).Msg("monitor exited with error")
		}
		<-runDone
	} else {
		runErr = o.Run(ctx)
		close(runDone)
	}

	saveRunRecord(o, cfg, started, logger)
	printRunSummary(o, runErr)
	return runErr
}

// saveRunRecord persists the run outcome; failures are logged, never fatal.
func saveRunRecord(o *orchestrator.Orchestrator, cfg config.Config, started time.Time, logger zerolog.Logger) {
	store, err := state.Open(state.DefaultPath())
	if err != nil {
		logger.Warn().Err(err).Msg("run database unavailable, record not saved")
		return
	}
	defer store.Close()

	reason := ""
	if shutdowns := o.Bus().HistoryByType(bus.EventSystemShutdown); len(shutdowns) > 0 {
		reason, _ = shutdowns[0].Payload["reason"].(string)
	}
	summary := o.Tracker().GetSummary()

	rec := state.RunRecord{
		RunID:            cfg.RunID,
		ConfigPath:       configPath,
		StartedAt:        started,
		FinishedAt:       time.Now(),
		Reason:           reason,
		CostUSD:          summary.Cost.Current,
		PromptTokens:     summary.Tokens.Prompt,
		CompletionTokens: summary.Tokens.Completion,
		AgentCount:       len(o.Bus().HistoryByType(bus.EventAgentStarted)),
		TasksCompleted:   len(o.Bus().HistoryByType(bus.EventTaskCompleted)),
		TasksFailed:      len(o.Bus().HistoryByType(bus.EventTaskFailed)),
	}
	if err := store.SaveRun(rec); err != nil {
		logger.Warn().Err(err).Msg("saving run record failed")
	}
}

func printRunSummary(o *orchestrator.Orchestrator, runErr error) {
	summary := o.Tracker().GetSummary()
	completed := len(o.Bus().HistoryByType(bus.EventTaskCompleted))
	failed := len(o.Bus().HistoryByType(bus.EventTaskFailed))

	fmt.Printf("tasks: %d completed, %d failed\n", completed, failed)
	fmt.Printf("cost: $%.4f  tokens: %d  elapsed: %.0fs\n",
		summary.Cost.Current, summary.Tokens.Total, summary.ElapsedSeconds.Current)

	if runErr != nil {
		color.Red("run failed: %v", runErr)
	} else {
		color.Green("run completed")
	}
}
