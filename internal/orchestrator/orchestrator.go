// Package orchestrator sequences a run: configuration validation, agent
// startup, joint execution, and the multi-stage graceful shutdown. It owns
// the event bus and the resource tracker, and it is the only component
// permitted to instruct global shutdown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cwithey/troupe/internal/agent"
	"github.com/cwithey/troupe/internal/bus"
	"github.com/cwithey/troupe/internal/config"
	"github.com/cwithey/troupe/internal/llm"
	"github.com/cwithey/troupe/internal/resource"
	"github.com/cwithey/troupe/internal/workspace"
)

// Shutdown pauses. The first lets in-flight publishes land before the
// queue drain; the second catches final events from stopped agents.
const (
	shutdownPause      = 500 * time.Millisecond
	finalShutdownPause = 200 * time.Millisecond
)

// ErrInvalidConfig is returned when validation rejects the run config.
var ErrInvalidConfig = errors.New("invalid configuration")

// Orchestrator drives one run end to end.
type Orchestrator struct {
	cfg       config.Config
	bus       *bus.Bus
	tracker   *resource.Tracker
	generator llm.Generator
	logger    zerolog.Logger

	shutdownOnce sync.Once

	mu       sync.Mutex
	agents   []*agent.Agent
	stopping bool
	failure  error
}

// New creates an orchestrator owning a fresh bus and tracker.
func New(cfg config.Config, generator llm.Generator, logger zerolog.Logger) *Orchestrator {
	b := bus.New(logger)
	limits := resource.Limits{
		MaxCostUSD: cfg.Constraints.MaxCostUSD,
		MaxRuntime: time.Duration(cfg.Constraints.MaxRuntimeMin * float64(time.Minute)),
	}
	return &Orchestrator{
		cfg:       cfg,
		bus:       b,
		tracker:   resource.NewTracker(limits, b, logger),
		generator: generator,
		logger:    logger.With().Str("module", "orchestrator").Logger(),
	}
}

// Bus exposes the run's event bus, for observers such as the TUI monitor.
func (o *Orchestrator) Bus() *bus.Bus {
	return o.bus
}

// Tracker exposes the run's resource tracker.
func (o *Orchestrator) Tracker() *resource.Tracker {
	return o.tracker
}

// setFailure records the first failure for the run.
func (o *Orchestrator) setFailure(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failure == nil {
		o.failure = err
	}
}

// Failure returns the recorded run failure, if any.
func (o *Orchestrator) Failure() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failure
}

// Run executes the full run lifecycle and blocks until shutdown completes.
// It returns an error when the config is invalid, an agent fails, or a
// resource limit forced the run down.
func (o *Orchestrator) Run(ctx context.Context) error {
	busCtx, busCancel := context.WithCancel(context.Background())
	defer busCancel()
	busDone := make(chan struct{})
	go func() {
		o.bus.Run(busCtx)
		close(busDone)
	}()

	o.registerHandlers()

	o.bus.Publish(bus.NewEvent(bus.EventSystemStart, o.cfg.RunID, map[string]any{
		"team_goal":   o.cfg.TeamGoal,
		"agent_count": countAgents(o.cfg),
	}))

	valid, problems := config.Validate(o.cfg)
	o.bus.Publish(bus.NewEvent(bus.EventConfigValidated, o.cfg.RunID, map[string]any{
		"valid":  valid,
		"errors": problems,
	}))
	if !valid {
		for _, p := range problems {
			o.logger.Error().Str("problem", p).Msg("configuration invalid")
		}
		o.setFailure(fmt.Errorf("%w: %d problems", ErrInvalidConfig, len(problems)))
		o.Shutdown("invalid configuration")
		o.awaitBus(busDone, busCancel)
		return o.Failure()
	}

	ws, err := workspace.New(o.cfg.OutputDir, o.cfg.Workspace.MaxFileSize, o.cfg.Workspace.CommandTimeout)
	if err != nil {
		o.setFailure(err)
		o.Shutdown("workspace setup failed")
		o.awaitBus(busDone, busCancel)
		return o.Failure()
	}

	manifest, err := BuildManifest(o.cfg)
	if err != nil {
		o.setFailure(err)
		o.Shutdown("manifest build failed")
		o.awaitBus(busDone, busCancel)
		return o.Failure()
	}

	agents := CreateAgents(o.cfg, manifest, agent.Params{
		RunID:        o.cfg.RunID,
		Bus:          o.bus,
		Tracker:      o.tracker,
		Generator:    o.generator,
		Workspace:    ws,
		Model:        o.cfg.Model.Name,
		MaxTokens:    4096,
		PollInterval: o.cfg.Timeouts.PollInterval,

		ExternalDependencyTimeout: o.cfg.Timeouts.ExternalDependency,
		DeadlockBreak:             o.cfg.Timeouts.DeadlockBreak,
	}, o.logger)

	// Shutdown iterates the agent list from other goroutines, so the write
	// happens under the lock. A shutdown that began before this point never
	// saw these agents; stop them here so they exit immediately.
	o.mu.Lock()
	o.agents = agents
	stopping := o.stopping
	o.mu.Unlock()
	if stopping {
		for _, a := range agents {
			a.Stop()
		}
	}

	stopSignal := watchStopFile(ctx, o.cfg.OutputDir, o.logger)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopSignal:
			o.logger.Info().Msg("stop file detected")
			o.Shutdown("stop requested")
		}
	}()

	o.logger.Info().Int("agents", len(agents)).Msg("starting agents")

	var wg sync.WaitGroup
	agentErrs := make(chan error, len(agents))
	for _, a := range agents {
		wg.Add(1)
		go func(a *agent.Agent) {
			defer wg.Done()
			if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				agentErrs <- fmt.Errorf("agent %s: %w", a.ID(), err)
			}
		}(a)
	}
	agentsDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(agentsDone)
	}()

	// The first unhandled agent error aborts the run; the shutdown stops
	// the remaining agents rather than waiting for them to finish.
	select {
	case err := <-agentErrs:
		o.logger.Error().Err(err).Msg("agent failed, aborting run")
		o.setFailure(err)
		o.Shutdown("agent failure")
		<-agentsDone
		o.awaitBus(busDone, busCancel)
		return o.Failure()
	case <-agentsDone:
	}

	select {
	case err := <-agentErrs:
		o.logger.Error().Err(err).Msg("agent failed")
		o.setFailure(err)
		o.Shutdown("agent failure")
		o.awaitBus(busDone, busCancel)
		return o.Failure()
	default:
	}

	summary := o.tracker.GetSummary()
	o.logger.Info().
		Float64("elapsed_seconds", summary.ElapsedSeconds.Current).
		Float64("cost_usd", summary.Cost.Current).
		Float64("cost_percent", summary.Cost.Percent).
		Int64("prompt_tokens", summary.Tokens.Prompt).
		Int64("completion_tokens", summary.Tokens.Completion).
		Msg("run summary")

	o.Shutdown("completed")
	o.awaitBus(busDone, busCancel)
	return o.Failure()
}

// Shutdown performs the five-stage graceful shutdown. It is idempotent:
// only the first invocation in a run publishes the terminal sentinel.
//
// Stages: a short pause for in-flight publishes, a bounded queue drain,
// cooperative agent stop, a second pause plus bounded drain for the final
// events agents emit while stopping, and the unconditional terminal
// shutdown sentinel.
func (o *Orchestrator) Shutdown(reason string) {
	o.shutdownOnce.Do(func() {
		o.logger.Info().Str("reason", reason).Msg("shutdown initiated")

		o.mu.Lock()
		o.stopping = true
		o.mu.Unlock()

		time.Sleep(shutdownPause)

		if !o.bus.Drain(o.cfg.Timeouts.Drain) {
			o.logger.Warn().
				Int64("pending", o.bus.Pending()).
				Msg("delivery queue not empty after drain timeout, proceeding")
		}

		// Snapshot under the lock; Run may still be constructing agents
		// when a shutdown arrives from a signal or the stop file.
		o.mu.Lock()
		agents := make([]*agent.Agent, len(o.agents))
		copy(agents, o.agents)
		o.mu.Unlock()
		for _, a := range agents {
			a.Stop()
		}

		time.Sleep(finalShutdownPause)
		if !o.bus.Drain(o.cfg.Timeouts.FinalDrain) {
			o.logger.Warn().
				Int64("pending", o.bus.Pending()).
				Msg("delivery queue not empty after final drain, proceeding")
		}

		o.bus.Publish(bus.NewEvent(bus.EventSystemShutdown, o.cfg.RunID, map[string]any{
			"reason": reason,
		}))
	})
}

// registerHandlers wires the orchestrator's own event subscriptions.
// Handlers run on the bus delivery goroutine; anything that needs the
// queue drained (such as Shutdown) must hop to its own goroutine.
func (o *Orchestrator) registerHandlers() {
	o.bus.Subscribe(bus.EventResourceLimitWarning, func(ev bus.Event) error {
		o.logger.Warn().
			Any("limit_type", ev.Payload["limit_type"]).
			Any("percentage", ev.Payload["percentage"]).
			Msg("resource limit warning")
		return nil
	})

	o.bus.Subscribe(bus.EventResourceLimitExceeded, func(ev bus.Event) error {
		kind, _ := ev.Payload["limit_type"].(string)
		o.setFailure(fmt.Errorf("resource limit exceeded: %s", kind))
		go o.Shutdown("resource limit exceeded: " + kind)
		return nil
	})

	o.bus.Subscribe(bus.EventSystemShutdown, func(ev bus.Event) error {
		o.logger.Info().Any("reason", ev.Payload["reason"]).Msg("shutdown complete")
		return nil
	})
}

// awaitBus waits for the delivery loop to exit after the shutdown sentinel,
// cancelling it outright if it somehow never does.
func (o *Orchestrator) awaitBus(busDone <-chan struct{}, busCancel context.CancelFunc) {
	select {
	case <-busDone:
	case <-time.After(o.cfg.Timeouts.Drain + o.cfg.Timeouts.FinalDrain + 5*time.Second):
		o.logger.Warn().Msg("delivery loop did not exit, cancelling")
		busCancel()
		<-busDone
	}
}

func countAgents(cfg config.Config) int {
	n := 0
	for _, g := range cfg.Agents {
		n += g.Count
	}
	return n
}
