package config

import (
	"fmt"

	"github.com/cwithey/troupe/pkg/models"
)

// Validate checks the configuration and returns whether it is usable along
// with path-qualified error messages for everything wrong with it.
// All problems are reported, not just the first.
func Validate(cfg Config) (bool, []string) {
	var errs []string

	if len(cfg.Agents) == 0 {
		errs = append(errs, "agents: at least one agent group is required")
	}
	for i, g := range cfg.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		if !models.AgentType(g.Type).Valid() {
			errs = append(errs, fmt.Sprintf("%s.type: %q is not a valid agent type (builder, operator)", prefix, g.Type))
		}
		if g.Count < 1 {
			errs = append(errs, fmt.Sprintf("%s.count: must be at least 1, got %d", prefix, g.Count))
		}
		if g.Goal == "" {
			errs = append(errs, fmt.Sprintf("%s.goal: is required", prefix))
		}
		if g.Temperature < 0 || g.Temperature > 1 {
			errs = append(errs, fmt.Sprintf("%s.temperature: must be between 0.0 and 1.0, got %g", prefix, g.Temperature))
		}
		if g.MaxTokens < 0 {
			errs = append(errs, fmt.Sprintf("%s.max_tokens: must not be negative, got %d", prefix, g.MaxTokens))
		}
	}

	if cfg.Constraints.MaxCostUSD < 0 {
		errs = append(errs, fmt.Sprintf("constraints.max_cost_usd: must not be negative, got %g", cfg.Constraints.MaxCostUSD))
	}
	if cfg.Constraints.MaxRuntimeMin < 0 {
		errs = append(errs, fmt.Sprintf("constraints.max_runtime_min: must not be negative, got %g", cfg.Constraints.MaxRuntimeMin))
	}

	if cfg.OutputDir == "" {
		errs = append(errs, "output_dir: is required")
	}

	if cfg.Timeouts.ExternalDependency <= 0 {
		errs = append(errs, "timeouts.external_dependency: must be positive")
	}
	if cfg.Timeouts.DeadlockBreak <= 0 {
		errs = append(errs, "timeouts.deadlock_break: must be positive")
	}
	if cfg.Timeouts.DeadlockBreak <= cfg.Timeouts.ExternalDependency {
		errs = append(errs, "timeouts.deadlock_break: must be larger than timeouts.external_dependency")
	}
	if cfg.Timeouts.PollInterval <= 0 {
		errs = append(errs, "timeouts.poll_interval: must be positive")
	}

	if cfg.Model.Name == "" {
		errs = append(errs, "model.name: is required")
	}

	return len(errs) == 0, errs
}
