// Package config handles configuration loading and validation for troupe.
// Run configs are YAML or JSON files loaded through viper with TROUPE_*
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// AgentGroup declares a group of identical agents to launch.
type AgentGroup struct {
	// Type is "builder" or "operator".
	Type string `mapstructure:"type" yaml:"type"`
	// Count is how many agents of this group to launch.
	Count int `mapstructure:"count" yaml:"count"`
	// Goal is the natural-language goal given to each agent in the group.
	Goal string `mapstructure:"goal" yaml:"goal"`
	// Model optionally overrides the default generation model.
	Model string `mapstructure:"model" yaml:"model,omitempty"`
	// Temperature controls generation randomness (0.0-1.0).
	Temperature float64 `mapstructure:"temperature" yaml:"temperature,omitempty"`
	// MaxTokens caps tokens per generation call.
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
}

// Constraints holds the global resource ceilings for a run.
type Constraints struct {
	// MaxCostUSD is the maximum cumulative spend. Zero means unlimited.
	MaxCostUSD float64 `mapstructure:"max_cost_usd" yaml:"max_cost_usd"`
	// MaxRuntimeMin is the maximum wall-clock runtime in minutes.
	// Zero means unlimited.
	MaxRuntimeMin float64 `mapstructure:"max_runtime_min" yaml:"max_runtime_min"`
}

// Timeouts holds the independently configurable wait ceilings.
type Timeouts struct {
	// ExternalDependency is how long a locally-ready task waits on
	// cross-agent dependencies before they are dropped.
	ExternalDependency time.Duration `mapstructure:"external_dependency" yaml:"external_dependency"`
	// DeadlockBreak is the global ceiling after which a still-pending
	// task has all its dependencies forcibly cleared.
	DeadlockBreak time.Duration `mapstructure:"deadlock_break" yaml:"deadlock_break"`
	// PollInterval is the scheduler's delay between empty passes.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// Drain bounds the first shutdown queue-drain stage.
	Drain time.Duration `mapstructure:"drain" yaml:"drain"`
	// FinalDrain bounds the second shutdown queue-drain stage.
	FinalDrain time.Duration `mapstructure:"final_drain" yaml:"final_drain"`
}

// Model holds generation-backend settings.
type Model struct {
	// Name is the default model identifier.
	Name string `mapstructure:"name" yaml:"name"`
	// APIKey overrides the ANTHROPIC_API_KEY environment variable.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// UseBedrock routes generation through AWS Bedrock.
	UseBedrock bool `mapstructure:"use_bedrock" yaml:"use_bedrock,omitempty"`
	// AWSRegion is the Bedrock region.
	AWSRegion string `mapstructure:"aws_region" yaml:"aws_region,omitempty"`
	// AWSProfile is an optional shared-config profile for Bedrock.
	AWSProfile string `mapstructure:"aws_profile" yaml:"aws_profile,omitempty"`
}

// Workspace holds execution-collaborator settings.
type Workspace struct {
	// CommandTimeout bounds each shell command.
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	// MaxFileSize caps file read/write sizes in bytes.
	MaxFileSize int64 `mapstructure:"max_file_size" yaml:"max_file_size"`
}

// Logging holds run-log settings.
type Logging struct {
	// Level is debug, info, warn, or error.
	Level string `mapstructure:"level" yaml:"level"`
	// File is the NDJSON run-log path; empty disables the file sink.
	File string `mapstructure:"file" yaml:"file,omitempty"`
	// Console mirrors log output to stderr in human form.
	Console bool `mapstructure:"console" yaml:"console,omitempty"`
}

// Config is the full run configuration.
type Config struct {
	// TeamGoal is the overarching goal shared by every agent.
	TeamGoal string `mapstructure:"team_goal" yaml:"team_goal"`
	// Agents declares the agent groups, in launch-manifest order.
	Agents []AgentGroup `mapstructure:"agents" yaml:"agents"`
	// Constraints are the global resource limits.
	Constraints Constraints `mapstructure:"constraints" yaml:"constraints"`
	// OutputDir is where agents produce their artifacts.
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	// Timeouts are the scheduler and shutdown wait ceilings.
	Timeouts Timeouts `mapstructure:"timeouts" yaml:"timeouts"`
	// Model configures the generation backend.
	Model Model `mapstructure:"model" yaml:"model"`
	// Workspace configures the execution collaborator.
	Workspace Workspace `mapstructure:"workspace" yaml:"workspace"`
	// Logging configures the structured run log.
	Logging Logging `mapstructure:"logging" yaml:"logging"`

	// RunID is injected per run; never read from the file.
	RunID string `mapstructure:"-" yaml:"-"`
}

// Default returns a config with every knob at its documented default.
func Default() Config {
	return Config{
		Constraints: Constraints{MaxCostUSD: 5, MaxRuntimeMin: 30},
		OutputDir:   "./output",
		Timeouts: Timeouts{
			ExternalDependency: 60 * time.Second,
			DeadlockBreak:      300 * time.Second,
			PollInterval:       2 * time.Second,
			Drain:              5 * time.Second,
			FinalDrain:         2 * time.Second,
		},
		Model: Model{Name: "claude-3-5-haiku-20241022"},
		Workspace: Workspace{
			CommandTimeout: 30 * time.Second,
			MaxFileSize:    1 << 20,
		},
		Logging: Logging{Level: "info", File: "troupe-run.log"},
	}
}

// Load reads a YAML or JSON config file, applies defaults and TROUPE_*
// environment overrides, and unmarshals it.
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("configuration file not found: %s", path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TROUPE")
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("constraints.max_cost_usd", def.Constraints.MaxCostUSD)
	v.SetDefault("constraints.max_runtime_min", def.Constraints.MaxRuntimeMin)
	v.SetDefault("output_dir", def.OutputDir)
	v.SetDefault("timeouts.external_dependency", def.Timeouts.ExternalDependency)
	v.SetDefault("timeouts.deadlock_break", def.Timeouts.DeadlockBreak)
	v.SetDefault("timeouts.poll_interval", def.Timeouts.PollInterval)
	v.SetDefault("timeouts.drain", def.Timeouts.Drain)
	v.SetDefault("timeouts.final_drain", def.Timeouts.FinalDrain)
	v.SetDefault("model.name", def.Model.Name)
	v.SetDefault("workspace.command_timeout", def.Workspace.CommandTimeout)
	v.SetDefault("workspace.max_file_size", def.Workspace.MaxFileSize)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.file", def.Logging.File)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read configuration: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse configuration: %w", err)
	}
	return cfg, nil
}

// WriteStarter writes a commented starter configuration to path, refusing to
// overwrite an existing file.
func WriteStarter(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	def := Default()
	// Durations are emitted as strings ("60s") rather than letting the
	// encoder render raw nanoseconds.
	starter := map[string]any{
		"team_goal": "Build and operate a small web service",
		"agents": []map[string]any{
			{"type": "builder", "count": 2, "goal": "Implement the service described by the team goal"},
			{"type": "operator", "count": 1, "goal": "Monitor the build output and verify it runs"},
		},
		"constraints": map[string]any{
			"max_cost_usd":    def.Constraints.MaxCostUSD,
			"max_runtime_min": def.Constraints.MaxRuntimeMin,
		},
		"output_dir": def.OutputDir,
		"timeouts": map[string]any{
			"external_dependency": def.Timeouts.ExternalDependency.String(),
			"deadlock_break":      def.Timeouts.DeadlockBreak.String(),
			"poll_interval":       def.Timeouts.PollInterval.String(),
			"drain":               def.Timeouts.Drain.String(),
			"final_drain":         def.Timeouts.FinalDrain.String(),
		},
		"model": map[string]any{"name": def.Model.Name},
		"logging": map[string]any{
			"level": def.Logging.Level,
			"file":  def.Logging.File,
		},
	}

	data, err := yaml.Marshal(starter)
	if err != nil {
		return fmt.Errorf("marshal starter config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	header := []byte("# troupe run configuration\n")
	return os.WriteFile(path, append(header, data...), 0o644)
}
