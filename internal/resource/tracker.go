// Package resource tracks cumulative cost, token, and runtime usage for a
// run and publishes warning and breach events against configured limits.
package resource

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cwithey/troupe/internal/bus"
)

// WarningThreshold is the fraction of a limit at which a one-shot warning
// event is published.
const WarningThreshold = 0.80

// Limits holds the configured resource ceilings. A zero value means the
// corresponding resource is unlimited.
type Limits struct {
	// MaxCostUSD is the maximum cumulative spend for the run.
	MaxCostUSD float64
	// MaxRuntime is the maximum wall-clock duration for the run.
	MaxRuntime time.Duration
}

// Tracker accumulates usage counters and evaluates them against limits.
//
// Crossing the warning threshold publishes exactly one
// resource.limit.warning per resource kind for the life of the run; crossing
// a limit publishes resource.limit.exceeded on every check past it.
type Tracker struct {
	mu sync.Mutex

	start            time.Time
	costUSD          float64
	promptTokens     int64
	completionTokens int64

	limits     Limits
	costWarned bool
	timeWarned bool

	bus    *bus.Bus
	logger zerolog.Logger
}

// NewTracker creates a tracker that publishes limit events on b.
func NewTracker(limits Limits, b *bus.Bus, logger zerolog.Logger) *Tracker {
	return &Tracker{
		start:  time.Now(),
		limits: limits,
		bus:    b,
		logger: logger.With().Str("module", "resource").Logger(),
	}
}

// AddUsage accumulates token counts and cost, then evaluates limits on a
// separate goroutine so the caller never blocks on event publication.
func (t *Tracker) AddUsage(promptTokens, completionTokens int64, costUSD float64, agentID, runID string) {
	t.mu.Lock()
	t.promptTokens += promptTokens
	t.completionTokens += completionTokens
	t.costUSD += costUSD
	totalCost := t.costUSD
	totalTokens := t.promptTokens + t.completionTokens
	t.mu.Unlock()

	t.logger.Info().
		Str("agent_id", agentID).
		Int64("prompt_tokens", promptTokens).
		Int64("completion_tokens", completionTokens).
		Float64("cost_usd", costUSD).
		Float64("total_cost_usd", totalCost).
		Int64("total_tokens", totalTokens).
		Msg("token usage updated")

	go t.CheckLimits(runID)
}

// CheckLimits evaluates current usage against the configured limits and
// publishes warning or exceeded events. Safe to call from any goroutine.
func (t *Tracker) CheckLimits(runID string) {
	var events []bus.Event

	t.mu.Lock()
	elapsed := time.Since(t.start)
	cost := t.costUSD

	if t.limits.MaxCostUSD > 0 {
		switch {
		case cost >= t.limits.MaxCostUSD:
			events = append(events, bus.NewEvent(bus.EventResourceLimitExceeded, runID, map[string]any{
				"limit_type": "cost",
				"current":    cost,
				"limit":      t.limits.MaxCostUSD,
				"unit":       "USD",
			}))
		case cost >= t.limits.MaxCostUSD*WarningThreshold && !t.costWarned:
			t.costWarned = true
			events = append(events, bus.NewEvent(bus.EventResourceLimitWarning, runID, map[string]any{
				"limit_type": "cost",
				"current":    cost,
				"limit":      t.limits.MaxCostUSD,
				"percentage": cost / t.limits.MaxCostUSD * 100,
				"unit":       "USD",
			}))
		}
	}

	if t.limits.MaxRuntime > 0 {
		limitSec := t.limits.MaxRuntime.Seconds()
		switch {
		case elapsed >= t.limits.MaxRuntime:
			events = append(events, bus.NewEvent(bus.EventResourceLimitExceeded, runID, map[string]any{
				"limit_type": "time",
				"current":    elapsed.Seconds(),
				"limit":      limitSec,
				"unit":       "seconds",
			}))
		case elapsed.Seconds() >= limitSec*WarningThreshold && !t.timeWarned:
			t.timeWarned = true
			events = append(events, bus.NewEvent(bus.EventResourceLimitWarning, runID, map[string]any{
				"limit_type": "time",
				"current":    elapsed.Seconds(),
				"limit":      limitSec,
				"percentage": elapsed.Seconds() / limitSec * 100,
				"unit":       "seconds",
			}))
		}
	}
	t.mu.Unlock()

	for _, ev := range events {
		t.bus.Publish(ev)
	}
}

// UsageAmount is one tracked quantity with its percentage of the limit.
type UsageAmount struct {
	Current float64 `json:"current"`
	Limit   float64 `json:"limit"`
	Percent float64 `json:"percent"`
}

// TokenTotals holds cumulative token counts.
type TokenTotals struct {
	Prompt     int64 `json:"prompt"`
	Completion int64 `json:"completion"`
	Total      int64 `json:"total"`
}

// Summary is a point-in-time snapshot of resource usage.
type Summary struct {
	ElapsedSeconds UsageAmount `json:"elapsed_seconds"`
	Cost           UsageAmount `json:"cost_usd"`
	Tokens         TokenTotals `json:"tokens"`
}

// GetSummary returns a snapshot of elapsed time, cost, and token totals with
// their percentage of each configured limit. Unlimited resources report 0%.
func (t *Tracker) GetSummary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.start).Seconds()
	s := Summary{
		ElapsedSeconds: UsageAmount{Current: elapsed},
		Cost:           UsageAmount{Current: t.costUSD},
		Tokens: TokenTotals{
			Prompt:     t.promptTokens,
			Completion: t.completionTokens,
			Total:      t.promptTokens + t.completionTokens,
		},
	}
	if t.limits.MaxRuntime > 0 {
		s.ElapsedSeconds.Limit = t.limits.MaxRuntime.Seconds()
		s.ElapsedSeconds.Percent = elapsed / t.limits.MaxRuntime.Seconds() * 100
	}
	if t.limits.MaxCostUSD > 0 {
		s.Cost.Limit = t.limits.MaxCostUSD
		s.Cost.Percent = t.costUSD / t.limits.MaxCostUSD * 100
	}
	return s
}

// Elapsed returns the wall-clock time since the tracker was created.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.start)
}
