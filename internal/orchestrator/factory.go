package orchestrator

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cwithey/troupe/internal/agent"
	"github.com/cwithey/troupe/internal/config"
	"github.com/cwithey/troupe/pkg/models"
)

// BuildManifest expands the configured agent groups into a flat, ordered
// manifest. Each group's count becomes individually numbered ids of the
// form "{type}-{index}", preserving declaration order; indexes continue
// across groups of the same type. The manifest is deterministic for a
// given config and immutable afterward.
func BuildManifest(cfg config.Config) (models.Manifest, error) {
	counts := map[models.AgentType]int{}
	var manifest models.Manifest

	for i, group := range cfg.Agents {
		typ := models.AgentType(group.Type)
		if !typ.Valid() {
			return nil, fmt.Errorf("agents[%d]: unknown agent type %q", i, group.Type)
		}
		for j := 0; j < group.Count; j++ {
			counts[typ]++
			manifest = append(manifest, models.ManifestEntry{
				AgentID: models.AgentID(typ, counts[typ]),
				Type:    typ,
				Goal:    group.Goal,
			})
		}
	}
	return manifest, nil
}

// CreateAgents instantiates one runtime agent per manifest entry, each
// sharing the manifest by reference. Manifest order implies no startup
// priority; the orchestrator starts them all concurrently.
func CreateAgents(cfg config.Config, manifest models.Manifest, deps agent.Params, logger zerolog.Logger) []*agent.Agent {
	// Per-group model overrides are resolved back from the entry's type
	// and position within the group.
	modelFor := map[string]config.AgentGroup{}
	counts := map[models.AgentType]int{}
	for _, group := range cfg.Agents {
		typ := models.AgentType(group.Type)
		for j := 0; j < group.Count; j++ {
			counts[typ]++
			modelFor[models.AgentID(typ, counts[typ])] = group
		}
	}

	agents := make([]*agent.Agent, 0, len(manifest))
	for _, entry := range manifest {
		p := deps
		p.Manifest = manifest
		if group, ok := modelFor[entry.AgentID]; ok {
			if group.Model != "" {
				p.Model = group.Model
			}
			if group.MaxTokens > 0 {
				p.MaxTokens = group.MaxTokens
			}
			if group.Temperature > 0 {
				p.Temperature = group.Temperature
			}
		}
		agents = append(agents, agent.New(entry, p, logger))
	}
	return agents
}
