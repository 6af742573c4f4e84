package models

import (
	"fmt"
	"strings"
)

// AgentType distinguishes the two kinds of runtime agents.
// Builders create project artifacts; operators monitor and maintain them.
// The distinction lives entirely in what the execution collaborator does --
// scheduling treats both identically.
type AgentType string

const (
	// AgentTypeBuilder builds project artifacts toward its goal.
	AgentTypeBuilder AgentType = "builder"
	// AgentTypeOperator operates and monitors the produced system.
	AgentTypeOperator AgentType = "operator"
)

// Valid returns true if the agent type is a known value.
func (t AgentType) Valid() bool {
	return t == AgentTypeBuilder || t == AgentTypeOperator
}

// ManifestEntry describes one agent in a run.
type ManifestEntry struct {
	// AgentID is the stable identifier, of the form "{type}-{index}".
	AgentID string `json:"agent_id"`
	// Type is the agent's kind.
	Type AgentType `json:"type"`
	// Goal is the natural-language goal for this agent.
	Goal string `json:"goal"`
}

// Manifest is the ordered, immutable list of every agent in a run.
// It is built once and shared by reference among all agents; order carries
// no execution priority.
type Manifest []ManifestEntry

// Contains reports whether the manifest holds an agent with the given ID.
func (m Manifest) Contains(agentID string) bool {
	for _, e := range m {
		if e.AgentID == agentID {
			return true
		}
	}
	return false
}

// Peers returns every entry except the one with the given agent ID,
// preserving manifest order.
func (m Manifest) Peers(agentID string) []ManifestEntry {
	peers := make([]ManifestEntry, 0, len(m))
	for _, e := range m {
		if e.AgentID != agentID {
			peers = append(peers, e)
		}
	}
	return peers
}

// OwnerOf returns the agent ID that owns the given dependency ID, based on
// the "{agent_id}-{task}" prefix convention, or "" if no manifest agent
// prefixes it. A bare task ID has no owner prefix and belongs to whichever
// agent declares it.
func (m Manifest) OwnerOf(depID string) string {
	for _, e := range m {
		if strings.HasPrefix(depID, e.AgentID+"-") {
			return e.AgentID
		}
	}
	return ""
}

// AgentID builds the stable identifier for an agent of the given type and
// 1-based index.
func AgentID(t AgentType, index int) string {
	return fmt.Sprintf("%s-%d", t, index)
}
