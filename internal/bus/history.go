package bus

import "time"

// History returns the most recent limit events in chronological order,
// or all recorded events when limit <= 0.
func (b *Bus) History(limit int) []Event {
	b.histMu.RLock()
	defer b.histMu.RUnlock()

	if limit <= 0 || limit >= len(b.history) {
		out := make([]Event, len(b.history))
		copy(out, b.history)
		return out
	}
	out := make([]Event, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}

// HistoryByAgent returns recorded events originated by the given agent.
func (b *Bus) HistoryByAgent(agentID string) []Event {
	b.histMu.RLock()
	defer b.histMu.RUnlock()

	var out []Event
	for _, ev := range b.history {
		if ev.AgentID == agentID {
			out = append(out, ev)
		}
	}
	return out
}

// HistoryByType returns recorded events of the given type.
func (b *Bus) HistoryByType(typ EventType) []Event {
	b.histMu.RLock()
	defer b.histMu.RUnlock()

	var out []Event
	for _, ev := range b.history {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// HistorySince returns recorded events with a timestamp at or after t.
func (b *Bus) HistorySince(t time.Time) []Event {
	b.histMu.RLock()
	defer b.histMu.RUnlock()

	var out []Event
	for _, ev := range b.history {
		if !ev.Timestamp.Before(t) {
			out = append(out, ev)
		}
	}
	return out
}

// HistorySummary reports the total recorded event count and a per-type
// breakdown.
type HistorySummary struct {
	Total  int               `json:"total_events"`
	ByType map[EventType]int `json:"by_type"`
}

// Summary returns counts of recorded events, total and per type.
func (b *Bus) Summary() HistorySummary {
	b.histMu.RLock()
	defer b.histMu.RUnlock()

	s := HistorySummary{ByType: make(map[EventType]int)}
	for _, ev := range b.history {
		s.ByType[ev.Type]++
	}
	s.Total = len(b.history)
	return s
}
