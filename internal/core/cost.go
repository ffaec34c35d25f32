package core

import "time"

// CostType is the closed set of cost-entry categories (§3, §6).
type CostType string

const (
	CostLLMConsensus        CostType = "llm_consensus"
	CostLLMEmbedding        CostType = "llm_embedding"
	CostLLMAnswer           CostType = "llm_answer"
	CostLLMSummarization    CostType = "llm_summarization"
	CostChildBudgetAbsorbed CostType = "child_budget_absorbed"
)

// CostEntry is an immutable cost record (§3, §6). CostUSD is nil when the
// underlying call reported no billable cost; a nil value is preserved
// verbatim through accumulation, flush, and event publication.
type CostEntry struct {
	ID        string
	AgentID   string
	TaskID    string
	CostType  CostType
	CostUSD   *float64
	Metadata  map[string]any
	Timestamp time.Time
}

// Accumulator is a pure, append-only value: an ordered sequence of cost
// entries. No method mutates the receiver; Add returns a new value. Threaded
// explicitly through every call that may incur embedding or model cost
// (§4.3, §9) — never stashed in package state.
type Accumulator struct {
	entries []CostEntry
}

// NewAccumulator returns the empty accumulator.
func NewAccumulator() Accumulator {
	return Accumulator{}
}

// Add returns a new accumulator with entry appended. The receiver is left
// untouched.
func (a Accumulator) Add(entry CostEntry) Accumulator {
	next := make([]CostEntry, len(a.entries)+1)
	copy(next, a.entries)
	next[len(a.entries)] = entry
	return Accumulator{entries: next}
}

// AddAll appends a run of entries, preserving their relative order.
func (a Accumulator) AddAll(entries []CostEntry) Accumulator {
	if len(entries) == 0 {
		return a
	}
	next := make([]CostEntry, len(a.entries)+len(entries))
	copy(next, a.entries)
	copy(next[len(a.entries):], entries)
	return Accumulator{entries: next}
}

// ToList returns entries in insertion order. The returned slice is a copy;
// mutating it does not affect the accumulator.
func (a Accumulator) ToList() []CostEntry {
	out := make([]CostEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Count returns the number of entries.
func (a Accumulator) Count() int {
	return len(a.entries)
}

// Empty reports whether the accumulator holds no entries.
func (a Accumulator) Empty() bool {
	return len(a.entries) == 0
}
