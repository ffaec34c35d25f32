// Package consensus implements the Consensus Core: parsing raw model
// replies into actions, clustering, majority detection, parameter merging,
// tie-breaking, and the round-controller state machine that ties them
// together.
package consensus

import "github.com/quorumcore/consensus-core/internal/core"

// MatchKind classifies how a field contributes to an action's fingerprint.
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchSemantic MatchKind = "semantic"
)

// MergeKind selects the per-field merge rule applied by the Parameter
// Merger (§4.5).
type MergeKind string

const (
	MergeModeSelection      MergeKind = "mode_selection"
	MergeMedianValue        MergeKind = "median_value"
	MergeSemanticSimilarity MergeKind = "semantic_similarity"
	MergeExactMatchRequired MergeKind = "exact_match_required"
	MergeUnionList          MergeKind = "union_list"
)

// DefaultSimilarityThreshold is the per-field cosine-similarity threshold
// used when a schema entry does not override it (§4.4).
const DefaultSimilarityThreshold = 0.8

// FieldRule declares how one param field participates in fingerprinting
// and merging.
type FieldRule struct {
	Match               MatchKind
	Merge               MergeKind
	SimilarityThreshold float64
}

// EmptyBatchPriority is the sentinel effective priority for a batch action
// with no inner actions (§4.4, §4.6).
const EmptyBatchPriority = 999

// ActionSchema is one row of the pure action-type metadata table (§9):
// priority, required params, and per-field rules. Not used for
// batch_sync/batch_async, whose identity and merge behavior is structural
// (inner action types), not param-driven.
type ActionSchema struct {
	Type           core.ActionType
	Priority       int
	RequiredParams []string
	Fields         map[string]FieldRule
}

// Schemas is the closed action-type metadata table (§9). Batch types are
// deliberately absent: their priority, fingerprint, and merge behavior are
// computed structurally from their SubActions, not looked up here.
var Schemas = map[core.ActionType]ActionSchema{
	core.ActionOrient: {
		Type:           core.ActionOrient,
		Priority:       1,
		RequiredParams: []string{"current_situation"},
		Fields: map[string]FieldRule{
			"current_situation": {Match: MatchSemantic, Merge: MergeSemanticSimilarity, SimilarityThreshold: DefaultSimilarityThreshold},
		},
	},
	core.ActionWait: {
		Type:           core.ActionWait,
		Priority:       2,
		RequiredParams: nil,
		Fields:         map[string]FieldRule{},
	},
	core.ActionTodo: {
		Type:           core.ActionTodo,
		Priority:       3,
		RequiredParams: []string{"items"},
		Fields: map[string]FieldRule{
			"items": {Match: MatchExact, Merge: MergeUnionList},
		},
	},
	core.ActionFileRead: {
		Type:           core.ActionFileRead,
		Priority:       4,
		RequiredParams: []string{"path"},
		Fields: map[string]FieldRule{
			"path": {Match: MatchExact, Merge: MergeExactMatchRequired},
		},
	},
	core.ActionExecuteShell: {
		Type:           core.ActionExecuteShell,
		Priority:       6,
		RequiredParams: []string{"command"},
		Fields: map[string]FieldRule{
			"command": {Match: MatchExact, Merge: MergeExactMatchRequired},
		},
	},
	core.ActionCallAPI: {
		Type:           core.ActionCallAPI,
		Priority:       7,
		RequiredParams: []string{"endpoint"},
		Fields: map[string]FieldRule{
			"endpoint": {Match: MatchExact, Merge: MergeExactMatchRequired},
			"payload":  {Match: MatchExact, Merge: MergeModeSelection},
		},
	},
	core.ActionSpawnChild: {
		Type:           core.ActionSpawnChild,
		Priority:       10,
		RequiredParams: []string{"task_description"},
		Fields: map[string]FieldRule{
			"task_description": {Match: MatchSemantic, Merge: MergeSemanticSimilarity, SimilarityThreshold: DefaultSimilarityThreshold},
		},
	},
}

// Lookup returns the schema for a non-batch action type.
func Lookup(t core.ActionType) (ActionSchema, bool) {
	s, ok := Schemas[t]
	return s, ok
}

// IsKnownType reports whether t is in the closed action-type set, including
// the two batch types which have no schema row of their own.
func IsKnownType(t core.ActionType) bool {
	if t == core.ActionBatchSync || t == core.ActionBatchAsync {
		return true
	}
	_, ok := Schemas[t]
	return ok
}
