package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/quorumcore/consensus-core/internal/core"
)

// MergeCluster merges a cluster of same-fingerprint actions into a single
// Action, applying each field's declared rule (§4.5). It always returns
// the (possibly advanced) accumulator alongside the result, never a bare
// action, so embedding costs incurred during merging are never lost.
func MergeCluster(ctx context.Context, cluster core.Cluster, embed core.EmbeddingFn, acc core.Accumulator) (core.Action, core.Accumulator, error) {
	if len(cluster.Actions) == 0 {
		return core.Action{}, acc, core.ErrValidation(core.CodeEmptyClusterList, "cannot merge an empty cluster")
	}

	rep := cluster.Representative()

	if rep.Type == core.ActionBatchSync || rep.Type == core.ActionBatchAsync {
		return mergeBatch(ctx, cluster, embed, acc)
	}

	params, acc, err := mergeNonBatchParams(ctx, rep.Type, cluster.Actions, embed, acc)
	if err != nil {
		return core.Action{}, acc, err
	}

	merged := core.Action{
		Type:      rep.Type,
		Params:    params,
		Reasoning: mergeReasoning(cluster.Actions),
		Wait:      mergeWaitConsensus(cluster.Actions),
	}
	merged.AutoComplete = mergeAutoComplete(cluster.Actions)
	merged.Condense = rep.Condense

	return merged, acc, nil
}

func mergeNonBatchParams(ctx context.Context, actionType core.ActionType, actions []core.Action, embed core.EmbeddingFn, acc core.Accumulator) (map[string]any, core.Accumulator, error) {
	schema, _ := Lookup(actionType)

	fieldSet := map[string]struct{}{}
	for name := range schema.Fields {
		fieldSet[name] = struct{}{}
	}
	for _, a := range actions {
		for name := range a.Params {
			fieldSet[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(fieldSet))
	for name := range fieldSet {
		names = append(names, name)
	}
	sort.Strings(names)

	merged := make(map[string]any, len(names))
	for _, name := range names {
		values := presentValues(actions, name)
		if len(values) == 0 {
			continue
		}

		rule, known := schema.Fields[name]
		if !known {
			rule = FieldRule{Merge: MergeModeSelection}
		}

		var (
			result any
			err    error
		)
		switch rule.Merge {
		case MergeExactMatchRequired:
			result, err = exactMatchRequired(values)
		case MergeUnionList:
			result = unionList(values)
		case MergeMedianValue:
			result, err = medianValue(values)
		case MergeSemanticSimilarity:
			threshold := rule.SimilarityThreshold
			if threshold == 0 {
				threshold = DefaultSimilarityThreshold
			}
			var newAcc core.Accumulator
			result, newAcc, err = semanticSimilarityMerge(ctx, values, embed, acc, threshold)
			acc = newAcc
		default:
			result = modeSelection(values)
		}
		if err != nil {
			return nil, acc, core.ErrValidation(core.CodeInconsistentParams, fmt.Sprintf("field %q: %v", name, err)).
				WithDetail("action_type", string(actionType)).
				WithDetail("field", name)
		}
		merged[name] = result
	}

	return merged, acc, nil
}

func presentValues(actions []core.Action, field string) []any {
	out := make([]any, 0, len(actions))
	for _, a := range actions {
		if v, ok := a.Params[field]; ok {
			out = append(out, v)
		}
	}
	return out
}

func valueKey(v any) string {
	if n, ok := v.(json.Number); ok {
		return "n:" + string(n)
	}
	return fmt.Sprintf("%v", v)
}

// modeSelection chooses the value appearing most often, ties broken by
// first-occurrence order (§4.5).
func modeSelection(values []any) any {
	type entry struct {
		value any
		count int
	}
	order := []string{}
	counts := map[string]*entry{}
	for _, v := range values {
		k := valueKey(v)
		if e, ok := counts[k]; ok {
			e.count++
		} else {
			counts[k] = &entry{value: v, count: 1}
			order = append(order, k)
		}
	}

	best := order[0]
	for _, k := range order[1:] {
		if counts[k].count > counts[best].count {
			best = k
		}
	}
	return counts[best].value
}

// medianValue computes the numeric median, taking the lower of the two
// middle values on an even count (§4.5).
func medianValue(values []any) (any, error) {
	nums := make([]float64, 0, len(values))
	for _, v := range values {
		f, ok := toFloat64(v)
		if !ok {
			return nil, fmt.Errorf("non-numeric value in median_value field: %v", v)
		}
		nums = append(nums, f)
	}
	sort.Float64s(nums)
	n := len(nums)
	if n%2 == 1 {
		return nums[n/2], nil
	}
	return nums[n/2-1], nil
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// exactMatchRequired demands all present values be equal (§4.5).
func exactMatchRequired(values []any) (any, error) {
	first := values[0]
	firstKey := valueKey(first)
	for _, v := range values[1:] {
		if valueKey(v) != firstKey {
			return nil, fmt.Errorf("values are not all equal")
		}
	}
	return first, nil
}

// unionList concatenates list-valued params, deduplicating while
// preserving first-seen order (§4.5).
func unionList(values []any) []any {
	out := []any{}
	seen := map[string]struct{}{}
	for _, v := range values {
		items, ok := v.([]any)
		if !ok {
			items = []any{v}
		}
		for _, item := range items {
			k := valueKey(item)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

// semanticSimilarityMerge picks the medoid: the value with the highest
// average cosine similarity to all others. On embedding failure or an
// all-equal-scores tie it falls back to mode_selection — the rule-engine
// fallback the spec mandates as canonical, not the legacy inline fallback
// (§4.5, §9 open question 3).
func semanticSimilarityMerge(ctx context.Context, values []any, embed core.EmbeddingFn, acc core.Accumulator, threshold float64) (any, core.Accumulator, error) {
	texts := make([]string, len(values))
	for i, v := range values {
		texts[i] = paramText(v)
	}

	if len(values) == 1 {
		return values[0], acc, nil
	}

	vectors := make([][]float64, len(texts))
	for i, t := range texts {
		vec, nextAcc, err := embed(ctx, t, acc)
		acc = nextAcc
		if err != nil {
			return modeSelection(values), acc, nil
		}
		vectors[i] = vec
	}

	scores := make([]float64, len(values))
	for i := range vectors {
		var sum float64
		for j := range vectors {
			if i == j {
				continue
			}
			sum += cosineSimilarity(vectors[i], vectors[j])
		}
		scores[i] = sum / float64(len(vectors)-1)
	}

	best := 0
	allEqual := true
	for i := 1; i < len(scores); i++ {
		if scores[i] != scores[0] {
			allEqual = false
		}
		if scores[i] > scores[best] {
			best = i
		}
	}
	if allEqual {
		return modeSelection(values), acc, nil
	}
	return values[best], acc, nil
}

// mergeReasoning concatenates non-empty reasonings, first occurrence wins
// duplicates, or falls back to the representative's (possibly blank) value
// if every contributor is blank (§4.5).
func mergeReasoning(actions []core.Action) string {
	seen := map[string]struct{}{}
	parts := []string{}
	for _, a := range actions {
		if a.Reasoning == "" {
			continue
		}
		if _, dup := seen[a.Reasoning]; dup {
			continue
		}
		seen[a.Reasoning] = struct{}{}
		parts = append(parts, a.Reasoning)
	}
	if len(parts) == 0 {
		return actions[0].Reasoning
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += " " + p
	}
	return out
}

// mergeWaitConsensus implements the default wait-merge rule (§4.5): if all
// contributors omit wait, the result is false; otherwise absent values are
// filtered out and the remaining values are merged (median-then-mode for
// numeric seconds, mode across the categorical false/true/seconds space
// otherwise).
func mergeWaitConsensus(actions []core.Action) any {
	present := make([]any, 0, len(actions))
	for _, a := range actions {
		if !core.WaitIsAbsent(a.Wait) {
			present = append(present, a.Wait)
		}
	}
	if len(present) == 0 {
		return false
	}

	allSeconds := true
	for _, w := range present {
		if _, ok := core.WaitSeconds(w); !ok {
			allSeconds = false
			break
		}
	}
	if allSeconds {
		v, _ := medianValue(present)
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return modeSelection(present)
}

// mergeAutoComplete applies the same absent-filtering, mode-selection
// treatment used for wait to the auto_complete tri-state (nil/false/true).
func mergeAutoComplete(actions []core.Action) *bool {
	present := make([]any, 0, len(actions))
	for _, a := range actions {
		if a.AutoComplete != nil {
			present = append(present, *a.AutoComplete)
		}
	}
	if len(present) == 0 {
		return nil
	}
	v := modeSelection(present).(bool)
	return &v
}

// mergeBatch dispatches batch_sequence_merge for batch_sync (position by
// position, in order) or batch_async (aligned by sorted type key) (§4.5).
func mergeBatch(ctx context.Context, cluster core.Cluster, embed core.EmbeddingFn, acc core.Accumulator) (core.Action, core.Accumulator, error) {
	rep := cluster.Representative()

	sequences := make([][]core.Action, len(cluster.Actions))
	for i, a := range cluster.Actions {
		if rep.Type == core.ActionBatchAsync {
			sequences[i] = stableSortByType(a.SubActions)
		} else {
			sequences[i] = a.SubActions
		}
	}

	length := len(sequences[0])
	for _, seq := range sequences {
		if len(seq) != length {
			return core.Action{}, acc, core.ErrValidation(core.CodeSequenceLengthMismatch, "batch sub-action sequences differ in length")
		}
	}

	mergedSubs := make([]core.Action, length)
	for pos := 0; pos < length; pos++ {
		posType := sequences[0][pos].Type
		posActions := make([]core.Action, len(sequences))
		for i, seq := range sequences {
			if seq[pos].Type != posType {
				return core.Action{}, acc, core.ErrValidation(core.CodeSequenceMismatch, "batch sub-action type mismatch at position").
					WithDetail("position", pos)
			}
			posActions[i] = seq[pos]
		}

		posCluster := core.Cluster{
			Fingerprint: nonBatchFingerprint(posType, ""),
			Actions:     posActions,
		}
		mergedSub, nextAcc, err := MergeCluster(ctx, posCluster, embed, acc)
		if err != nil {
			return core.Action{}, acc, err
		}
		acc = nextAcc
		mergedSubs[pos] = mergedSub
	}

	merged := core.Action{
		Type:       rep.Type,
		SubActions: mergedSubs,
		Reasoning:  mergeReasoning(cluster.Actions),
		Wait:       mergeWaitConsensus(cluster.Actions),
		Condense:   rep.Condense,
	}
	merged.AutoComplete = mergeAutoComplete(cluster.Actions)

	return merged, acc, nil
}

func stableSortByType(actions []core.Action) []core.Action {
	out := append([]core.Action{}, actions...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
