package consensus

import "github.com/quorumcore/consensus-core/internal/core"

// actionPriority returns the action-type priority, or the maximum priority
// of its inner actions for a batch (so a batch containing a costly action
// loses to a cheaper single action), or EmptyBatchPriority for an empty
// batch (§4.6).
func actionPriority(a core.Action) int {
	if !a.IsBatch() {
		schema, ok := Lookup(a.Type)
		if !ok {
			return EmptyBatchPriority
		}
		return schema.Priority
	}
	if len(a.SubActions) == 0 {
		return EmptyBatchPriority
	}
	max := -1
	for _, sub := range a.SubActions {
		if p := actionPriority(sub); p > max {
			max = p
		}
	}
	return max
}

// waitScore returns the per-action wait-posture score tuple (§4.6):
// true -> (0,0); positive integer n -> (0, 1+n); nil/absent -> (0,1);
// false/0 -> (1,0).
func waitScore(w any) (int, int) {
	if core.WaitIsTrue(w) {
		return 0, 0
	}
	if n, ok := core.WaitSeconds(w); ok {
		return 0, 1 + n
	}
	if core.WaitIsAbsent(w) {
		return 0, 1
	}
	return 1, 0
}

// autoCompleteScore returns the per-action auto-complete score tuple
// (§4.6): false -> (0,0); nil/absent -> (0,1); true -> (1,0).
func autoCompleteScore(ac *bool) (int, int) {
	if ac == nil {
		return 0, 1
	}
	if *ac {
		return 1, 0
	}
	return 0, 0
}

func clusterWaitScore(c core.Cluster) (int, int) {
	var a, b int
	for _, act := range c.Actions {
		x, y := waitScore(act.Wait)
		a += x
		b += y
	}
	return a, b
}

func clusterAutoCompleteScore(c core.Cluster) (int, int) {
	var a, b int
	for _, act := range c.Actions {
		x, y := autoCompleteScore(act.AutoComplete)
		a += x
		b += y
	}
	return a, b
}

// compareTuples returns -1/0/1 comparing two (a,b) lexicographic pairs.
func compareTuples(a1, b1, a2, b2 int) int {
	if a1 != a2 {
		if a1 < a2 {
			return -1
		}
		return 1
	}
	if b1 != b2 {
		if b1 < b2 {
			return -1
		}
		return 1
	}
	return 0
}

// CompareClusters implements the §4.6 lexicographic comparator: action
// priority, then wait-posture score, then auto-complete score, all
// ascending (smaller wins). Returns -1 if c1 should win over c2, 1 if c2
// should win, 0 if fully tied (caller then falls back to list order).
func CompareClusters(c1, c2 core.Cluster) int {
	p1 := actionPriority(c1.Representative())
	p2 := actionPriority(c2.Representative())
	if p1 != p2 {
		if p1 < p2 {
			return -1
		}
		return 1
	}

	w1a, w1b := clusterWaitScore(c1)
	w2a, w2b := clusterWaitScore(c2)
	if cmp := compareTuples(w1a, w1b, w2a, w2b); cmp != 0 {
		return cmp
	}

	a1a, a1b := clusterAutoCompleteScore(c1)
	a2a, a2b := clusterAutoCompleteScore(c2)
	return compareTuples(a1a, a1b, a2a, a2b)
}

// BreakTie selects the winning cluster from a list using CompareClusters,
// the first cluster in the input winning any fully-tied comparison (§4.6).
// The comparator is total and referentially transparent: BreakTie(L) ==
// BreakTie(shuffle(L)) whenever the winner is unique under the comparator.
func BreakTie(clusters []core.Cluster) (core.Cluster, error) {
	if len(clusters) == 0 {
		return core.Cluster{}, core.ErrValidation(core.CodeEmptyClusterList, "cannot break a tie over an empty cluster list")
	}
	best := 0
	for i := 1; i < len(clusters); i++ {
		if CompareClusters(clusters[i], clusters[best]) < 0 {
			best = i
		}
	}
	return clusters[best], nil
}
