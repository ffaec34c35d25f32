package core

// Fingerprint is the deterministic key the clusterer groups actions by
// (§3, §4.4). For non-batch actions Signature is built only from the
// per-type identity-bearing fields; for batch_sync it is the ordered list
// of inner action types; for batch_async it is the same list, sorted.
type Fingerprint struct {
	Kind      ActionType
	Signature string
	SubTypes  []ActionType
}

// Cluster is a non-empty group of Actions sharing a Fingerprint (§3).
// Representative is the first-observed action in the cluster; the
// tie-breaker ranks the cluster by its action type, and merging takes the
// merged action's type from it. Clusters are never mutated after the single clustering pass
// that builds them.
type Cluster struct {
	Fingerprint Fingerprint
	Actions     []Action
}

// Count returns the number of actions in the cluster.
func (c Cluster) Count() int {
	return len(c.Actions)
}

// Representative returns the first-observed action.
func (c Cluster) Representative() Action {
	return c.Actions[0]
}
