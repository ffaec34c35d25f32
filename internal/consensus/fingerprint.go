package consensus

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/quorumcore/consensus-core/internal/core"
)

// nonBatchFingerprint computes the deterministic clustering key for a non-batch
// action given a resolved signature string (§3, §4.4).
func nonBatchFingerprint(actionType core.ActionType, signature string) core.Fingerprint {
	return core.Fingerprint{Kind: actionType, Signature: signature}
}

// batchFingerprint computes the §3/§4.4 fingerprint for batch_sync
// (ordered) and batch_async (unordered, sorted) actions. Ordered and
// unordered batches with identical sub-type multisets intentionally get
// different Kind values, so they never collide.
func batchFingerprint(actionType core.ActionType, subActions []core.Action) core.Fingerprint {
	types := make([]core.ActionType, len(subActions))
	for i, sa := range subActions {
		types[i] = sa.Type
	}
	if actionType == core.ActionBatchAsync {
		sorted := append([]core.ActionType{}, types...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		types = sorted
	}
	return core.Fingerprint{Kind: actionType, SubTypes: types}
}

// fingerprintsEqual reports whether two fingerprints denote the same
// cluster.
func fingerprintsEqual(a, b core.Fingerprint) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Signature != b.Signature {
		return false
	}
	if len(a.SubTypes) != len(b.SubTypes) {
		return false
	}
	for i := range a.SubTypes {
		if a.SubTypes[i] != b.SubTypes[i] {
			return false
		}
	}
	return true
}

// semanticBucketTracker assigns bucket ids to semantic-similarity field
// values within a single clustering pass, honoring §4.4's rule: the first
// encountered value for a (action_type, field) key becomes the bucket
// representative; subsequent values are tested against it by cosine
// similarity, never transitively against each other.
type semanticBucketTracker struct {
	buckets map[string][]bucketEntry
	cache   map[string][]float64 // raw text -> embedding, dedup within the round
}

type bucketEntry struct {
	text   string
	vector []float64
}

func newSemanticBucketTracker() *semanticBucketTracker {
	return &semanticBucketTracker{
		buckets: make(map[string][]bucketEntry),
		cache:   make(map[string][]float64),
	}
}

func (t *semanticBucketTracker) embed(ctx context.Context, text string, fn core.EmbeddingFn, acc core.Accumulator) ([]float64, core.Accumulator, error) {
	if v, ok := t.cache[text]; ok {
		return v, acc, nil
	}
	vec, next, err := fn(ctx, text, acc)
	if err != nil {
		return nil, next, err
	}
	t.cache[text] = vec
	return vec, next, nil
}

// bucketID returns the bucket index for value under key, creating a new
// bucket if no existing representative is similar enough. On embedding
// failure, the value is placed in its own fresh bucket (never transitively
// matched) so clustering degrades safely rather than aborting (§7).
func (t *semanticBucketTracker) bucketID(ctx context.Context, key string, value string, fn core.EmbeddingFn, acc core.Accumulator, threshold float64) (int, core.Accumulator, error) {
	vec, acc, err := t.embed(ctx, value, fn, acc)
	if err != nil {
		t.buckets[key] = append(t.buckets[key], bucketEntry{text: value})
		return len(t.buckets[key]) - 1, acc, nil
	}

	for i, rep := range t.buckets[key] {
		if rep.vector == nil {
			continue
		}
		if cosineSimilarity(vec, rep.vector) >= threshold {
			return i, acc, nil
		}
	}

	t.buckets[key] = append(t.buckets[key], bucketEntry{text: value, vector: vec})
	return len(t.buckets[key]) - 1, acc, nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// paramText renders a param value as text for embedding, matching the
// multilingual byte-for-byte preservation requirement (§4.1).
func paramText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// ClusterActions performs the single-pass clustering of one round's parsed
// actions (§4.4). Input order is preserved both within each cluster's
// Actions slice and across the returned cluster list. Empty input yields
// an empty, non-nil slice.
func ClusterActions(ctx context.Context, actions []core.Action, embed core.EmbeddingFn, acc core.Accumulator) ([]core.Cluster, core.Accumulator, error) {
	clusters := make([]core.Cluster, 0, len(actions))
	tracker := newSemanticBucketTracker()

	for _, a := range actions {
		fp, nextAcc, err := computeFingerprint(ctx, a, tracker, embed, acc)
		if err != nil {
			return nil, acc, err
		}
		acc = nextAcc

		placed := false
		for i := range clusters {
			if fingerprintsEqual(clusters[i].Fingerprint, fp) {
				clusters[i].Actions = append(clusters[i].Actions, a)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, core.Cluster{Fingerprint: fp, Actions: []core.Action{a}})
		}
	}

	return clusters, acc, nil
}

func computeFingerprint(ctx context.Context, a core.Action, tracker *semanticBucketTracker, embed core.EmbeddingFn, acc core.Accumulator) (core.Fingerprint, core.Accumulator, error) {
	if a.IsBatch() {
		return batchFingerprint(a.Type, a.SubActions), acc, nil
	}

	schema, _ := Lookup(a.Type)

	fieldNames := make([]string, 0, len(schema.Fields))
	for name := range schema.Fields {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)

	parts := make([]string, 0, len(fieldNames))
	for _, name := range fieldNames {
		rule := schema.Fields[name]
		val, present := a.Params[name]
		if !present {
			parts = append(parts, name+"=<absent>")
			continue
		}
		switch rule.Match {
		case MatchSemantic:
			threshold := rule.SimilarityThreshold
			if threshold == 0 {
				threshold = DefaultSimilarityThreshold
			}
			key := string(a.Type) + "." + name
			id, nextAcc, err := tracker.bucketID(ctx, key, paramText(val), embed, acc, threshold)
			if err != nil {
				return core.Fingerprint{}, acc, err
			}
			acc = nextAcc
			parts = append(parts, fmt.Sprintf("%s=bucket:%d", name, id))
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", name, val))
		}
	}

	signature := ""
	for i, p := range parts {
		if i > 0 {
			signature += "|"
		}
		signature += p
	}

	return nonBatchFingerprint(a.Type, signature), acc, nil
}
