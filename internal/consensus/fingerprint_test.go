package consensus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumcore/consensus-core/internal/core"
)

// stubEmbed maps fixed strings to fixed vectors, so similarity between two
// inputs is exactly controlled by the test rather than by any real model.
func stubEmbed(vectors map[string][]float64) core.EmbeddingFn {
	return func(_ context.Context, text string, acc core.Accumulator) ([]float64, core.Accumulator, error) {
		if v, ok := vectors[text]; ok {
			return v, acc, nil
		}
		return []float64{0, 0, 0}, acc, nil
	}
}

func TestClusterActionsGroupsExactMatchesByFingerprint(t *testing.T) {
	actions := []core.Action{
		{Type: core.ActionWait, Params: nil, Wait: true},
		{Type: core.ActionFileRead, Params: map[string]any{"path": "a.go"}},
		{Type: core.ActionFileRead, Params: map[string]any{"path": "a.go"}},
	}
	embed := stubEmbed(nil)

	clusters, _, err := ClusterActions(context.Background(), actions, embed, core.NewAccumulator())
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	for _, c := range clusters {
		if c.Fingerprint.Kind == core.ActionFileRead {
			assert.Len(t, c.Actions, 2)
		}
	}
}

func TestClusterActionsSemanticSimilarityMerges(t *testing.T) {
	actions := []core.Action{
		{Type: core.ActionOrient, Params: map[string]any{"current_situation": "alpha"}},
		{Type: core.ActionOrient, Params: map[string]any{"current_situation": "beta"}},
	}
	embed := stubEmbed(map[string][]float64{
		"alpha": {1, 0, 0},
		"beta":  {1, 0, 0}, // identical vector => cosine similarity 1.0, above threshold
	})

	clusters, _, err := ClusterActions(context.Background(), actions, embed, core.NewAccumulator())
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Actions, 2)
}

func TestClusterActionsSemanticDissimilarityKeepsApart(t *testing.T) {
	actions := []core.Action{
		{Type: core.ActionOrient, Params: map[string]any{"current_situation": "alpha"}},
		{Type: core.ActionOrient, Params: map[string]any{"current_situation": "gamma"}},
	}
	embed := stubEmbed(map[string][]float64{
		"alpha": {1, 0, 0},
		"gamma": {0, 1, 0}, // orthogonal => cosine similarity 0, below threshold
	})

	clusters, _, err := ClusterActions(context.Background(), actions, embed, core.NewAccumulator())
	require.NoError(t, err)
	require.Len(t, clusters, 2)
}

func TestClusterActionsBatchSyncAndBatchAsyncNeverCollide(t *testing.T) {
	sync := core.Action{
		Type: core.ActionBatchSync,
		SubActions: []core.Action{
			{Type: core.ActionFileRead},
			{Type: core.ActionExecuteShell},
		},
	}
	async := core.Action{
		Type: core.ActionBatchAsync,
		SubActions: []core.Action{
			{Type: core.ActionExecuteShell},
			{Type: core.ActionFileRead},
		},
	}

	clusters, _, err := ClusterActions(context.Background(), []core.Action{sync, async}, stubEmbed(nil), core.NewAccumulator())
	require.NoError(t, err)
	assert.Len(t, clusters, 2)
}

func TestClusterActionsBatchAsyncSortsSubTypesForFingerprint(t *testing.T) {
	a := core.Action{
		Type: core.ActionBatchAsync,
		SubActions: []core.Action{
			{Type: core.ActionFileRead},
			{Type: core.ActionCallAPI},
		},
	}
	b := core.Action{
		Type: core.ActionBatchAsync,
		SubActions: []core.Action{
			{Type: core.ActionCallAPI},
			{Type: core.ActionFileRead},
		},
	}

	clusters, _, err := ClusterActions(context.Background(), []core.Action{a, b}, stubEmbed(nil), core.NewAccumulator())
	require.NoError(t, err)
	require.Len(t, clusters, 1, "batch_async fingerprint must be order-independent")
	assert.Len(t, clusters[0].Actions, 2)
}

func TestClusterActionsEmptyInputYieldsEmptyNonNilSlice(t *testing.T) {
	clusters, _, err := ClusterActions(context.Background(), nil, stubEmbed(nil), core.NewAccumulator())
	require.NoError(t, err)
	assert.NotNil(t, clusters)
	assert.Len(t, clusters, 0)
}

func TestClusterActionsPreservesOrderWithinAndAcrossClusters(t *testing.T) {
	actions := []core.Action{
		{Type: core.ActionWait, Wait: true},
		{Type: core.ActionTodo, Params: map[string]any{"description": "x"}},
		{Type: core.ActionWait, Wait: true},
	}
	clusters, _, err := ClusterActions(context.Background(), actions, stubEmbed(nil), core.NewAccumulator())
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, core.ActionWait, clusters[0].Fingerprint.Kind)
	assert.Equal(t, core.ActionTodo, clusters[1].Fingerprint.Kind)
	assert.Len(t, clusters[0].Actions, 2)
}
