package consensus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumcore/consensus-core/internal/core"
)

func TestNewParallelModelQueryFnNoModelsIsError(t *testing.T) {
	query := NewParallelModelQueryFn(func(context.Context, []core.Message, string, float64, core.Accumulator) (string, core.Accumulator, error) {
		return "", core.NewAccumulator(), nil
	}, DispatchConfig{})

	_, err := query(context.Background(), nil, nil, core.QueryOptions{})
	require.Error(t, err)
}

func TestNewParallelModelQueryFnAllModelsSucceed(t *testing.T) {
	single := func(_ context.Context, _ []core.Message, modelID string, _ float64, acc core.Accumulator) (string, core.Accumulator, error) {
		return "reply-from-" + modelID, acc.Add(core.CostEntry{AgentID: "a", TaskID: "t", CostType: core.CostLLMConsensus}), nil
	}
	query := NewParallelModelQueryFn(single, DispatchConfig{})

	result, err := query(context.Background(), nil, []string{"m1", "m2", "m3"}, core.QueryOptions{Accumulator: core.NewAccumulator()})
	require.NoError(t, err)
	assert.Len(t, result.Successful, 3)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 3, result.Accumulator.Count())
}

func TestNewParallelModelQueryFnPartialFailureNeverAbortsTheRound(t *testing.T) {
	single := func(_ context.Context, _ []core.Message, modelID string, _ float64, acc core.Accumulator) (string, core.Accumulator, error) {
		if modelID == "flaky" {
			return "", acc, fmt.Errorf("provider unavailable")
		}
		return "ok", acc, nil
	}
	query := NewParallelModelQueryFn(single, DispatchConfig{})

	result, err := query(context.Background(), nil, []string{"good", "flaky"}, core.QueryOptions{Accumulator: core.NewAccumulator()})
	require.NoError(t, err)
	assert.Len(t, result.Successful, 1)
	assert.Equal(t, []string{"flaky"}, result.Failed)
}

func TestNewParallelModelQueryFnResultOrderMatchesModelPoolOrderRegardlessOfArrival(t *testing.T) {
	delays := map[string]time.Duration{"slow": 30 * time.Millisecond, "fast": 0}
	single := func(_ context.Context, _ []core.Message, modelID string, _ float64, acc core.Accumulator) (string, core.Accumulator, error) {
		time.Sleep(delays[modelID])
		return modelID, acc, nil
	}
	query := NewParallelModelQueryFn(single, DispatchConfig{})

	result, err := query(context.Background(), nil, []string{"slow", "fast"}, core.QueryOptions{Accumulator: core.NewAccumulator()})
	require.NoError(t, err)
	require.Len(t, result.Successful, 2)
	assert.Equal(t, "slow", result.Successful[0].ModelID)
	assert.Equal(t, "fast", result.Successful[1].ModelID)
}

func TestNewParallelModelQueryFnPerModelTimeoutFailsOnlyThatModel(t *testing.T) {
	single := func(ctx context.Context, _ []core.Message, modelID string, _ float64, acc core.Accumulator) (string, core.Accumulator, error) {
		if modelID == "slow" {
			select {
			case <-time.After(200 * time.Millisecond):
				return "too-late", acc, nil
			case <-ctx.Done():
				return "", acc, ctx.Err()
			}
		}
		return "quick", acc, nil
	}
	query := NewParallelModelQueryFn(single, DispatchConfig{PerModelTimeout: 20 * time.Millisecond})

	result, err := query(context.Background(), nil, []string{"slow", "quick"}, core.QueryOptions{Accumulator: core.NewAccumulator()})
	require.NoError(t, err)
	assert.Equal(t, []string{"slow"}, result.Failed)
	require.Len(t, result.Successful, 1)
	assert.Equal(t, "quick", result.Successful[0].ModelID)
}

func TestNewParallelModelQueryFnPreservesCostFromAFailedModel(t *testing.T) {
	single := func(_ context.Context, _ []core.Message, modelID string, _ float64, acc core.Accumulator) (string, core.Accumulator, error) {
		billed := acc.Add(core.CostEntry{AgentID: modelID, CostType: core.CostLLMConsensus})
		if modelID == "flaky" {
			return "", billed, fmt.Errorf("provider unavailable after billing")
		}
		return "ok", billed, nil
	}
	query := NewParallelModelQueryFn(single, DispatchConfig{})

	result, err := query(context.Background(), nil, []string{"good", "flaky"}, core.QueryOptions{Accumulator: core.NewAccumulator()})
	require.NoError(t, err)
	assert.Equal(t, []string{"flaky"}, result.Failed)
	assert.Equal(t, 2, result.Accumulator.Count(), "a failed model's recorded cost entries must still be preserved in the merged accumulator")
}

func TestNewParallelModelQueryFnAccumulatorMergeIsOrderIndependentOfArrival(t *testing.T) {
	delays := map[string]time.Duration{"m1": 20 * time.Millisecond, "m2": 0, "m3": 10 * time.Millisecond}
	single := func(_ context.Context, _ []core.Message, modelID string, _ float64, acc core.Accumulator) (string, core.Accumulator, error) {
		time.Sleep(delays[modelID])
		return modelID, acc.Add(core.CostEntry{AgentID: modelID, CostType: core.CostLLMConsensus}), nil
	}
	query := NewParallelModelQueryFn(single, DispatchConfig{})

	result, err := query(context.Background(), nil, []string{"m1", "m2", "m3"}, core.QueryOptions{Accumulator: core.NewAccumulator()})
	require.NoError(t, err)
	require.Equal(t, 3, result.Accumulator.Count())

	entries := result.Accumulator.ToList()
	agents := make([]string, len(entries))
	for i, e := range entries {
		agents[i] = e.AgentID
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, agents, "accumulator entries merge back in model-pool order, not arrival order")
}
