package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumcore/consensus-core/internal/core"
)

func TestRoundContextSlidingWindowKeepsOnlyLastTwoRounds(t *testing.T) {
	rc := core.NewRoundContext("goal", 4, time.Now())

	for r := 1; r <= 4; r++ {
		rc = rc.WithRound(r, nil, []core.ResponseRecord{{Action: core.ActionWait}})
	}

	require.Len(t, rc.RecentRounds, core.RecentRoundWindow)
	assert.Equal(t, 3, rc.RecentRounds[0].Round)
	assert.Equal(t, 4, rc.RecentRounds[1].Round)
}

func TestRoundContextRawProposalsAreNotWindowed(t *testing.T) {
	rc := core.NewRoundContext("goal", 4, time.Now())
	for r := 1; r <= 4; r++ {
		rc = rc.WithRound(r, []core.Action{{Type: core.ActionWait}}, nil)
	}
	assert.Len(t, rc.RawProposals, 4, "raw proposals accumulate for the full run, unlike the response-record window")
}

func TestRoundContextWithRoundDoesNotMutateReceiver(t *testing.T) {
	original := core.NewRoundContext("goal", 4, time.Now())
	updated := original.WithRound(1, []core.Action{{Type: core.ActionWait}}, nil)

	assert.Len(t, original.RawProposals, 0)
	assert.Len(t, updated.RawProposals, 1)
}

func TestRoundContextMissingActionParamsStoredAsZeroValueNotDropped(t *testing.T) {
	rc := core.NewRoundContext("goal", 4, time.Now())
	rc = rc.WithRound(1, nil, []core.ResponseRecord{{}})
	require.Len(t, rc.RecentRounds[0].Records, 1)
	assert.Equal(t, core.ActionType(""), rc.RecentRounds[0].Records[0].Action)
	assert.Nil(t, rc.RecentRounds[0].Records[0].Params)
}

func TestRoundContextDefaultsMaxRoundsWhenNonPositive(t *testing.T) {
	rc := core.NewRoundContext("goal", 0, time.Now())
	assert.Equal(t, core.DefaultMaxRounds, rc.MaxRounds)

	rc = core.NewRoundContext("goal", -1, time.Now())
	assert.Equal(t, core.DefaultMaxRounds, rc.MaxRounds)
}

func TestRoundContextSnapshotRendersYAML(t *testing.T) {
	rc := core.NewRoundContext("investigate the flaky test", 4, time.Now())
	rc = rc.WithLesson(map[string]any{"priming": "prefer read-only actions first"})

	out, err := rc.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, out, "task_prompt:")
	assert.Contains(t, out, "investigate the flaky test")
	assert.Contains(t, out, "priming")
}

func TestRoundContextWithHistoryAppendsWithoutMutatingReceiver(t *testing.T) {
	original := core.NewRoundContext("goal", 4, time.Now())
	updated := original.WithHistory("refinement prompt text")

	assert.Len(t, original.History, 0)
	require.Len(t, updated.History, 1)
	assert.Equal(t, "refinement prompt text", updated.History[0])
}
