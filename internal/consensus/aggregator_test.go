package consensus

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quorumcore/consensus-core/internal/core"
)

func TestMajorityClusterRound1RequiresUnanimity(t *testing.T) {
	clusters := []core.Cluster{
		{Fingerprint: core.Fingerprint{Kind: core.ActionOrient}, Actions: make([]core.Action, 2)},
		{Fingerprint: core.Fingerprint{Kind: core.ActionWait}, Actions: make([]core.Action, 1)},
	}

	_, ok := MajorityCluster(clusters, 3, 1)
	assert.False(t, ok, "2 of 3 is not unanimous in round 1")
}

func TestMajorityClusterRound1UnanimousPasses(t *testing.T) {
	clusters := []core.Cluster{
		{Fingerprint: core.Fingerprint{Kind: core.ActionOrient}, Actions: make([]core.Action, 3)},
	}
	winner, ok := MajorityCluster(clusters, 3, 1)
	assert.True(t, ok)
	assert.Equal(t, core.ActionOrient, winner.Fingerprint.Kind)
}

func TestMajorityClusterLaterRoundStrictMajoritySplitFails(t *testing.T) {
	clusters := []core.Cluster{
		{Fingerprint: core.Fingerprint{Kind: core.ActionOrient}, Actions: make([]core.Action, 2)},
		{Fingerprint: core.Fingerprint{Kind: core.ActionWait}, Actions: make([]core.Action, 2)},
	}
	_, ok := MajorityCluster(clusters, 4, 2)
	assert.False(t, ok, "an exact 50/50 split must never count as a majority")
}

func TestMajorityClusterLaterRoundStrictMajorityPasses(t *testing.T) {
	clusters := []core.Cluster{
		{Fingerprint: core.Fingerprint{Kind: core.ActionOrient}, Actions: make([]core.Action, 3)},
		{Fingerprint: core.Fingerprint{Kind: core.ActionWait}, Actions: make([]core.Action, 2)},
	}
	winner, ok := MajorityCluster(clusters, 5, 2)
	assert.True(t, ok)
	assert.Equal(t, core.ActionOrient, winner.Fingerprint.Kind)
}

func TestActionSummaryTruncatesAt100Chars(t *testing.T) {
	long := strings.Repeat("x", 200)
	action := core.Action{Type: core.ActionOrient, Params: map[string]any{"current_situation": long}}
	summary := actionSummary(action)
	assert.True(t, strings.HasSuffix(summary, "…"))
	assert.LessOrEqual(t, len([]rune(summary)), summaryMaxLen+1)
}

func TestActionSummaryBatchListsSubTypesSortedForAsync(t *testing.T) {
	action := core.Action{
		Type: core.ActionBatchAsync,
		SubActions: []core.Action{
			{Type: core.ActionFileRead},
			{Type: core.ActionCallAPI},
		},
	}
	assert.Equal(t, "[batch_async: [call_api, file_read]]", actionSummary(action))
}

func TestBuildRefinementPromptRendersProposalsAsYAMLNotJSON(t *testing.T) {
	proposals := []core.Action{
		{Type: core.ActionOrient, Params: map[string]any{"current_situation": "flaky test"}},
	}
	ctx := core.NewRoundContext("investigate the flaky test", 4, time.Now())

	prompt := BuildRefinementPrompt(proposals, 2, ctx)
	assert.Contains(t, prompt, "action: orient")
	assert.NotContains(t, prompt, `{"action"`)
}

func TestBuildRefinementPromptNeverMentionsVotingOrCounts(t *testing.T) {
	proposals := []core.Action{{Type: core.ActionWait, Wait: true}}
	ctx := core.NewRoundContext("goal", 3, time.Now())

	prompt := BuildRefinementPrompt(proposals, 1, ctx)
	assert.NotContains(t, prompt, "%")
	assert.Contains(t, prompt, "not a vote")
}

func TestBuildRefinementPromptMarksFinalRound(t *testing.T) {
	ctx := core.NewRoundContext("goal", 3, time.Now())
	prompt := BuildRefinementPrompt(nil, 3, ctx)
	assert.Contains(t, prompt, "final round")

	prompt = BuildRefinementPrompt(nil, 2, ctx)
	assert.NotContains(t, prompt, "final round")
}

func TestBuildRefinementPromptCapsRecentRecordsAtThreePerRound(t *testing.T) {
	records := make([]core.ResponseRecord, 5)
	for i := range records {
		records[i] = core.ResponseRecord{Action: core.ActionWait, Reasoning: "r" + string(rune('0'+i))}
	}
	ctx := core.RoundContext{
		TaskPrompt:   "goal",
		MaxRounds:    4,
		RecentRounds: []core.RoundRecords{{Round: 1, Records: records}},
	}
	prompt := BuildRefinementPrompt(nil, 2, ctx)
	assert.Equal(t, 3, strings.Count(prompt, "| r"))
}
