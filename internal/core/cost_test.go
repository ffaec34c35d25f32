package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quorumcore/consensus-core/internal/core"
)

func TestAccumulatorAddDoesNotMutateReceiver(t *testing.T) {
	base := core.NewAccumulator()
	next := base.Add(core.CostEntry{AgentID: "a"})

	assert.Equal(t, 0, base.Count())
	assert.Equal(t, 1, next.Count())
}

func TestAccumulatorAddAllPreservesOrder(t *testing.T) {
	base := core.NewAccumulator().Add(core.CostEntry{AgentID: "first"})
	next := base.AddAll([]core.CostEntry{{AgentID: "second"}, {AgentID: "third"}})

	ids := make([]string, 0, 3)
	for _, e := range next.ToList() {
		ids = append(ids, e.AgentID)
	}
	assert.Equal(t, []string{"first", "second", "third"}, ids)
}

func TestAccumulatorToListReturnsACopy(t *testing.T) {
	acc := core.NewAccumulator().Add(core.CostEntry{AgentID: "a"})
	list := acc.ToList()
	list[0].AgentID = "mutated"

	assert.Equal(t, "a", acc.ToList()[0].AgentID)
}

func TestAccumulatorEmpty(t *testing.T) {
	assert.True(t, core.NewAccumulator().Empty())
	assert.False(t, core.NewAccumulator().Add(core.CostEntry{}).Empty())
}

func TestAccumulatorPreservesNilCostUSD(t *testing.T) {
	acc := core.NewAccumulator().Add(core.CostEntry{AgentID: "a", CostUSD: nil})
	assert.Nil(t, acc.ToList()[0].CostUSD)
}
