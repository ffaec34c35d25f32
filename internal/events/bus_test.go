package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumcore/consensus-core/internal/core"
)

func TestBusDeliversToMatchingTopicOnly(t *testing.T) {
	b := New(4)
	t.Cleanup(b.Close)

	taskCh := b.Subscribe("tasks:t1:costs")
	agentCh := b.Subscribe("agents:a1:costs")

	b.Publish("tasks:t1:costs", core.CostEvent{ID: "e1"})

	select {
	case ev := <-taskCh:
		assert.Equal(t, "e1", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("expected event on subscribed task topic")
	}

	select {
	case <-agentCh:
		t.Fatal("agent topic must not receive an event published on the task topic")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := New(1)
	t.Cleanup(b.Close)

	ch := b.Subscribe("topic")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish("topic", core.CostEvent{ID: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish must never block even when a subscriber channel is full")
	}

	assert.Greater(t, b.DroppedCount(), int64(0), "overflow publishes must be counted as dropped, not silently lost")
	<-ch
}

func TestBusUnsubscribeClosesChannelAndStopsDelivery(t *testing.T) {
	b := New(4)
	t.Cleanup(b.Close)

	ch := b.Subscribe("topic")
	b.Unsubscribe("topic", ch)

	_, open := <-ch
	assert.False(t, open, "unsubscribed channel must be closed")

	// Publishing after unsubscribe must not panic or deliver anywhere.
	b.Publish("topic", core.CostEvent{ID: "ghost"})
}

func TestBusSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	b := New(4)
	b.Close()

	ch := b.Subscribe("topic")
	_, open := <-ch
	assert.False(t, open)
}

func TestBusCloseIsIdempotentAndClosesAllSubscribers(t *testing.T) {
	b := New(4)
	ch1 := b.Subscribe("a")
	ch2 := b.Subscribe("b")

	b.Close()
	require.NotPanics(t, b.Close)

	_, open1 := <-ch1
	_, open2 := <-ch2
	assert.False(t, open1)
	assert.False(t, open2)
}

func TestTopicHelpersNamespaceByID(t *testing.T) {
	assert.Equal(t, "tasks:t1:costs", core.TaskCostsTopic("t1"))
	assert.Equal(t, "agents:a1:costs", core.AgentCostsTopic("a1"))
	assert.NotEqual(t, core.TaskCostsTopic("x"), core.AgentCostsTopic("x"))
}
