// Package events provides the in-process pub/sub bus the Cost Recorder
// publishes on, adapted from the teacher's internal/events bus to a
// topic-keyed model matching the two cost topics of §6
// (tasks:{task_id}:costs, agents:{agent_id}:costs) rather than the
// teacher's type+project filtering.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/quorumcore/consensus-core/internal/core"
)

type subscriber struct {
	topic string
	ch    chan core.CostEvent
}

// Bus is a topic-keyed pub/sub bus with ring-buffer backpressure: a full
// subscriber channel drops its oldest queued event rather than blocking
// the publisher, matching the teacher's bus.go ring-buffer behavior.
type Bus struct {
	mu           sync.RWMutex
	subscribers  map[string][]*subscriber
	bufferSize   int
	droppedCount int64
	closed       bool
}

// New creates a Bus with the given per-subscriber buffer size.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[string][]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel receiving every event published to topic.
func (b *Bus) Subscribe(topic string) <-chan core.CostEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan core.CostEvent)
		close(ch)
		return ch
	}

	sub := &subscriber{topic: topic, ch: make(chan core.CostEvent, b.bufferSize)}
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	return sub.ch
}

// Unsubscribe removes and closes a subscription.
func (b *Bus) Unsubscribe(topic string, ch <-chan core.CostEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	out := make([]*subscriber, 0, len(subs))
	for _, s := range subs {
		if s.ch == ch {
			close(s.ch)
			continue
		}
		out = append(out, s)
	}
	b.subscribers[topic] = out
}

// Publish implements core.CostEventPublisher: it delivers event to every
// subscriber of topic, dropping the oldest queued event on a full channel
// rather than blocking (§5: a broadcast failure must never roll back a
// store write, so Publish never blocks or returns an error).
func (b *Bus) Publish(topic string, event core.CostEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subscribers[topic] {
		select {
		case sub.ch <- event:
		default:
			select {
			case <-sub.ch:
				atomic.AddInt64(&b.droppedCount, 1)
			default:
			}
			select {
			case sub.ch <- event:
			default:
				atomic.AddInt64(&b.droppedCount, 1)
			}
		}
	}
}

// DroppedCount returns the total number of events dropped by backpressure.
func (b *Bus) DroppedCount() int64 {
	return atomic.LoadInt64(&b.droppedCount)
}

// Close closes the bus and every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subscribers {
		for _, s := range subs {
			close(s.ch)
		}
	}
	b.subscribers = nil
}

var _ core.CostEventPublisher = (*Bus)(nil)
