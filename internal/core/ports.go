package core

import (
	"context"
	"time"
)

// Message is one turn in a model conversation.
type Message struct {
	Role    string
	Content string
}

// ModelReply pairs a model identifier with its raw reply text (§6).
type ModelReply struct {
	ModelID string
	Reply   string
}

// QueryOptions carries the per-call options the model-query function
// receives (§6): the round index, the per-model temperature schedule, the
// cost accumulator to thread through, and the owning agent/task.
type QueryOptions struct {
	Round        int
	Temperatures map[string]float64
	Accumulator  Accumulator
	AgentID      string
	TaskID       string
}

// QueryResult is the outcome of one parallel dispatch to the model pool.
// Failed holds the model IDs that errored or missed the per-round deadline;
// they contribute no action to the round but do not abort it.
type QueryResult struct {
	Successful  []ModelReply
	Failed      []string
	Accumulator Accumulator
}

// ModelQueryFn is the pluggable model-provider client (§1, §6). It is
// always invoked with the accounting (accumulator-threading) contract: the
// Controller never discards the returned accumulator.
type ModelQueryFn func(ctx context.Context, messages []Message, modelIDs []string, opts QueryOptions) (QueryResult, error)

// EmbeddingFn is the pluggable embedding client (§1, §6) used for
// semantic-similarity matching and merging. It always threads the cost
// accumulator: callers that do not care about cost accounting can wrap it
// and discard the returned accumulator, but the core itself never does.
type EmbeddingFn func(ctx context.Context, text string, acc Accumulator) (vector []float64, nextAcc Accumulator, err error)

// CostStore is the narrow persistence seam for accumulated cost entries
// (§1, §6). Implementations own durability; a flush failure must never
// propagate into the consensus result (§4.8, §7).
type CostStore interface {
	InsertCostEntries(ctx context.Context, entries []CostEntry) error
}

// CostEventPublisher publishes one event per flushed cost entry to a named
// topic (§6). Implementations must not block the flush on broadcast
// failure (§5).
type CostEventPublisher interface {
	Publish(topic string, event CostEvent)
}

// CostEvent is the wire shape of a published cost-flush event (§6).
type CostEvent struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	TaskID    string    `json:"task_id"`
	CostType  CostType  `json:"cost_type"`
	CostUSD   *float64  `json:"cost_usd"`
	ModelSpec string    `json:"model_spec"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskCostsTopic returns the per-task pub/sub topic for cost events (§6).
func TaskCostsTopic(taskID string) string {
	return "tasks:" + taskID + ":costs"
}

// AgentCostsTopic returns the per-agent pub/sub topic for cost events (§6).
func AgentCostsTopic(agentID string) string {
	return "agents:" + agentID + ":costs"
}
