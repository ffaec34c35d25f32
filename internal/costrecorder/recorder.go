// Package costrecorder implements C9: flushing an accumulated run's cost
// entries to the cost store and publishing one event per entry on the
// per-task and per-agent topics (§4.8, §6).
package costrecorder

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/quorumcore/consensus-core/internal/core"
)

// Flush writes every entry in acc to store (if non-nil) and publishes one
// event per entry to both core.TaskCostsTopic and core.AgentCostsTopic on
// pub (if non-nil). Entries missing an ID are assigned one. Flush is
// best-effort: it logs failures and returns a store failure to the caller
// (a publisher panic is recovered and only logged), but the Round Controller must never let a returned error mask the consensus
// result (§4.8, §7) — a broadcast failure must not roll back the store
// insert, and a store failure must not block publication.
func Flush(ctx context.Context, store core.CostStore, pub core.CostEventPublisher, acc core.Accumulator, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	entries := acc.ToList()
	if len(entries) == 0 {
		return nil
	}

	for i, e := range entries {
		if e.ID == "" {
			entries[i].ID = uuid.NewString()
		}
	}

	var storeErr error
	if store != nil {
		if err := store.InsertCostEntries(ctx, entries); err != nil {
			logger.Error("cost store flush failed", "error", err, "count", len(entries))
			storeErr = err
		}
	}

	if pub != nil {
		for _, e := range entries {
			event := core.CostEvent{
				ID:        e.ID,
				AgentID:   e.AgentID,
				TaskID:    e.TaskID,
				CostType:  e.CostType,
				CostUSD:   e.CostUSD,
				ModelSpec: modelSpec(e),
				Timestamp: e.Timestamp,
			}
			publishSafely(pub, core.TaskCostsTopic(e.TaskID), event, logger)
			publishSafely(pub, core.AgentCostsTopic(e.AgentID), event, logger)
		}
	}

	return storeErr
}

func modelSpec(e core.CostEntry) string {
	if e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata["model"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func publishSafely(pub core.CostEventPublisher, topic string, event core.CostEvent, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("cost event publish panicked", "topic", topic, "recovered", r)
		}
	}()
	pub.Publish(topic, event)
}
