package consensus

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/quorumcore/consensus-core/internal/core"
	"github.com/quorumcore/consensus-core/internal/costrecorder"
)

// Status is the terminal state of a consensus run (§4.8).
type Status string

const (
	StatusConsensus      Status = "consensus"
	StatusForcedDecision Status = "forced_decision"
)

// RoundConfig bounds and tunes a single run of the Round Controller.
// AdaptiveThresholds, TaskType, StagnationThreshold, and MinReplyBytes are
// the supplemented, off-by-default features from SPEC_FULL.md §12; with
// all of them at their zero value the Controller's behavior is exactly
// §4.7/§4.8's base rule set.
type RoundConfig struct {
	MaxRounds int

	// AdaptiveThresholds maps a task-type label to a majority-threshold
	// shift (added to the 0.5 baseline) for rounds >= 2. Nil/empty
	// disables the adjustment entirely.
	AdaptiveThresholds map[string]float64
	TaskType           string

	// StagnationThreshold, when > 0, forces an early decision (still never
	// later than MaxRounds) after this many consecutive non-improving
	// rounds with the same leading fingerprint.
	StagnationThreshold float64

	// MinReplyBytes, when > 0, rejects replies shorter than this as a
	// parse failure before even attempting extraction.
	MinReplyBytes int
}

// RunInput bundles everything one consensus run needs.
type RunInput struct {
	Messages []core.Message
	ModelIDs []string
	AgentID  string
	TaskID   string

	Query core.ModelQueryFn
	Embed core.EmbeddingFn

	CostStore core.CostStore
	Publisher core.CostEventPublisher

	BugReport func(string)

	Config RoundConfig
	Logger *slog.Logger

	// Now defaults to time.Now when nil; overridable for deterministic
	// tests of RoundContext.StartedAt.
	Now func() time.Time
}

// Result is the §6 consensus-result shape.
type Result struct {
	Status      Status
	Action      core.Action
	Confidence  float64
	Accumulator core.Accumulator
}

// Run drives the full Initial -> Querying -> Parsing -> Clustering ->
// Deciding -> {Refining | Emitting} state machine (§4.8).
func Run(ctx context.Context, in RunInput) (Result, error) {
	logger := in.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := in.Now
	if now == nil {
		now = time.Now
	}

	maxRounds := in.Config.MaxRounds
	if maxRounds <= 0 {
		maxRounds = core.DefaultMaxRounds
	}
	if len(in.ModelIDs) == 0 {
		return Result{}, core.ErrValidation(core.CodeNoModelsConfigured, "no models configured")
	}

	rc := core.NewRoundContext("", maxRounds, now())
	if len(in.Messages) > 0 {
		rc.TaskPrompt = in.Messages[0].Content
	}

	messages := append([]core.Message{}, in.Messages...)
	acc := core.NewAccumulator()

	var prevClusters []core.Cluster
	var prevNTotal int
	var stagnationCount int
	var lastTopFingerprint *core.Fingerprint
	var lastTopShare float64

	for r := 1; r <= maxRounds; r++ {
		temps := TemperaturesForModels(in.ModelIDs, r, maxRounds)
		qres, qerr := in.Query(ctx, messages, in.ModelIDs, core.QueryOptions{
			Round:        r,
			Temperatures: temps,
			Accumulator:  acc,
			AgentID:      in.AgentID,
			TaskID:       in.TaskID,
		})
		if qerr == nil {
			acc = qres.Accumulator
		}

		if qerr != nil || len(qres.Successful) == 0 {
			logger.Warn("all models failed this round", "round", r)
			return fallbackOnTotalFailure(ctx, in, prevClusters, prevNTotal, r, maxRounds, acc, logger)
		}

		replies := sortByModelPoolPosition(qres.Successful, in.ModelIDs)

		var parsed []core.Action
		var records []core.ResponseRecord
		for _, reply := range replies {
			if in.Config.MinReplyBytes > 0 && len(reply.Reply) < in.Config.MinReplyBytes {
				logger.Debug("dropping degenerate reply", "model", reply.ModelID, "round", r)
				continue
			}
			action, perr := ParseReply(reply.Reply, in.BugReport)
			if perr != nil {
				logger.Debug("dropping unparsable reply", "model", reply.ModelID, "round", r, "error", perr)
				continue
			}
			parsed = append(parsed, action)
			records = append(records, core.ResponseRecord{Action: action.Type, Params: action.Params, Reasoning: action.Reasoning})
		}

		rc = rc.WithRound(r, parsed, records)

		if len(parsed) == 0 {
			logger.Warn("no parsable actions this round", "round", r)
			return fallbackOnTotalFailure(ctx, in, prevClusters, prevNTotal, r, maxRounds, acc, logger)
		}

		nTotal := len(parsed)
		clusters, nextAcc, cerr := ClusterActions(ctx, parsed, in.Embed, acc)
		if cerr != nil {
			return Result{}, cerr
		}
		acc = nextAcc
		prevClusters = clusters
		prevNTotal = nTotal

		majority, hasMajority := majorityWithConfig(clusters, nTotal, r, in.Config)
		if hasMajority {
			merged, nextAcc2, merr := MergeCluster(ctx, majority, in.Embed, acc)
			if merr == nil {
				acc = nextAcc2
				merged = ensureWaitDefault(merged)
				confidence := computeConfidence(majority.Count(), nTotal, r, maxRounds)
				acc = flushBestEffort(ctx, in, acc, logger)
				return Result{Status: StatusConsensus, Action: merged, Confidence: confidence, Accumulator: acc}, nil
			}
			logger.Warn("merge of majority cluster failed, falling back to tie-breaker", "round", r, "error", merr)
			merged, winner, nextAcc3, berr := bestMergeableCluster(ctx, clusters, in.Embed, acc)
			if berr != nil {
				return Result{}, berr
			}
			acc = nextAcc3
			merged = ensureWaitDefault(merged)
			confidence := computeConfidence(winner.Count(), nTotal, r, maxRounds)
			acc = flushBestEffort(ctx, in, acc, logger)
			return Result{Status: StatusForcedDecision, Action: merged, Confidence: confidence, Accumulator: acc}, nil
		}

		forceNow := r >= maxRounds
		if in.Config.StagnationThreshold > 0 {
			top := topClusterByCount(clusters)
			share := float64(top.Count()) / float64(nTotal)
			if lastTopFingerprint != nil && fingerprintsEqual(*lastTopFingerprint, top.Fingerprint) && share <= lastTopShare {
				stagnationCount++
			} else {
				stagnationCount = 0
			}
			fp := top.Fingerprint
			lastTopFingerprint = &fp
			lastTopShare = share
			if float64(stagnationCount) >= in.Config.StagnationThreshold {
				logger.Warn("stagnation detected, forcing decision early", "round", r)
				forceNow = true
			}
		}

		if forceNow {
			merged, winner, nextAcc3, berr := bestMergeableCluster(ctx, clusters, in.Embed, acc)
			if berr != nil {
				return Result{}, berr
			}
			acc = nextAcc3
			merged = ensureWaitDefault(merged)
			confidence := computeConfidence(winner.Count(), nTotal, r, maxRounds)
			acc = flushBestEffort(ctx, in, acc, logger)
			return Result{Status: StatusForcedDecision, Action: merged, Confidence: confidence, Accumulator: acc}, nil
		}

		refinementPrompt := BuildRefinementPrompt(parsed, r, rc)
		rc = rc.WithHistory(refinementPrompt)
		messages = append(messages, core.Message{Role: "user", Content: refinementPrompt})
	}

	// Unreachable: the r >= maxRounds branch above always returns before
	// the loop would exit by exhaustion.
	return Result{}, core.ErrInternal("ROUND_LOOP_EXHAUSTED", "round loop exited without emitting a result")
}

func fallbackOnTotalFailure(ctx context.Context, in RunInput, prevClusters []core.Cluster, prevNTotal int, round int, maxRounds int, acc core.Accumulator, logger *slog.Logger) (Result, error) {
	if len(prevClusters) == 0 {
		return Result{}, core.ErrExecution(core.CodeAllModelsFailed, "all models failed and no prior round clusters exist to fall back to")
	}
	merged, winner, nextAcc, err := bestMergeableCluster(ctx, prevClusters, in.Embed, acc)
	if err != nil {
		return Result{}, core.ErrExecution(core.CodeAllModelsFailed, "all models failed and the fallback tie-break could not be merged").WithCause(err)
	}
	merged = ensureWaitDefault(merged)
	confidence := computeConfidence(winner.Count(), prevNTotal, round, maxRounds)
	nextAcc = flushBestEffort(ctx, in, nextAcc, logger)
	return Result{Status: StatusForcedDecision, Action: merged, Confidence: confidence, Accumulator: nextAcc}, nil
}

// majorityWithConfig applies the base §4.7 rule, optionally shifted by the
// supplemented adaptive-threshold feature for rounds >= 2 (SPEC_FULL.md
// §12). With no AdaptiveThresholds configured this is exactly
// MajorityCluster.
func majorityWithConfig(clusters []core.Cluster, nTotal int, round int, cfg RoundConfig) (core.Cluster, bool) {
	if round <= 1 || len(cfg.AdaptiveThresholds) == 0 {
		return MajorityCluster(clusters, nTotal, round)
	}
	shift, ok := cfg.AdaptiveThresholds[cfg.TaskType]
	if !ok || shift == 0 {
		return MajorityCluster(clusters, nTotal, round)
	}
	threshold := 0.5 + shift
	for _, c := range clusters {
		if float64(c.Count())/float64(nTotal) > threshold {
			return c, true
		}
	}
	return core.Cluster{}, false
}

func topClusterByCount(clusters []core.Cluster) core.Cluster {
	best := clusters[0]
	for _, c := range clusters[1:] {
		if c.Count() > best.Count() {
			best = c
		}
	}
	return best
}

// bestMergeableCluster tries clusters in tie-break order, returning the
// first one that merges successfully (§7: a merge failure on the winning
// cluster falls back to the next-best cluster under the tie-breaker).
func bestMergeableCluster(ctx context.Context, clusters []core.Cluster, embed core.EmbeddingFn, acc core.Accumulator) (core.Action, core.Cluster, core.Accumulator, error) {
	ordered := append([]core.Cluster{}, clusters...)
	sort.SliceStable(ordered, func(i, j int) bool { return CompareClusters(ordered[i], ordered[j]) < 0 })

	var lastErr error
	for _, c := range ordered {
		merged, nextAcc, err := MergeCluster(ctx, c, embed, acc)
		if err != nil {
			lastErr = err
			continue
		}
		return merged, c, nextAcc, nil
	}
	if lastErr == nil {
		lastErr = core.ErrValidation(core.CodeEmptyClusterList, "no clusters available to merge")
	}
	return core.Action{}, core.Cluster{}, acc, lastErr
}

// computeConfidence implements §4.8's formula. Every call site, including
// the all-models-failed fallback, passes the configured maxRounds, so the
// legacy hard-coded-default bug (§9 open question 1) is not reproduced.
func computeConfidence(winningCount, nTotal, round, maxRounds int) float64 {
	base := float64(winningCount) / float64(nTotal)
	bonus := 0.0
	if base > 0.6 {
		bonus = 0.10
	}
	penalty := 0.0
	if round > maxRounds {
		penalty = float64(round-maxRounds) * 0.10
	}
	conf := base + bonus - penalty
	if conf < 0.1 {
		conf = 0.1
	}
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}

// ensureWaitDefault guarantees the emitted action carries a wait field,
// defaulting to false so the external agent loop never stalls (§4.8).
func ensureWaitDefault(a core.Action) core.Action {
	if core.WaitIsAbsent(a.Wait) {
		a.Wait = false
	}
	return a
}

// sortByModelPoolPosition orders successful replies by their position in
// the dispatched model pool, so clustering observes a deterministic order
// regardless of reply arrival order (§5).
func sortByModelPoolPosition(replies []core.ModelReply, pool []string) []core.ModelReply {
	position := make(map[string]int, len(pool))
	for i, id := range pool {
		position[id] = i
	}
	out := append([]core.ModelReply{}, replies...)
	sort.SliceStable(out, func(i, j int) bool { return position[out[i].ModelID] < position[out[j].ModelID] })
	return out
}

// flushBestEffort flushes the accumulator through the Cost Recorder. A
// flush failure is logged and never propagated: it must never mask the
// consensus result (§4.8, §7).
func flushBestEffort(ctx context.Context, in RunInput, acc core.Accumulator, logger *slog.Logger) core.Accumulator {
	if err := costrecorder.Flush(ctx, in.CostStore, in.Publisher, acc, logger); err != nil {
		logger.Error("cost flush failed, consensus result unaffected", "error", err)
	}
	return acc
}
