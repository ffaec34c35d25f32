package consensus

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quorumcore/consensus-core/internal/core"
)

// SingleModelQueryFn queries exactly one model in one round. It is the unit
// of work NewParallelModelQueryFn fans out over the model pool (§5, §9's
// "one submit per model" contract).
type SingleModelQueryFn func(ctx context.Context, messages []core.Message, modelID string, temperature float64, acc core.Accumulator) (reply string, nextAcc core.Accumulator, err error)

// DispatchConfig bounds the parallel dispatch (§5): a whole-round deadline
// and a per-model deadline. Zero means unbounded.
type DispatchConfig struct {
	RoundTimeout    time.Duration
	PerModelTimeout time.Duration
}

type modelOutcome struct {
	reply string
	acc   core.Accumulator
	err   error
}

// NewParallelModelQueryFn builds a core.ModelQueryFn that fans single out
// over modelIDs using golang.org/x/sync/errgroup, one goroutine per model
// (§5, §9). A single model's failure is captured into QueryResult.Failed,
// never propagated as the group's error, so it can never cancel its
// siblings. Each goroutine starts from the same base accumulator and
// returns its own extension of it; the results are merged back in
// model-pool order so the final accumulator is independent of arrival
// order (§5's "no ordering guarantee of arrival, deterministic downstream
// consumption order").
func NewParallelModelQueryFn(single SingleModelQueryFn, cfg DispatchConfig) core.ModelQueryFn {
	return func(ctx context.Context, messages []core.Message, modelIDs []string, opts core.QueryOptions) (core.QueryResult, error) {
		if len(modelIDs) == 0 {
			return core.QueryResult{}, core.ErrValidation(core.CodeNoModelsConfigured, "no models configured for this round")
		}

		roundCtx := ctx
		var cancel context.CancelFunc
		if cfg.RoundTimeout > 0 {
			roundCtx, cancel = context.WithTimeout(ctx, cfg.RoundTimeout)
			defer cancel()
		}

		g, gctx := errgroup.WithContext(roundCtx)
		results := make([]modelOutcome, len(modelIDs))
		var mu sync.Mutex

		for i, id := range modelIDs {
			i, id := i, id
			g.Go(func() error {
				callCtx := gctx
				var modelCancel context.CancelFunc
				if cfg.PerModelTimeout > 0 {
					callCtx, modelCancel = context.WithTimeout(gctx, cfg.PerModelTimeout)
					defer modelCancel()
				}

				temp := opts.Temperatures[id]
				reply, nextAcc, err := single(callCtx, messages, id, temp, opts.Accumulator)

				mu.Lock()
				results[i] = modelOutcome{reply: reply, acc: nextAcc, err: err}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		base := opts.Accumulator
		finalAcc := base
		var successful []core.ModelReply
		var failed []string

		for i, id := range modelIDs {
			r := results[i]
			produced := r.acc.ToList()
			if len(produced) > base.Count() {
				finalAcc = finalAcc.AddAll(produced[base.Count():])
			}
			if r.err != nil {
				failed = append(failed, id)
				continue
			}
			successful = append(successful, core.ModelReply{ModelID: id, Reply: r.reply})
		}

		return core.QueryResult{Successful: successful, Failed: failed, Accumulator: finalAcc}, nil
	}
}
