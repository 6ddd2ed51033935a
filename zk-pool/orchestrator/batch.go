package orchestrator

import (
	"context"
	"time"

	"github.com/kysee/zkpool/zk-pool/retry"
	"golang.org/x/sync/errgroup"
)

type BatchConfig struct {
	// ProofDelay separates consecutive proof generations.
	ProofDelay time.Duration
	// ConfirmConcurrency bounds confirmations in flight. Zero means one.
	ConfirmConcurrency int
}

type BatchResult struct {
	Items     []*WithdrawResult
	Succeeded int
	Pending   int
	Failed    int
}

// WithdrawBatch withdraws every request. Proofs are generated and submitted
// strictly one at a time with cfg.ProofDelay between items; confirmations
// run on their own pool of cfg.ConfirmConcurrency workers. A failed item is
// recorded in its result and never stops the others. Progress may be called
// from several goroutines.
func (w *Withdrawer) WithdrawBatch(ctx context.Context, reqs []WithdrawRequest, cfg BatchConfig) *BatchResult {
	results := make([]*WithdrawResult, len(reqs))
	workers := cfg.ConfirmConcurrency
	if workers < 1 {
		workers = 1
	}

	submitted := make(chan int, len(reqs))
	var g errgroup.Group
	for k := 0; k < workers; k++ {
		g.Go(func() error {
			for i := range submitted {
				if err := w.settle(ctx, reqs[i].Note, results[i]); err != nil && results[i].Err == nil {
					results[i].Err = err
				}
			}
			return nil
		})
	}

	for i, req := range reqs {
		if i > 0 && cfg.ProofDelay > 0 {
			if err := retry.Sleep(ctx, cfg.ProofDelay); err != nil {
				break
			}
		}
		res, err := w.submit(ctx, req)
		results[i] = res
		if err != nil {
			w.Logger.Warn().Err(err).Int("item", i).Msg("batch item failed")
			continue
		}
		if res.Outcome == "" {
			submitted <- i
		}
	}
	close(submitted)
	_ = g.Wait()

	out := &BatchResult{Items: results}
	for i, res := range results {
		if res == nil {
			res = &WithdrawResult{Outcome: OutcomeFailed, Err: ctx.Err()}
			if reqs[i].Note != nil && reqs[i].Note.Commitment != nil {
				res.Commitment = reqs[i].Note.CommitmentHex()
			}
			results[i] = res
		}
		switch res.Outcome {
		case OutcomeSpent, OutcomeAlreadySpent:
			out.Succeeded++
		case OutcomePending:
			out.Pending++
		default:
			out.Failed++
		}
	}
	return out
}
