package reason

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"remem/internal/budget"
	"remem/internal/logging"
	"remem/internal/types"
)

// Fan-out never exceeds this many in-flight candidates regardless of k.
const maxFanOut = 10

// MattsOptions tune one orchestrated run.
type MattsOptions struct {
	K          int
	Mode       string // "parallel" or "sequential"
	RefineBest bool
	Run        RunOptions
}

// MattsResult is the merged outcome of a k-candidate batch.
type MattsResult struct {
	Best *Attempt
	// Trajectory merges all candidate steps in candidate-id order,
	// followed by any refinement of the winner.
	Trajectory []types.TrajectoryStep
	Candidates int
	Failures   int
	// Degraded is set when some candidates failed but fewer than half.
	Degraded bool
	Tokens   int
}

type candidateOutcome struct {
	id      int
	attempt *Attempt
	err     error
}

// Orchestrate runs k independent single-iteration attempts and selects the
// best. Candidate errors are recorded without aborting the batch; the
// request only fails once at least half the candidates have failed.
func (c *Controller) Orchestrate(ctx context.Context, task, memoryBlock string, acct *budget.Accounter, opts MattsOptions) (*MattsResult, error) {
	timer := logging.StartTimer(logging.CategoryReason, "Orchestrate")
	defer timer.Stop()

	k := opts.K
	if k < 2 {
		k = 2
	}
	if k > maxFanOut {
		k = maxFanOut
	}

	// Candidates do one THINK+EVALUATE; refinement happens once, on the
	// winner, under the parent.
	candidateRun := opts.Run
	candidateRun.MaxIterations = 1

	outcomes := make([]candidateOutcome, k)

	if opts.Mode == "sequential" {
		for i := 0; i < k; i++ {
			run := candidateRun
			run.CandidateID = i
			att, err := c.Run(ctx, task, memoryBlock, acct, run)
			outcomes[i] = candidateOutcome{id: i, attempt: att, err: err}
		}
	} else {
		sem := semaphore.NewWeighted(int64(k))
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < k; i++ {
			i := i
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					outcomes[i] = candidateOutcome{id: i, err: err}
					return nil
				}
				defer sem.Release(1)
				run := candidateRun
				run.CandidateID = i
				att, err := c.Run(gctx, task, memoryBlock, acct, run)
				outcomes[i] = candidateOutcome{id: i, attempt: att, err: err}
				return nil
			})
		}
		// Workers never return errors; Wait is a pure join barrier.
		_ = g.Wait()
	}

	res := &MattsResult{Candidates: k}
	var survivors []candidateOutcome
	var cause error
	for _, o := range outcomes {
		if o.attempt != nil {
			res.Tokens += o.attempt.Tokens
		}
		if o.err != nil || o.attempt == nil || o.attempt.Solution == "" {
			res.Failures++
			if cause == nil && o.err != nil {
				cause = o.err
			}
			logging.Reason("MaTTS candidate %d failed: %v", o.id, o.err)
			continue
		}
		survivors = append(survivors, o)
	}

	// Deterministic merge in candidate-id order.
	for _, o := range outcomes {
		if o.attempt != nil {
			res.Trajectory = append(res.Trajectory, o.attempt.Trajectory...)
		}
	}

	// The first candidate error rides along so callers can distinguish a
	// blown budget from endpoint failures.
	if res.Failures >= (k+1)/2 {
		if cause != nil {
			return res, types.WrapError(types.KindMattsDegraded, cause,
				"%d of %d candidates failed", res.Failures, k)
		}
		return res, types.NewError(types.KindMattsDegraded,
			"%d of %d candidates failed", res.Failures, k)
	}
	res.Degraded = res.Failures > 0

	// Max score wins; ties go to fewer tokens, then earliest completion,
	// then lowest candidate id for full determinism.
	sort.SliceStable(survivors, func(i, j int) bool {
		a, b := survivors[i].attempt, survivors[j].attempt
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Tokens != b.Tokens {
			return a.Tokens < b.Tokens
		}
		if !a.CompletedAt.Equal(b.CompletedAt) {
			return a.CompletedAt.Before(b.CompletedAt)
		}
		return survivors[i].id < survivors[j].id
	})
	res.Best = survivors[0].attempt

	if opts.RefineBest && res.Best.Score < opts.Run.SuccessThreshold {
		c.refineBest(ctx, task, acct, opts, res)
	}

	logging.Reason("MaTTS selected candidate score=%.2f (failures=%d/%d)",
		res.Best.Score, res.Failures, k)
	return res, nil
}

// refineBest runs one refinement pass on the winner, keeping the refined
// output only when its re-evaluated score strictly improves.
func (c *Controller) refineBest(ctx context.Context, task string, acct *budget.Accounter, opts MattsOptions, res *MattsResult) {
	refined := &Attempt{Solution: res.Best.Solution, Score: res.Best.Score}
	run := opts.Run
	run.CandidateID = -1

	sol, err := c.step(ctx, refined, acct, run, types.StepRefine,
		c.refinePrompt(task, res.Best.Solution, res.Best.Feedback), res.Best.Iterations+1)
	if err != nil {
		logging.Reason("Refine-best pass failed, keeping original: %v", err)
		return
	}
	score, feedback, err := c.evaluate(ctx, refined, acct, run, task, sol, res.Best.Iterations+1)
	res.Tokens += refined.Tokens
	res.Trajectory = append(res.Trajectory, refined.Trajectory...)
	if err != nil {
		logging.Reason("Refine-best evaluation failed, keeping original: %v", err)
		return
	}
	if score > res.Best.Score {
		res.Best.Solution = sol
		res.Best.Score = score
		res.Best.Feedback = feedback
		res.Best.Tokens += refined.Tokens
		res.Best.CompletedAt = time.Now()
		logging.Reason("Refinement improved score to %.2f", score)
	}
}
