package reason

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"remem/internal/budget"
	"remem/internal/llm"
	"remem/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newLatencyCompleter builds a fake whose think calls each burn one of the
// given latencies and whose evaluate calls score the solution text they see.
// Identity travels in the solution marker so evaluation stays order-free.
func newLatencyCompleter(latencies []time.Duration, scores []float64) *fakeCompleter {
	f := &fakeCompleter{}
	var thinks atomic.Int64
	f.handler = func(ctx context.Context, req *llm.Request, call int) (*llm.Response, error) {
		content := req.Messages[0].Content
		if req.Temperature == 0 {
			var idx int
			fmt.Sscanf(lastLine(content), "candidate-%d", &idx)
			return &llm.Response{
				Text:             fmt.Sprintf(`{"score": %v, "feedback": "fb"}`, scores[idx]),
				PromptTokens:     5,
				CompletionTokens: 5,
			}, nil
		}
		idx := int(thinks.Add(1)-1) % len(latencies)
		select {
		case <-time.After(latencies[idx]):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &llm.Response{
			Text:             fmt.Sprintf("candidate-%d", idx),
			PromptTokens:     5,
			CompletionTokens: 5,
		}, nil
	}
	return f
}

func lastLine(s string) string {
	lines := []byte(s)
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i] == '\n' {
			return s[i+1:]
		}
	}
	return s
}

func TestOrchestrateParallelWallTime(t *testing.T) {
	latencies := []time.Duration{100 * time.Millisecond, 140 * time.Millisecond, 120 * time.Millisecond}
	f := newLatencyCompleter(latencies, []float64{0.5, 0.8, 0.6})
	c := testController(f)

	start := time.Now()
	res, err := c.Orchestrate(context.Background(), "task", "", budget.NewAccounter(0), MattsOptions{
		K:    3,
		Mode: "parallel",
		Run:  RunOptions{SuccessThreshold: 0.9},
	})
	wall := time.Since(start)

	require.NoError(t, err)
	require.NotNil(t, res.Best)
	assert.Equal(t, 3, res.Candidates)
	assert.Zero(t, res.Failures)
	// Parallel wall time tracks the slowest candidate, not the sum.
	assert.Less(t, wall, 300*time.Millisecond,
		"parallel fan-out should not serialize candidates")
	assert.InDelta(t, 0.8, res.Best.Score, 1e-9, "max score wins")
}

func TestOrchestrateMergesTrajectoriesInCandidateOrder(t *testing.T) {
	f := newLatencyCompleter(
		[]time.Duration{30 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond},
		[]float64{0.4, 0.5, 0.6},
	)
	c := testController(f)

	res, err := c.Orchestrate(context.Background(), "task", "", budget.NewAccounter(0), MattsOptions{
		K:    3,
		Mode: "parallel",
		Run:  RunOptions{SuccessThreshold: 0.9},
	})
	require.NoError(t, err)

	// Each candidate contributes think+evaluate; merged order is by
	// candidate id regardless of completion order.
	require.Len(t, res.Trajectory, 6)
	lastID := -1
	for _, step := range res.Trajectory {
		assert.GreaterOrEqual(t, step.CandidateID, lastID)
		lastID = step.CandidateID
	}
}

func TestOrchestrateSequential(t *testing.T) {
	f := newLatencyCompleter(
		[]time.Duration{10 * time.Millisecond, 10 * time.Millisecond},
		[]float64{0.3, 0.7},
	)
	c := testController(f)

	res, err := c.Orchestrate(context.Background(), "task", "", budget.NewAccounter(0), MattsOptions{
		K:    2,
		Mode: "sequential",
		Run:  RunOptions{SuccessThreshold: 0.9},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, res.Best.Score, 1e-9)
}

func TestOrchestrateDegradedMajorityFailure(t *testing.T) {
	f := &fakeCompleter{}
	f.handler = func(ctx context.Context, req *llm.Request, call int) (*llm.Response, error) {
		return nil, fmt.Errorf("endpoint down")
	}
	c := testController(f)

	_, err := c.Orchestrate(context.Background(), "task", "", budget.NewAccounter(0), MattsOptions{
		K:    3,
		Mode: "parallel",
		Run:  RunOptions{SuccessThreshold: 0.9},
	})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindMattsDegraded))
	// The candidate failure survives in the causal chain.
	assert.ErrorContains(t, err, "endpoint down")
}

func TestOrchestrateDegradedPreservesBudgetCause(t *testing.T) {
	f := &fakeCompleter{}
	f.handler = func(ctx context.Context, req *llm.Request, call int) (*llm.Response, error) {
		return &llm.Response{Text: "solution", PromptTokens: 10, CompletionTokens: 10}, nil
	}
	c := testController(f)

	// A one-token budget fails every candidate on its first charge; the
	// degraded error must still say why.
	_, err := c.Orchestrate(context.Background(), "task", "", budget.NewAccounter(1), MattsOptions{
		K:    2,
		Mode: "sequential",
		Run:  RunOptions{SuccessThreshold: 0.9},
	})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindMattsDegraded))
	assert.ErrorContains(t, err, string(types.KindTokenBudgetExceeded))
}

func TestOrchestrateMinorityFailureWarns(t *testing.T) {
	failFirst := true
	f := &fakeCompleter{}
	f.handler = func(ctx context.Context, req *llm.Request, call int) (*llm.Response, error) {
		if req.Temperature != 0 {
			if failFirst {
				failFirst = false
				return nil, fmt.Errorf("one bad candidate")
			}
			return &llm.Response{Text: "candidate-ok", PromptTokens: 5, CompletionTokens: 5}, nil
		}
		return &llm.Response{Text: `{"score": 0.6, "feedback": "fb"}`, PromptTokens: 5, CompletionTokens: 5}, nil
	}
	c := testController(f)

	res, err := c.Orchestrate(context.Background(), "task", "", budget.NewAccounter(0), MattsOptions{
		K:    3,
		Mode: "sequential",
		Run:  RunOptions{SuccessThreshold: 0.9},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failures)
	assert.True(t, res.Degraded, "surviving result flagged after partial failure")
	require.NotNil(t, res.Best)
}

func TestOrchestrateTieBreakByTokens(t *testing.T) {
	// Both candidates score 0.5; the cheaper one wins.
	f := &fakeCompleter{}
	f.handler = func(ctx context.Context, req *llm.Request, call int) (*llm.Response, error) {
		if req.Temperature == 0 {
			return &llm.Response{Text: `{"score": 0.5, "feedback": "fb"}`, PromptTokens: 2, CompletionTokens: 2}, nil
		}
		tokens := 50
		if call > 0 {
			tokens = 5
		}
		return &llm.Response{
			Text:             fmt.Sprintf("solution-%d", call),
			PromptTokens:     tokens,
			CompletionTokens: 0,
		}, nil
	}
	c := testController(f)

	res, err := c.Orchestrate(context.Background(), "task", "", budget.NewAccounter(0), MattsOptions{
		K:    2,
		Mode: "sequential",
		Run:  RunOptions{SuccessThreshold: 0.9},
	})
	require.NoError(t, err)
	assert.Equal(t, "solution-2", res.Best.Solution, "lower token count wins the tie")
}

func TestOrchestrateRefineBestKeepsStrictImprovement(t *testing.T) {
	phase := 0
	f := &fakeCompleter{}
	f.handler = func(ctx context.Context, req *llm.Request, call int) (*llm.Response, error) {
		if req.Temperature == 0 {
			phase++
			if phase <= 2 {
				return &llm.Response{Text: `{"score": 0.5, "feedback": "improve x"}`}, nil
			}
			return &llm.Response{Text: `{"score": 0.85, "feedback": "better"}`}, nil
		}
		return &llm.Response{Text: fmt.Sprintf("attempt-%d", call)}, nil
	}
	c := testController(f)

	res, err := c.Orchestrate(context.Background(), "task", "", budget.NewAccounter(0), MattsOptions{
		K:          2,
		Mode:       "sequential",
		RefineBest: true,
		Run:        RunOptions{SuccessThreshold: 0.9},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.85, res.Best.Score, 1e-9, "refined output kept on strict improvement")

	refines := 0
	for _, step := range res.Trajectory {
		if step.Kind == types.StepRefine {
			refines++
		}
	}
	assert.Equal(t, 1, refines, "exactly one refinement pass")
}

func TestOrchestrateClampsK(t *testing.T) {
	f := newLatencyCompleter([]time.Duration{time.Millisecond}, []float64{0.95})
	c := testController(f)

	res, err := c.Orchestrate(context.Background(), "task", "", budget.NewAccounter(0), MattsOptions{
		K:    1, // below the valid range; clamped up to 2
		Mode: "sequential",
		Run:  RunOptions{SuccessThreshold: 0.9},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Candidates)
}
