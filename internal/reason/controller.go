// Package reason implements the iterative Think/Evaluate/Refine controller
// and the MaTTS orchestrator that fans it out into parallel candidates.
package reason

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"remem/internal/budget"
	"remem/internal/config"
	"remem/internal/llm"
	"remem/internal/logging"
	"remem/internal/types"
)

// Attempt is the outcome of one controller run (or one MaTTS candidate).
type Attempt struct {
	Solution         string
	Score            float64
	Feedback         string
	Trajectory       []types.TrajectoryStep
	Iterations       int
	EarlyTermination bool
	LoopDetected     bool
	Tokens           int
	CompletedAt      time.Time
}

// Controller drives the Think -> Evaluate -> Refine state machine.
type Controller struct {
	client llm.Completer
	cfg    config.ReasonConfig
}

// NewController wires a controller over the completion client.
func NewController(client llm.Completer, cfg config.ReasonConfig) *Controller {
	return &Controller{client: client, cfg: cfg}
}

const thinkTemperature = 0.7

// RunOptions tune one controller run.
type RunOptions struct {
	MaxIterations    int
	SuccessThreshold float64
	Model            string
	ReasoningEffort  string
	// CandidateID tags trajectory steps when running under MaTTS; -1 for
	// a standalone run.
	CandidateID int
}

func (c *Controller) applyDefaults(o *RunOptions) {
	if o.MaxIterations <= 0 {
		o.MaxIterations = c.cfg.MaxIterations
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = c.cfg.SuccessThreshold
	}
}

// Run executes the loop: THINK, then EVALUATE; below-threshold scores go
// through REFINE and a re-EVALUATE within the same iteration. Terminates
// on score >= threshold, iteration limit, loop detection, or a blown token
// budget.
func (c *Controller) Run(ctx context.Context, task, memoryBlock string, acct *budget.Accounter, opts RunOptions) (*Attempt, error) {
	timer := logging.StartTimer(logging.CategoryReason, "Run")
	defer timer.Stop()

	c.applyDefaults(&opts)

	att := &Attempt{}
	detector := newLoopDetector()

	solution, err := c.step(ctx, att, acct, opts, types.StepThink, c.thinkPrompt(task, memoryBlock, ""), 1)
	if err != nil {
		return att, err
	}
	detector.Observe(types.StepThink, solution)
	att.Solution = solution

	for iter := 1; iter <= opts.MaxIterations; iter++ {
		att.Iterations = iter

		score, feedback, err := c.evaluate(ctx, att, acct, opts, task, att.Solution, iter)
		if err != nil {
			return att, err
		}
		if score > att.Score {
			att.Score = score
			att.Feedback = feedback
		}

		if score >= opts.SuccessThreshold {
			att.EarlyTermination = iter < opts.MaxIterations
			break
		}
		if iter == opts.MaxIterations {
			break
		}

		refined, err := c.step(ctx, att, acct, opts, types.StepRefine,
			c.refinePrompt(task, att.Solution, feedback), iter+1)
		if err != nil {
			return att, err
		}
		if detector.Observe(types.StepRefine, refined) {
			logging.Reason("Loop detected at iteration %d, terminating", iter)
			att.LoopDetected = true
			break
		}
		att.Solution = refined
	}

	att.CompletedAt = time.Now()
	logging.Reason("Run finished: score=%.2f iterations=%d early=%v loop=%v tokens=%d",
		att.Score, att.Iterations, att.EarlyTermination, att.LoopDetected, att.Tokens)
	return att, nil
}

// step performs one think or refine call and records the trajectory step.
func (c *Controller) step(ctx context.Context, att *Attempt, acct *budget.Accounter, opts RunOptions, kind types.StepKind, prompt string, iteration int) (string, error) {
	prompt = budget.Compress(prompt, c.cfg.MaxPromptTokens)

	resp, err := c.client.Complete(ctx, &llm.Request{
		Model:           opts.Model,
		Messages:        []llm.Message{{Role: "user", Content: prompt}},
		Temperature:     thinkTemperature,
		ReasoningEffort: opts.ReasoningEffort,
	})
	if err != nil {
		return "", err
	}
	att.Tokens += resp.TotalTokens()
	att.Trajectory = append(att.Trajectory, types.TrajectoryStep{
		Iteration:   iteration,
		Kind:        kind,
		Content:     resp.Text,
		Timestamp:   time.Now().UTC(),
		Tokens:      resp.TotalTokens(),
		CandidateID: opts.CandidateID,
	})
	if err := acct.Charge(resp.TotalTokens()); err != nil {
		return "", err
	}
	return resp.Text, nil
}

type evalPayload struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// evaluate scores the current solution. The evaluator runs deterministic
// (temperature 0) so identical solutions hit the response cache.
func (c *Controller) evaluate(ctx context.Context, att *Attempt, acct *budget.Accounter, opts RunOptions, task, solution string, iteration int) (float64, string, error) {
	prompt := budget.Compress(c.evaluatePrompt(task, solution), c.cfg.MaxPromptTokens)

	resp, err := c.client.Complete(ctx, &llm.Request{
		Model:       opts.Model,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0,
	})
	if err != nil {
		return 0, "", err
	}
	att.Tokens += resp.TotalTokens()

	score, feedback := parseEval(resp.Text)
	att.Trajectory = append(att.Trajectory, types.TrajectoryStep{
		Iteration:   iteration,
		Kind:        types.StepEvaluate,
		Content:     solution,
		Score:       score,
		Feedback:    feedback,
		Timestamp:   time.Now().UTC(),
		Tokens:      resp.TotalTokens(),
		CandidateID: opts.CandidateID,
	})
	if err := acct.Charge(resp.TotalTokens()); err != nil {
		return score, feedback, err
	}
	return score, feedback, nil
}

// parseEval extracts {score, feedback} from evaluator output. Unparseable
// output degrades to a neutral 0.5 with the raw text as feedback rather
// than failing the request.
func parseEval(text string) (float64, string) {
	candidate := text
	if start := strings.Index(candidate, "{"); start >= 0 {
		if end := strings.LastIndex(candidate, "}"); end > start {
			candidate = candidate[start : end+1]
		}
	}
	var p evalPayload
	if err := json.Unmarshal([]byte(candidate), &p); err != nil {
		logging.ReasonDebug("Evaluator output unparseable, using neutral score: %v", err)
		return 0.5, strings.TrimSpace(text)
	}
	if p.Score < 0 {
		p.Score = 0
	}
	if p.Score > 1 {
		p.Score = 1
	}
	return p.Score, p.Feedback
}

// =============================================================================
// PROMPTS
// =============================================================================

func (c *Controller) thinkPrompt(task, memoryBlock, feedback string) string {
	var b strings.Builder
	b.WriteString("Solve the following task. Be concrete and complete.\n\n")
	if memoryBlock != "" {
		b.WriteString(memoryBlock)
		b.WriteString("\nApply relevant patterns above and avoid the warned failure modes.\n\n")
	}
	if feedback != "" {
		fmt.Fprintf(&b, "Previous feedback to address:\n%s\n\n", feedback)
	}
	fmt.Fprintf(&b, "Task:\n%s", task)
	return b.String()
}

func (c *Controller) evaluatePrompt(task, solution string) string {
	return fmt.Sprintf(`Evaluate the solution against the task. Respond with only a JSON object:
{"score": <float 0.0-1.0>, "feedback": "<specific, actionable improvements>"}

Task:
%s

Solution:
%s`, task, solution)
}

func (c *Controller) refinePrompt(task, solution, feedback string) string {
	return fmt.Sprintf(`Revise the solution to address the feedback. Return only the improved solution.

Task:
%s

Current solution:
%s

Feedback:
%s`, task, solution, feedback)
}
