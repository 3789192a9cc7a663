// Package judge scores final solutions with an LLM and extracts structured
// learnings suitable for storage as memories.
package judge

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"remem/internal/llm"
	"remem/internal/logging"
	"remem/internal/memory"
	"remem/internal/types"
)

// Verdict is the judge's assessment of one solution.
type Verdict struct {
	Verdict   types.Outcome
	Score     float64
	Reasoning string
	Learnings []*types.Memory
	// Tokens spent on the judge call(s).
	Tokens int
}

// Judge wraps the completion client with the judging prompt and parser.
type Judge struct {
	client llm.Completer

	droppedLearnings atomic.Int64
}

// New builds a judge over the given completion client.
func New(client llm.Completer) *Judge {
	return &Judge{client: client}
}

// DroppedLearnings returns how many invalid learnings were dropped since
// startup.
func (j *Judge) DroppedLearnings() int64 { return j.droppedLearnings.Load() }

const judgeSystemPrompt = `You are a strict evaluator of task solutions. Respond with a single JSON object:
{
  "verdict": "success" | "failure" | "partial",
  "score": <float 0.0-1.0>,
  "reasoning": "<one paragraph>",
  "learnings": [
    {
      "title": "<short name of the reusable pattern>",
      "description": "<when this pattern applies>",
      "content": "<the pattern itself, concrete enough to reapply>",
      "pattern_tags": ["<tag>", ...],
      "difficulty": "simple" | "moderate" | "complex",
      "domain": "<subject area>"
    }
  ],
  "error_context": {
    "error_type": "<short classifier>",
    "failure_pattern": "<what went wrong>",
    "corrective_guidance": "<how to avoid it>"
  }
}
Suggested pattern_tags: decomposition, iteration, recursion, caching, validation, error_handling. Other tags are allowed.
Include "error_context" only when verdict is "failure". Emit at most 3 learnings. No text outside the JSON object.`

const judgeStrictRetry = `Your previous reply was not valid JSON. Respond again with ONLY the JSON object described, no code fences, no commentary.`

// Judge evaluates a solution. The LLM is asked for a structured payload;
// one stricter retry is attempted on a parse failure, after which the
// verdict degrades to partial with the best known score.
func (j *Judge) Judge(ctx context.Context, task, solution string, bestScore float64) (*Verdict, error) {
	timer := logging.StartTimer(logging.CategoryJudge, "Judge")
	defer timer.Stop()

	messages := []llm.Message{
		{Role: "system", Content: judgeSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Task:\n%s\n\nFinal solution:\n%s", task, solution)},
	}

	var tokens int
	for attempt := 1; attempt <= 2; attempt++ {
		resp, err := j.client.Complete(ctx, &llm.Request{
			Messages:    messages,
			Temperature: 0,
		})
		if err != nil {
			return nil, err
		}
		tokens += resp.TotalTokens()

		v, perr := j.parse(resp.Text)
		if perr == nil {
			v.Tokens = tokens
			logging.Judge("Verdict %s (score %.2f, %d learnings)",
				v.Verdict, v.Score, len(v.Learnings))
			return v, nil
		}

		logging.Get(logging.CategoryJudge).Warn("Parse attempt %d failed: %v", attempt, perr)
		if attempt == 1 {
			messages = append(messages,
				llm.Message{Role: "assistant", Content: resp.Text},
				llm.Message{Role: "user", Content: judgeStrictRetry},
			)
		}
	}

	// Two parse failures: degrade rather than fail the request.
	logging.Judge("Judge output unparseable twice; degrading to partial")
	return &Verdict{
		Verdict:   types.OutcomePartial,
		Score:     bestScore,
		Reasoning: "judge response could not be parsed",
		Tokens:    tokens,
	}, nil
}

type judgePayload struct {
	Verdict   string             `json:"verdict"`
	Score     float64            `json:"score"`
	Reasoning string             `json:"reasoning"`
	Learnings []learningPayload  `json:"learnings"`
	ErrorCtx  *types.ErrorContext `json:"error_context"`
}

type learningPayload struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	PatternTags []string `json:"pattern_tags"`
	Difficulty  string   `json:"difficulty"`
	Domain      string   `json:"domain"`
}

// parse converts the model's reply into a Verdict, validating learnings
// against the memory required-field invariant. Invalid learnings are
// dropped with a counter increment.
func (j *Judge) parse(text string) (*Verdict, error) {
	var payload judgePayload
	if err := unmarshalLenient(text, &payload); err != nil {
		return nil, err
	}

	verdict := types.Outcome(strings.ToLower(strings.TrimSpace(payload.Verdict)))
	switch verdict {
	case types.OutcomeSuccess, types.OutcomeFailure, types.OutcomePartial:
	default:
		return nil, types.NewError(types.KindJsonParse, "unknown verdict %q", payload.Verdict)
	}

	score := payload.Score
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	v := &Verdict{Verdict: verdict, Score: score, Reasoning: payload.Reasoning}
	for _, l := range payload.Learnings {
		m := &types.Memory{
			Title:       l.Title,
			Description: l.Description,
			Content:     l.Content,
			PatternTags: l.PatternTags,
			Difficulty:  types.Difficulty(l.Difficulty),
			Domain:      l.Domain,
			Outcome:     verdict,
			// WorkspaceID is stamped at store time; use a placeholder so
			// validation checks the judge-controlled fields.
			WorkspaceID: "pending",
		}
		if verdict == types.OutcomeFailure && payload.ErrorCtx != nil {
			m.ErrorContext = payload.ErrorCtx
		}
		if err := memory.ValidateMemory(m); err != nil {
			j.droppedLearnings.Add(1)
			logging.Judge("Dropping invalid learning: %v", err)
			continue
		}
		m.WorkspaceID = ""
		v.Learnings = append(v.Learnings, m)
	}
	return v, nil
}
