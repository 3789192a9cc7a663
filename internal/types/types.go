// Package types holds the shared domain model for the remem engine:
// memories, traces, trajectory steps, and the error kinds every subsystem
// reports through.
package types

import (
	"time"
)

// Outcome classifies how a reasoning attempt ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Difficulty is a coarse task classification attached to memories.
type Difficulty string

const (
	DifficultySimple   Difficulty = "simple"
	DifficultyModerate Difficulty = "moderate"
	DifficultyComplex  Difficulty = "complex"
)

// StepKind identifies a trajectory step within the reasoning loop.
type StepKind string

const (
	StepThink    StepKind = "think"
	StepEvaluate StepKind = "evaluate"
	StepRefine   StepKind = "refine"
	StepJudge    StepKind = "judge"
)

// ErrorContext describes a past failure attached to a memory. Its presence
// means "warn when surfacing" during retrieval.
type ErrorContext struct {
	ErrorType          string `json:"error_type"`
	FailurePattern     string `json:"failure_pattern"`
	CorrectiveGuidance string `json:"corrective_guidance,omitempty"`
}

// Memory is the atomic unit of learning. Immutable once stored; revisions
// are new memories linked through ParentID or DerivedFrom.
type Memory struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	Embedding   []float32 `json:"embedding,omitempty"`

	PatternTags []string   `json:"pattern_tags,omitempty"`
	Difficulty  Difficulty `json:"difficulty,omitempty"`
	Domain      string     `json:"domain,omitempty"`

	ErrorContext *ErrorContext `json:"error_context,omitempty"`

	ParentID       string   `json:"parent_id,omitempty"`
	DerivedFrom    []string `json:"derived_from,omitempty"`
	EvolutionStage int      `json:"evolution_stage"`

	WorkspaceID string    `json:"workspace_id"`
	TraceID     string    `json:"trace_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Outcome     Outcome   `json:"outcome,omitempty"`
}

// HasErrorContext reports whether this memory records a failure mode.
func (m *Memory) HasErrorContext() bool {
	return m.ErrorContext != nil && m.ErrorContext.ErrorType != ""
}

// TrajectoryStep is one recorded think/evaluate/refine/judge action.
type TrajectoryStep struct {
	Iteration int       `json:"iteration"`
	Kind      StepKind  `json:"kind"`
	Content   string    `json:"content"`
	Score     float64   `json:"score,omitempty"`
	Feedback  string    `json:"feedback,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Tokens    int       `json:"tokens"`
	// CandidateID tags steps produced by a MaTTS candidate; -1 for the
	// parent trajectory.
	CandidateID int `json:"candidate_id,omitempty"`
}

// TraceMetadata captures how a trace was produced.
type TraceMetadata struct {
	Model            string  `json:"model,omitempty"`
	ReasoningEffort  string  `json:"reasoning_effort,omitempty"`
	MattsEnabled     bool    `json:"matts_enabled,omitempty"`
	MattsK           int     `json:"matts_k,omitempty"`
	MattsMode        string  `json:"matts_mode,omitempty"`
	Iterations       int     `json:"iterations"`
	CumulativeTokens int     `json:"cumulative_tokens"`
	SuccessThreshold float64 `json:"success_threshold,omitempty"`
}

// Trace is one end-to-end reasoning attempt. Created at request entry,
// appended-to per step, sealed at store time. Never mutated thereafter.
type Trace struct {
	TraceID       string           `json:"trace_id"`
	WorkspaceID   string           `json:"workspace_id"`
	Task          string           `json:"task"`
	Trajectory    []TrajectoryStep `json:"trajectory"`
	Outcome       Outcome          `json:"outcome"`
	FinalScore    float64          `json:"final_score"`
	Metadata      TraceMetadata    `json:"metadata"`
	ParentTraceID string           `json:"parent_trace_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	MemoryItems   []*Memory        `json:"memory_items,omitempty"`
}

// RetrieveOptions control memory retrieval filtering.
type RetrieveOptions struct {
	IncludeErrors bool     `json:"include_errors"`
	Domain        string   `json:"domain,omitempty"`
	PatternTags   []string `json:"pattern_tags,omitempty"` // OR semantics
	MinScore      float64  `json:"min_score,omitempty"`
}

// DefaultRetrieveOptions includes error-context memories so failure modes
// surface as warnings.
func DefaultRetrieveOptions() RetrieveOptions {
	return RetrieveOptions{IncludeErrors: true}
}

// ScoredMemory annotates a retrieved memory with its composite score and
// the three component scores that produced it.
type ScoredMemory struct {
	Memory     *Memory `json:"memory"`
	Similarity float64 `json:"similarity"`
	Recency    float64 `json:"recency"`
	ErrorBoost float64 `json:"error_boost"`
	Composite  float64 `json:"composite"`
}

// Genealogy is the result of a genealogy traversal for one memory.
type Genealogy struct {
	MemoryID    string    `json:"memory_id"`
	Ancestors   []*Memory `json:"ancestors"`
	Descendants []*Memory `json:"descendants"`
	Chain       []*Memory `json:"chain"` // root → target
	Stage       int       `json:"stage"`
	IsRoot      bool      `json:"is_root"`
	IsLeaf      bool      `json:"is_leaf"`
}

// SolveResult is returned by the service facade for one solve request.
type SolveResult struct {
	TraceID            string  `json:"trace_id,omitempty"`
	Solution           string  `json:"solution"`
	Score              float64 `json:"score"`
	Verdict            Outcome `json:"verdict"`
	Iterations         int     `json:"iterations"`
	EarlyTermination   bool    `json:"early_termination"`
	LoopDetected       bool    `json:"loop_detected"`
	MemoriesUsed       int     `json:"memories_used"`
	TotalTokens        int     `json:"total_tokens"`
	JudgeReasoning     string  `json:"judge_reasoning,omitempty"`
	LearningsExtracted int     `json:"learnings_extracted"`
	Degraded           bool    `json:"degraded,omitempty"`
}
